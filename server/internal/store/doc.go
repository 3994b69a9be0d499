// Package store is the Host Registry: the in-memory, single-writer record of
// every host the console has ever seen, with its rolling metric windows.
package store
