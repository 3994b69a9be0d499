// Package kvstore is the console's small local persistence layer: the alert
// history, the audio unlock flag and the refresh interval.
//
// Open returns a SQLite-backed store (modernc.org/sqlite, no cgo). When the
// file cannot be opened, callers fall back to NewMemory and keep running with
// defaults; a missing or corrupt value is never fatal.
package kvstore
