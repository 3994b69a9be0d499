// Package snapshot fetches the fleet snapshot from the inventory provider.
//
// Client.Fetch issues GET {backend}/api/hosts with a cache-busting query and
// decodes the body, a JSON object keyed by hostname, into store.Reports.
// Anything that prevents reading the snapshot as a whole is returned as a
// *ConnectivityError whose Kind tells the operator what to fix; the caller
// must then skip reconciliation for the tick. A single malformed host entry
// is reported as a *DataError in the Result and does not fail the fetch.
//
// When the failure is a certificate problem, the client dials the backend once
// more without verification to describe the leaf certificate it was offered.
package snapshot
