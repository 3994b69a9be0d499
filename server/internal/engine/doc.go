// Package engine runs the reconciliation loop.
//
// One goroutine (Run) owns the host registry, the alert manager, the
// notification orchestrator and the voice announcer. Each tick it fetches a
// snapshot, merges it, classifies every host, evaluates alerts and then the
// notification surfaces. Operator commands and timer expiries are delivered to
// the same goroutine over channels, so none of those components needs a lock.
//
// After every change the loop publishes an immutable View through an
// atomic.Pointer; HTTP handlers and the WebSocket hub only ever read Views.
//
// A failed fetch records the ConnectivityError and skips the rest of the tick:
// alerts, notifications and acknowledgements stay exactly as they were.
package engine
