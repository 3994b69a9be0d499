// Package sched provides named, cancellable, rearmable timers for the
// reconciliation loop.
//
// Timers never call back into the caller. An expiry is posted to C() as a
// Fired value carrying the generation it was armed with; the loop hands it
// back to Accept, which drops expiries of timers that were cancelled or
// re-armed in the meantime. All state mutation therefore stays on the loop
// goroutine.
package sched
