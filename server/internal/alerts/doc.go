// Package alerts is the alert lifecycle manager.
//
// Every tick, Manager.Evaluate runs a fixed set of condition checks per host.
// Each check is identified by a types.ConditionKey and has an entry predicate
// and, where flapping is likely, a lower exit predicate. At most one
// unresolved alert exists per key; resolution stamps ResolvedAt and a later
// breach opens a new alert with a new id. The history is newest-first, capped,
// and written to the key-value store whenever a tick changes it.
//
// Manager is not safe for concurrent use. It belongs to the reconciliation loop.
package alerts
