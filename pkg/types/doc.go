// Package types defines the domain types shared by every server component:
// hosts with their rolling metric windows, disks and services, alert records
// keyed by a structured ConditionKey, and the status/severity enums.
//
// These are the canonical in-memory representations; JSON tags describe the
// shape served to the presentation layer and persisted in the alert history.
package types
