package types

import (
	"strings"
	"time"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Condition kinds used in ConditionKey.Kind.
const (
	KindStatus  = "status"
	KindService = "service"
	KindCPU     = "cpu"
	KindMemory  = "memory"
	KindDisk    = "disk"
)

// ConditionKey identifies "what is wrong" for a host. It is comparable and is
// used directly as a map key; it is never derived from message text.
type ConditionKey struct {
	HostID    string `json:"host_id"`
	Kind      string `json:"kind"`
	Qualifier string `json:"qualifier,omitempty"`
}

// Valid reports whether the key carries the fields every condition needs.
func (k ConditionKey) Valid() bool {
	if k.HostID == "" || k.Kind == "" {
		return false
	}
	switch k.Kind {
	case KindStatus:
		return true
	case KindService, KindCPU, KindMemory, KindDisk:
		return k.Qualifier != ""
	default:
		return false
	}
}

func (k ConditionKey) String() string {
	parts := []string{k.HostID, k.Kind}
	if k.Qualifier != "" {
		parts = append(parts, k.Qualifier)
	}
	return strings.Join(parts, "/")
}

// Alert is one breach episode of a condition.
type Alert struct {
	ID         string       `json:"id"`
	HostID     string       `json:"host_id"`
	Hostname   string       `json:"hostname"`
	Severity   Severity     `json:"severity"`
	Key        ConditionKey `json:"key"`
	Message    string       `json:"message"`
	Status     Status       `json:"status,omitempty"` // host status, for status alerts only
	CreatedAt  time.Time    `json:"created_at"`
	Resolved   bool         `json:"resolved"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}
