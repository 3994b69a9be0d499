package api

import (
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/engine"
)

// HostSummary is one entry of GET /api/v1/hosts.
type HostSummary struct {
	ID             string       `json:"id"`
	Hostname       string       `json:"hostname"`
	IP             string       `json:"ip"`
	OS             string       `json:"os"`
	Status         types.Status `json:"status"`
	LastSeen       time.Time    `json:"last_seen"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	CPU            float64      `json:"cpu"`
	Memory         float64      `json:"memory"`
	DiskUsage      float64      `json:"disk_usage"`
	FailedServices []string     `json:"failed_services"`
}

// HostDetail is the payload for GET /api/v1/hosts/{id}.
type HostDetail struct {
	types.Host

	// ServiceReport lists the services declared in the agent config with
	// their reported state. Configured is false when nothing is declared.
	Configured    bool            `json:"configured"`
	ServiceReport []ServiceReport `json:"service_report"`
}

// ServiceReport is one declared service joined with its latest report.
type ServiceReport struct {
	Name     string              `json:"name"`
	Type     string              `json:"type"`
	Enabled  bool                `json:"enabled"`
	Reported bool                `json:"reported"`
	Status   types.ServiceStatus `json:"status"`
	Details  string              `json:"details"`
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	Sync           engine.SyncView      `json:"sync"`
	Diagnostics    []DiagnosticHint     `json:"diagnostics"`
	HostCount      int                  `json:"host_count"`
	StatusCounts   map[types.Status]int `json:"status_counts"`
	ActiveAlerts   int                  `json:"active_alerts"`
	RefreshSeconds float64              `json:"refresh_seconds"`
	FocusedHost    string               `json:"focused_host,omitempty"`
	Voice          engine.VoiceView     `json:"voice"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// RefreshIntervalRequest is the body of PUT /api/v1/settings/refresh-interval.
type RefreshIntervalRequest struct {
	Seconds float64 `json:"seconds"`
}

// RefreshIntervalResponse echoes the stored interval.
type RefreshIntervalResponse struct {
	Seconds float64 `json:"seconds"`
}

// FocusRequest is the optional body of POST /api/v1/hosts/{id}/focus.
type FocusRequest struct {
	Seconds float64 `json:"seconds"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// okResponse acknowledges a command.
type okResponse struct {
	OK bool `json:"ok"`
}
