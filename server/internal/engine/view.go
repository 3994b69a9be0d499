package engine

import (
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/notify"
	"github.com/intellimonitor/intellimonitor/server/internal/snapshot"
	"github.com/intellimonitor/intellimonitor/server/internal/voice"
)

// View is an immutable snapshot of everything the console displays. A
// published View is never modified; the loop builds a new one instead.
type View struct {
	Hosts         []types.Host  `json:"hosts"`
	Alerts        []types.Alert `json:"alerts"` // newest first
	ActiveAlerts  int           `json:"active_alerts"`
	Notifications notify.State  `json:"notifications"`
	Voice         VoiceView     `json:"voice"`
	Sync          SyncView      `json:"sync"`

	// RefreshInterval is the tick period in effect, focus included.
	RefreshInterval time.Duration `json:"refresh_interval"`

	// FocusedHost is the host whose detail view asked for a finer interval.
	FocusedHost string `json:"focused_host,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// VoiceView is the announcer and speaker state.
type VoiceView struct {
	Enabled       bool         `json:"enabled"`
	Unlocked      bool         `json:"unlocked"`
	Locale        string       `json:"locale"`
	RepeatPending bool         `json:"repeat_pending"`
	Speaker       voice.Status `json:"speaker"`
}

// SyncView describes the last snapshot fetch.
type SyncView struct {
	BackendURL string        `json:"backend_url"`
	OK         bool          `json:"ok"`
	LastSync   time.Time     `json:"last_sync,omitempty"`
	Latency    time.Duration `json:"latency"`
	Syncs      uint64        `json:"syncs"`
	Failures   uint64        `json:"failures"`

	// Skipped lists hostnames whose entries could not be decoded last tick.
	Skipped []string `json:"skipped,omitempty"`

	// Error is the connectivity failure of the last tick, if any.
	Error *SyncError `json:"error,omitempty"`
}

// SyncError is the presentation form of a snapshot.ConnectivityError.
type SyncError struct {
	Kind       snapshot.Kind      `json:"kind"`
	Message    string             `json:"message"`
	URL        string             `json:"url,omitempty"`
	StatusCode int                `json:"status_code,omitempty"`
	Cert       *snapshot.CertInfo `json:"cert,omitempty"`
	At         time.Time          `json:"at"`
}

// Host returns the host with the given id.
func (v *View) Host(id string) (types.Host, bool) {
	for _, h := range v.Hosts {
		if h.ID == id {
			return h, true
		}
	}
	return types.Host{}, false
}

// StatusCounts returns how many hosts are in each status.
func (v *View) StatusCounts() map[types.Status]int {
	out := map[types.Status]int{
		types.StatusHealthy:  0,
		types.StatusWarning:  0,
		types.StatusCritical: 0,
		types.StatusOffline:  0,
	}
	for _, h := range v.Hosts {
		out[h.Status]++
	}
	return out
}
