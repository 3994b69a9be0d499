// Package classify derives a host's status from its staleness and latest
// samples. It holds no state; the result depends only on the host and now.
package classify

import (
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
)

// Staleness limits on the age of lastSeen.
const (
	OfflineAfter = 180 * time.Second
	StaleAfter   = 60 * time.Second
)

// Band is a warning/critical pair of strict upper limits.
type Band struct {
	Warning  float64
	Critical float64
}

// Default resource bands.
var (
	CPU    = Band{Warning: 85, Critical: 95}
	Memory = Band{Warning: 90, Critical: 98}
	Disk   = Band{Warning: 85, Critical: 95}
)

func (b Band) status(v float64) types.Status {
	switch {
	case v > b.Critical:
		return types.StatusCritical
	case v > b.Warning:
		return types.StatusWarning
	default:
		return types.StatusHealthy
	}
}

// Classify returns the status of h at now.
//
// A host unseen for more than OfflineAfter is offline whatever its metrics say.
// One unseen for more than StaleAfter starts at warning. Otherwise the status
// starts healthy. Resource checks can only raise it from there.
func Classify(h *types.Host, now time.Time) types.Status {
	age := now.Sub(h.LastSeen)
	if age > OfflineAfter {
		return types.StatusOffline
	}

	st := types.StatusHealthy
	if age > StaleAfter {
		st = types.StatusWarning
	}
	if v, ok := types.Latest(h.Metrics.CPU); ok {
		st = st.Worse(CPU.status(v))
	}
	if v, ok := types.Latest(h.Metrics.Memory); ok {
		st = st.Worse(Memory.status(v))
	}
	if len(h.Disks) > 0 {
		st = st.Worse(Disk.status(h.PrimaryDiskUsage()))
	}
	return st
}
