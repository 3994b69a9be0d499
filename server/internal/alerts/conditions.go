package alerts

import (
	"fmt"

	"github.com/intellimonitor/intellimonitor/pkg/types"
)

// Entry and exit thresholds, in percent.
const (
	CPUCritical       = 95.0
	MemoryCritical    = 98.0
	DiskCritical      = 95.0
	DiskCriticalClear = 90.0
	DiskWarning       = 85.0
)

// Qualifiers for resource keys.
const (
	QualCritical = "critical"
	QualWarning  = "warning"
)

// check is one evaluated condition for one host on one tick.
type check struct {
	key      types.ConditionKey
	hostname string
	breached bool
	severity types.Severity
	message  string
	status   types.Status
}

func latest(w []types.MetricPoint) float64 {
	v, _ := types.Latest(w)
	return v
}

// statusCheck covers (host, status). The held status matters: moving between
// two non-healthy statuses replaces the alert, so the caller compares status.
func statusCheck(h *types.Host) check {
	sev := types.SeverityCritical
	if h.Status == types.StatusWarning {
		sev = types.SeverityWarning
	}
	return check{
		key:      types.ConditionKey{HostID: h.ID, Kind: types.KindStatus},
		hostname: h.Hostname,
		breached: h.Status != types.StatusHealthy && h.Status != "",
		severity: sev,
		message:  fmt.Sprintf("Host status: %s is in state '%s'.", h.Hostname, h.Status),
		status:   h.Status,
	}
}

// serviceChecks returns, for every reported service, its failure check.
// A service missing from the report yields no check at all, so its alert is
// neither created nor resolved.
func serviceChecks(h *types.Host) []check {
	out := make([]check, 0, len(h.Services))
	for _, s := range h.Services {
		if s.Name == "" {
			continue
		}
		details := s.Details
		if details == "" {
			details = "N/A"
		}
		out = append(out, check{
			key:      types.ConditionKey{HostID: h.ID, Kind: types.KindService, Qualifier: s.Name},
			hostname: h.Hostname,
			breached: s.Status == types.ServiceFailed,
			severity: types.SeverityCritical,
			message:  fmt.Sprintf("Service '%s' failed: %s", s.Name, details),
		})
	}
	return out
}

// resourceChecks evaluates cpu, memory and disk. held reports whether a key
// currently has an unresolved alert; the disk bands depend on it.
func resourceChecks(h *types.Host, held func(types.ConditionKey) bool) []check {
	cpu := latest(h.Metrics.CPU)
	mem := latest(h.Metrics.Memory)
	disk := h.PrimaryDiskUsage()

	critKey := types.ConditionKey{HostID: h.ID, Kind: types.KindDisk, Qualifier: QualCritical}
	warnKey := types.ConditionKey{HostID: h.ID, Kind: types.KindDisk, Qualifier: QualWarning}

	var critical bool
	if held(critKey) {
		critical = disk >= DiskCriticalClear
	} else {
		critical = disk >= DiskCritical
	}

	checks := []check{
		{
			key:      types.ConditionKey{HostID: h.ID, Kind: types.KindCPU, Qualifier: QualCritical},
			breached: cpu >= CPUCritical,
			severity: types.SeverityCritical,
			message:  fmt.Sprintf("CPU critical: usage reached %.1f%%.", cpu),
		},
		{
			key:      types.ConditionKey{HostID: h.ID, Kind: types.KindMemory, Qualifier: QualCritical},
			breached: mem >= MemoryCritical,
			severity: types.SeverityCritical,
			message:  fmt.Sprintf("Memory critical: usage reached %.1f%%.", mem),
		},
		// Critical is evaluated before warning so that entering critical
		// resolves the warning on the same tick.
		{
			key:      critKey,
			breached: critical,
			severity: types.SeverityCritical,
			message:  fmt.Sprintf("Disk critical: usage reached %.1f%%.", disk),
		},
		{
			key:      warnKey,
			breached: !critical && disk >= DiskWarning,
			severity: types.SeverityWarning,
			message:  fmt.Sprintf("Disk high: usage reached %.1f%%.", disk),
		},
	}
	for i := range checks {
		checks[i].hostname = h.Hostname
	}
	return checks
}
