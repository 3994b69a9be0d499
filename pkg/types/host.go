package types

import "time"

// Status is the derived health of a host.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// rank orders statuses by severity so escalation can compare them.
func (s Status) rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusOffline:
		return 3
	default:
		return 0
	}
}

// Worse returns whichever of s and o is more severe.
func (s Status) Worse(o Status) Status {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// ServiceStatus is the state an agent reports for one monitored service.
type ServiceStatus string

const (
	ServiceActive   ServiceStatus = "active"
	ServiceInactive ServiceStatus = "inactive"
	ServiceFailed   ServiceStatus = "failed"
	ServiceWarning  ServiceStatus = "warning"
)

// MetricPoint is one immutable sample in a rolling window.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DiskInfo describes one mounted filesystem in gigabytes.
type DiskInfo struct {
	Mount   string  `json:"mount"`
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
}

// UsagePct returns used/total as a percentage, or 0 for an empty disk.
func (d DiskInfo) UsagePct() float64 {
	if d.TotalGB <= 0 {
		return 0
	}
	return d.UsedGB / d.TotalGB * 100
}

// MonitoredService is a service status as reported by the host agent.
type MonitoredService struct {
	Name    string        `json:"name"`
	Status  ServiceStatus `json:"status"`
	Type    string        `json:"type,omitempty"`
	Details string        `json:"details,omitempty"`
}

// ServiceConfig is one service the agent is configured to watch.
type ServiceConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// AgentConfig declares which services should exist on a host.
type AgentConfig struct {
	Services          []ServiceConfig `json:"services"`
	MonitoringEnabled bool            `json:"monitoringEnabled"`
}

// Metrics holds the rolling windows for one host, oldest first.
type Metrics struct {
	CPU        []MetricPoint `json:"cpu"`
	Memory     []MetricPoint `json:"memory"`
	NetworkIn  []MetricPoint `json:"network_in"`  // MB/s
	NetworkOut []MetricPoint `json:"network_out"` // MB/s
}

// Host is the registry's view of one monitored machine.
type Host struct {
	ID            string             `json:"id"`
	Hostname      string             `json:"hostname"`
	IP            string             `json:"ip"`
	OS            string             `json:"os"`
	Status        Status             `json:"status"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	LastSeen      time.Time          `json:"last_seen"`
	Metrics       Metrics            `json:"metrics"`
	Disks         []DiskInfo         `json:"disks"`
	Services      []MonitoredService `json:"services"`
	AgentConfig   *AgentConfig       `json:"agent_config,omitempty"`
}

// Latest returns the newest value of a window and whether one exists.
func Latest(window []MetricPoint) (float64, bool) {
	if len(window) == 0 {
		return 0, false
	}
	return window[len(window)-1].Value, true
}

// PrimaryDiskUsage returns the usage percentage of the first disk, or 0.
func (h *Host) PrimaryDiskUsage() float64 {
	if len(h.Disks) == 0 {
		return 0
	}
	return h.Disks[0].UsagePct()
}

// FailedServices returns the services currently reported as failed.
func (h *Host) FailedServices() []MonitoredService {
	var out []MonitoredService
	for _, s := range h.Services {
		if s.Status == ServiceFailed {
			out = append(out, s)
		}
	}
	return out
}

// Service returns the reported service with the given name.
func (h *Host) Service(name string) (MonitoredService, bool) {
	for _, s := range h.Services {
		if s.Name == name {
			return s, true
		}
	}
	return MonitoredService{}, false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (h *Host) Clone() Host {
	cp := *h
	cp.Metrics = Metrics{
		CPU:        append([]MetricPoint(nil), h.Metrics.CPU...),
		Memory:     append([]MetricPoint(nil), h.Metrics.Memory...),
		NetworkIn:  append([]MetricPoint(nil), h.Metrics.NetworkIn...),
		NetworkOut: append([]MetricPoint(nil), h.Metrics.NetworkOut...),
	}
	cp.Disks = append([]DiskInfo(nil), h.Disks...)
	cp.Services = append([]MonitoredService(nil), h.Services...)
	if h.AgentConfig != nil {
		ac := *h.AgentConfig
		ac.Services = append([]ServiceConfig(nil), h.AgentConfig.Services...)
		cp.AgentConfig = &ac
	}
	return cp
}
