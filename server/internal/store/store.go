package store

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intellimonitor/intellimonitor/pkg/types"
)

// WindowSize is the number of samples kept per metric window.
const WindowSize = 40

const (
	// futureSkew is how far ahead of now a reported lastSeen may be before it
	// is clamped to now.
	futureSkew = 60 * time.Second

	// counterGap is the largest sample spacing over which a network rate is
	// derived from cumulative counters.
	counterGap = 120 * time.Second
)

// Report is one host's entry in a fleet snapshot, already decoded.
type Report struct {
	Hostname      string
	IP            string
	OS            string
	UptimeSeconds int64

	// LastSeen is the zero time when the provider sent something unparseable.
	LastSeen time.Time

	// Services replaces the reported list when non-nil.
	Services    []types.MonitoredService
	AgentConfig *types.AgentConfig
	Latest      *LatestMetrics
}

// LatestMetrics is the newest sample block of a Report. Optional values are
// nil when the agent did not send them.
type LatestMetrics struct {
	CPU         float64
	Memory      float64
	DiskTotalGB *float64
	DiskUsedGB  *float64
	NetSentMB   *float64
	NetRecvMB   *float64
}

type counter struct {
	at    time.Time
	value float64
}

// Registry holds hosts in first-sighting order. It has no lock: only the
// reconciliation loop mutates it, and readers receive clones.
type Registry struct {
	hosts  []*types.Host
	byName map[string]*types.Host
	byID   map[string]*types.Host

	netIn  map[string]counter // keyed by host id
	netOut map[string]counter

	newID func() string // injectable for deterministic tests
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*types.Host),
		byID:   make(map[string]*types.Host),
		netIn:  make(map[string]counter),
		netOut: make(map[string]counter),
		newID:  randomID,
	}
}

func randomID() string {
	return "h-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Merge applies a snapshot. Hosts are created on first sighting and never
// removed; hosts absent from reports are left untouched.
func (r *Registry) Merge(reports []Report, now time.Time) {
	for i := range reports {
		r.apply(&reports[i], now)
	}
}

func (r *Registry) apply(rep *Report, now time.Time) {
	h, ok := r.byName[rep.Hostname]
	if !ok {
		h = &types.Host{
			ID:       r.newID(),
			Hostname: rep.Hostname,
			IP:       "0.0.0.0",
			OS:       "linux",
			Status:   types.StatusOffline,
		}
		r.hosts = append(r.hosts, h)
		r.byName[h.Hostname] = h
		r.byID[h.ID] = h
	}

	seen := rep.LastSeen
	if seen.After(now.Add(futureSkew)) {
		seen = now
	}
	h.LastSeen = seen

	if rep.IP != "" {
		h.IP = rep.IP
	}
	if rep.OS != "" {
		h.OS = rep.OS
	}
	if rep.UptimeSeconds != 0 {
		h.UptimeSeconds = rep.UptimeSeconds
	}
	if rep.Services != nil {
		h.Services = append([]types.MonitoredService(nil), rep.Services...)
	}
	if rep.AgentConfig != nil {
		ac := *rep.AgentConfig
		ac.Services = append([]types.ServiceConfig(nil), rep.AgentConfig.Services...)
		h.AgentConfig = &ac
	}

	if m := rep.Latest; m != nil {
		if m.DiskTotalGB != nil && m.DiskUsedGB != nil {
			h.Disks = []types.DiskInfo{{
				Mount:   primaryMount(h.OS),
				TotalGB: *m.DiskTotalGB,
				UsedGB:  *m.DiskUsedGB,
			}}
		}
		h.Metrics.CPU = push(h.Metrics.CPU, now, m.CPU)
		h.Metrics.Memory = push(h.Metrics.Memory, now, m.Memory)
		if m.NetSentMB != nil && m.NetRecvMB != nil {
			h.Metrics.NetworkIn = push(h.Metrics.NetworkIn, now, rate(r.netIn, h.ID, *m.NetRecvMB, now))
			h.Metrics.NetworkOut = push(h.Metrics.NetworkOut, now, rate(r.netOut, h.ID, *m.NetSentMB, now))
		}
	}
}

func primaryMount(os string) string {
	if os == "windows" {
		return `C:\`
	}
	return "/"
}

// push appends a sample and evicts the oldest once the window is full.
func push(w []types.MetricPoint, at time.Time, v float64) []types.MetricPoint {
	w = append(w, types.MetricPoint{Timestamp: at, Value: v})
	if len(w) > WindowSize {
		w = append(w[:0:0], w[len(w)-WindowSize:]...)
	}
	return w
}

// rate turns a cumulative MB counter into MB/s against the previous sample.
// The first sample, a counter reset and a gap of counterGap or more yield 0.
func rate(prev map[string]counter, id string, value float64, now time.Time) float64 {
	p, ok := prev[id]
	prev[id] = counter{at: now, value: value}
	if !ok || now.Sub(p.at) >= counterGap || value < p.value {
		return 0
	}
	secs := now.Sub(p.at).Seconds()
	if secs < 1 {
		secs = 1
	}
	return (value - p.value) / secs
}

// SetStatus records the classifier output for a host.
func (r *Registry) SetStatus(id string, st types.Status) {
	if h, ok := r.byID[id]; ok {
		h.Status = st
	}
}

// Hosts returns the live hosts in registry order. Callers on the loop may
// read them; they must not be retained or shared.
func (r *Registry) Hosts() []*types.Host {
	return r.hosts
}

// Get returns the live host with the given id.
func (r *Registry) Get(id string) (*types.Host, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// ByHostname returns the live host with the given hostname.
func (r *Registry) ByHostname(name string) (*types.Host, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Count returns the number of known hosts.
func (r *Registry) Count() int { return len(r.hosts) }

// Snapshot returns deep copies of every host, in registry order.
func (r *Registry) Snapshot() []types.Host {
	out := make([]types.Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h.Clone())
	}
	return out
}
