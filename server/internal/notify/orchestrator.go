package notify

import (
	"log/slog"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/alerts"
	"github.com/intellimonitor/intellimonitor/server/internal/sched"
)

// Kind is a notification surface.
type Kind string

const (
	KindCriticalHost  Kind = "critical-host"
	KindDisk          Kind = "disk"
	KindFailedService Kind = "failed-service"
	KindRecovery      Kind = "recovery"
)

// ParseKind maps a string to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindCriticalHost, KindDisk, KindFailedService, KindRecovery:
		return k, true
	}
	return "", false
}

// Disk modal band: shown above DiskShowAbove, re-armed once below DiskRearmBelow.
const (
	DiskShowAbove  = 85.0
	DiskRearmBelow = 80.0
)

// Timers is the part of the scheduler the orchestrator drives.
type Timers interface {
	Arm(key sched.Key, d time.Duration) time.Time
	Cancel(key sched.Key) bool
}

// TimerKey returns the scheduler key used for kind's countdown.
func TimerKey(k Kind) sched.Key {
	return sched.Key{Name: "notify", Entity: string(k)}
}

// Notification is the target currently displayed for one kind.
type Notification struct {
	Kind      Kind      `json:"kind"`
	HostID    string    `json:"host_id"`
	Hostname  string    `json:"hostname"`
	Services  []string  `json:"services,omitempty"`
	DiskUsage float64   `json:"disk_usage,omitempty"`
	Minimized bool      `json:"minimized"`
	ShownAt   time.Time `json:"shown_at"`

	// Deadline is when the countdown runs out; zero while minimized.
	Deadline time.Time `json:"deadline,omitempty"`
}

// State is a copy of everything the orchestrator displays.
type State struct {
	CriticalHost  *Notification  `json:"critical_host"`
	Disk          *Notification  `json:"disk"`
	FailedService *Notification  `json:"failed_service"`
	Recovery      *Notification  `json:"recovery"`
	RecoveryQueue []Notification `json:"recovery_queue,omitempty"`
}

// Options configures the orchestrator.
type Options struct {
	ModalTimeout    time.Duration
	MinimizeAfter   time.Duration
	RecoveryTimeout time.Duration

	// OnMinimize runs when the failed-service alert is minimized, by the
	// operator or by its countdown.
	OnMinimize func()
}

// Orchestrator decides which notification each kind shows. It is driven by
// the reconciliation loop and is not safe for concurrent use.
type Orchestrator struct {
	opts   Options
	timers Timers
	now    func() time.Time

	critical *Notification
	disk     *Notification
	failed   *Notification
	recovery *Notification
	queue    []Notification

	ackCritical map[string]struct{} // host ids
	ackDisk     map[string]struct{}
}

// New returns an Orchestrator arming countdowns on timers.
func New(opts Options, timers Timers, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		opts:        opts,
		timers:      timers,
		now:         now,
		ackCritical: make(map[string]struct{}),
		ackDisk:     make(map[string]struct{}),
	}
}

// SetTimings replaces the countdown durations. Running countdowns keep
// their deadline.
func (o *Orchestrator) SetTimings(modal, minimize, recovery time.Duration) {
	o.opts.ModalTimeout = modal
	o.opts.MinimizeAfter = minimize
	o.opts.RecoveryTimeout = recovery
}

// Evaluate runs one tick over the registry hosts (in registry order) and the
// alert changes of the same tick.
func (o *Orchestrator) Evaluate(hosts []*types.Host, ch alerts.Changes) {
	o.evalCritical(hosts)
	o.evalDisk(hosts)
	o.evalFailed(hosts, ch)
	o.evalRecovery(hosts, ch)
}

func (o *Orchestrator) show(k Kind, n *Notification, d time.Duration) *Notification {
	n.Kind = k
	n.ShownAt = o.now()
	n.Deadline = o.timers.Arm(TimerKey(k), d)
	slog.Info("notify: showing", "kind", k, "host", n.Hostname)
	return n
}

func (o *Orchestrator) evalCritical(hosts []*types.Host) {
	for _, h := range hosts {
		if h.Status != types.StatusCritical {
			delete(o.ackCritical, h.ID)
			if o.critical != nil && o.critical.HostID == h.ID {
				o.timers.Cancel(TimerKey(KindCriticalHost))
				o.critical = nil
			}
		}
	}
	if o.critical != nil {
		return
	}
	for _, h := range hosts {
		if h.Status != types.StatusCritical {
			continue
		}
		if _, acked := o.ackCritical[h.ID]; acked {
			continue
		}
		o.critical = o.show(KindCriticalHost, &Notification{HostID: h.ID, Hostname: h.Hostname}, o.opts.ModalTimeout)
		return
	}
}

func (o *Orchestrator) evalDisk(hosts []*types.Host) {
	for _, h := range hosts {
		u := h.PrimaryDiskUsage()
		if o.disk != nil && o.disk.HostID == h.ID {
			if u <= DiskShowAbove {
				// Leaving the show band counts as seen until usage re-arms.
				o.timers.Cancel(TimerKey(KindDisk))
				o.disk = nil
				o.ackDisk[h.ID] = struct{}{}
			} else {
				o.disk.DiskUsage = u
			}
		}
		if u < DiskRearmBelow {
			delete(o.ackDisk, h.ID)
		}
	}
	if o.disk != nil {
		return
	}
	for _, h := range hosts {
		u := h.PrimaryDiskUsage()
		if u <= DiskShowAbove {
			continue
		}
		if _, acked := o.ackDisk[h.ID]; acked {
			continue
		}
		o.disk = o.show(KindDisk, &Notification{HostID: h.ID, Hostname: h.Hostname, DiskUsage: u}, o.opts.ModalTimeout)
		return
	}
}

func failedNames(h *types.Host) []string {
	var out []string
	for _, s := range h.FailedServices() {
		out = append(out, s.Name)
	}
	return out
}

func (o *Orchestrator) evalFailed(hosts []*types.Host, ch alerts.Changes) {
	var first *types.Host
	var shown *types.Host
	for _, h := range hosts {
		if len(h.FailedServices()) == 0 {
			continue
		}
		if first == nil {
			first = h
		}
		if o.failed != nil && o.failed.HostID == h.ID {
			shown = h
		}
	}

	switch {
	case first == nil:
		if o.failed != nil {
			o.timers.Cancel(TimerKey(KindFailedService))
			slog.Info("notify: failed-service cleared", "host", o.failed.Hostname)
			o.failed = nil
		}
	case o.failed == nil:
		o.failed = o.show(KindFailedService, &Notification{
			HostID: first.ID, Hostname: first.Hostname, Services: failedNames(first),
		}, o.opts.MinimizeAfter)
	case shown == nil:
		// The shown host recovered; move to the next failing one and keep
		// the current minimized state.
		minimized := o.failed.Minimized
		o.failed.HostID, o.failed.Hostname = first.ID, first.Hostname
		o.failed.Services = failedNames(first)
		slog.Info("notify: failed-service retargeted", "host", first.Hostname)
		if !minimized {
			o.failed.Deadline = o.timers.Arm(TimerKey(KindFailedService), o.opts.MinimizeAfter)
		}
	default:
		o.failed.Services = failedNames(shown)
		if o.failed.Minimized && newServiceAlertOn(ch, shown.ID) {
			o.restore()
		}
	}
}

func newServiceAlertOn(ch alerts.Changes, hostID string) bool {
	for _, a := range ch.Created {
		if a.HostID == hostID && a.Key.Kind == types.KindService {
			return true
		}
	}
	return false
}

func (o *Orchestrator) evalRecovery(hosts []*types.Host, ch alerts.Changes) {
	byHost := make(map[string][]string)
	for _, a := range ch.Resolved {
		if a.Key.Kind == types.KindService {
			byHost[a.HostID] = append(byHost[a.HostID], a.Key.Qualifier)
		}
	}
	if len(byHost) == 0 {
		return
	}
	for _, h := range hosts {
		names, ok := byHost[h.ID]
		if !ok {
			continue
		}
		n := Notification{Kind: KindRecovery, HostID: h.ID, Hostname: h.Hostname, Services: names}
		if o.recovery == nil {
			o.recovery = o.show(KindRecovery, &n, o.opts.RecoveryTimeout)
		} else {
			o.queue = append(o.queue, n)
		}
	}
}

func (o *Orchestrator) nextRecovery() {
	o.recovery = nil
	if len(o.queue) == 0 {
		return
	}
	n := o.queue[0]
	o.queue = o.queue[1:]
	o.recovery = o.show(KindRecovery, &n, o.opts.RecoveryTimeout)
}

// Dismiss closes the notification of kind k. Modal dismissals acknowledge the
// host. The failed-service alert cannot be dismissed while anything still
// fails, so dismissing it minimizes it.
func (o *Orchestrator) Dismiss(k Kind) bool {
	switch k {
	case KindCriticalHost:
		if o.critical == nil {
			return false
		}
		o.timers.Cancel(TimerKey(k))
		o.ackCritical[o.critical.HostID] = struct{}{}
		o.critical = nil
	case KindDisk:
		if o.disk == nil {
			return false
		}
		o.timers.Cancel(TimerKey(k))
		o.ackDisk[o.disk.HostID] = struct{}{}
		o.disk = nil
	case KindFailedService:
		return o.Minimize()
	case KindRecovery:
		if o.recovery == nil {
			return false
		}
		o.timers.Cancel(TimerKey(k))
		o.nextRecovery()
	default:
		return false
	}
	slog.Info("notify: dismissed", "kind", k)
	return true
}

// Minimize collapses the failed-service alert and silences its voice.
func (o *Orchestrator) Minimize() bool {
	if o.failed == nil || o.failed.Minimized {
		return false
	}
	o.timers.Cancel(TimerKey(KindFailedService))
	o.failed.Minimized = true
	o.failed.Deadline = time.Time{}
	if o.opts.OnMinimize != nil {
		o.opts.OnMinimize()
	}
	return true
}

// Restore re-opens a minimized failed-service alert with a fresh countdown.
func (o *Orchestrator) Restore() bool {
	if o.failed == nil || !o.failed.Minimized {
		return false
	}
	o.restore()
	return true
}

func (o *Orchestrator) restore() {
	o.failed.Minimized = false
	o.failed.Deadline = o.timers.Arm(TimerKey(KindFailedService), o.opts.MinimizeAfter)
}

// OnTimer handles an accepted countdown expiry for kind k.
func (o *Orchestrator) OnTimer(k Kind) {
	switch k {
	case KindCriticalHost, KindDisk:
		o.Dismiss(k)
	case KindFailedService:
		o.Minimize()
	case KindRecovery:
		o.nextRecovery()
	}
}

// State returns a copy of what is displayed.
func (o *Orchestrator) State() State {
	cp := func(n *Notification) *Notification {
		if n == nil {
			return nil
		}
		c := *n
		c.Services = append([]string(nil), n.Services...)
		return &c
	}
	return State{
		CriticalHost:  cp(o.critical),
		Disk:          cp(o.disk),
		FailedService: cp(o.failed),
		Recovery:      cp(o.recovery),
		RecoveryQueue: append([]Notification(nil), o.queue...),
	}
}
