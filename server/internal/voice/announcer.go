package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
	"github.com/intellimonitor/intellimonitor/server/internal/sched"
)

// RepeatKey is the scheduler key of the deferred failure re-check.
var RepeatKey = sched.Key{Name: "voice", Entity: "repeat"}

// Sayer is the speaker as seen by the announcer.
type Sayer interface {
	Say(ctx context.Context, topic, text string)
	Stop(topic string) bool
}

// Timers arms the repeat re-check.
type Timers interface {
	Arm(key sched.Key, d time.Duration) time.Time
	Cancel(key sched.Key) bool
}

// band is an announce threshold with its re-arm point.
type band struct {
	kind, qual string
	enter      float64
	clear      float64
}

// Options configures an Announcer.
type Options struct {
	Enabled     bool
	Locale      string
	RepeatAfter time.Duration
	ClearMargin float64
}

type event struct {
	hostID  string
	kind    string // "cpu" | "memory" | "disk-critical" | "disk-warning" | "failed" | "recovered"
	service string
}

// Batch is a spoken failure announcement awaiting its re-check.
type Batch struct {
	text     string
	services []types.ConditionKey
}

// Text returns what was spoken.
func (b *Batch) Text() string { return b.text }

// Announcer turns newly crossed conditions into one spoken utterance per
// tick. Its acknowledgement set is separate from the alert history: a key
// stays acknowledged until its value falls below the band's clear point.
//
// Not safe for concurrent use; owned by the reconciliation loop.
type Announcer struct {
	opts    Options
	speaker Sayer
	timers  Timers
	kv      kvstore.Store
	ctx     context.Context

	unlocked bool
	acks     map[types.ConditionKey]struct{}
	pending  *Batch
}

// NewAnnouncer returns an Announcer. ctx bounds every utterance it starts.
func NewAnnouncer(ctx context.Context, opts Options, speaker Sayer, timers Timers, kv kvstore.Store) *Announcer {
	if opts.RepeatAfter <= 0 {
		opts.RepeatAfter = 30 * time.Second
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}
	return &Announcer{
		opts:    opts,
		speaker: speaker,
		timers:  timers,
		kv:      kv,
		ctx:     ctx,
		acks:    make(map[types.ConditionKey]struct{}),
	}
}

// Load restores the unlock flag. Any failure leaves speech locked.
func (a *Announcer) Load(ctx context.Context) {
	if a.kv == nil {
		return
	}
	raw, err := a.kv.Get(ctx, kvstore.KeyAudioUnlocked)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Warn("voice: unlock flag unavailable, staying locked", "err", err)
		}
		return
	}
	a.unlocked = string(raw) == "true"
}

// Unlock permits speech from now on and persists the choice.
func (a *Announcer) Unlock(ctx context.Context) error {
	a.unlocked = true
	if a.kv == nil {
		return nil
	}
	if err := a.kv.Put(ctx, kvstore.KeyAudioUnlocked, []byte("true")); err != nil {
		return fmt.Errorf("voice: persist unlock: %w", err)
	}
	return nil
}

// Unlocked reports whether speech is allowed.
func (a *Announcer) Unlocked() bool { return a.unlocked }

// SetOptions applies reloaded settings. Disabling voice drops a pending
// re-check.
func (a *Announcer) SetOptions(opts Options) {
	if opts.RepeatAfter <= 0 {
		opts.RepeatAfter = a.opts.RepeatAfter
	}
	if opts.Locale == "" {
		opts.Locale = a.opts.Locale
	}
	if a.opts.Enabled && !opts.Enabled {
		a.CancelRepeat()
	}
	a.opts = opts
}

func (a *Announcer) bands() []band {
	m := a.opts.ClearMargin
	return []band{
		{kind: types.KindCPU, qual: "critical", enter: 95, clear: 95 - m},
		{kind: types.KindMemory, qual: "critical", enter: 98, clear: 98 - m},
		{kind: types.KindDisk, qual: "critical", enter: 95, clear: 90},
		{kind: types.KindDisk, qual: "warning", enter: 85, clear: 85 - m},
	}
}

func resourceValue(h *types.Host, kind string) float64 {
	switch kind {
	case types.KindCPU:
		v, _ := types.Latest(h.Metrics.CPU)
		return v
	case types.KindMemory:
		v, _ := types.Latest(h.Metrics.Memory)
		return v
	default:
		return h.PrimaryDiskUsage()
	}
}

// Evaluate updates the acknowledgement set and speaks the newly crossed
// conditions in one utterance. Acknowledgements are tracked while locked
// too, so unlocking does not replay conditions that were already present.
// It returns the text spoken, if any.
func (a *Announcer) Evaluate(hosts []*types.Host) string {
	var events []event
	for _, h := range hosts {
		events = append(events, a.resourceEvents(h)...)
		events = append(events, a.serviceEvents(h)...)
	}
	a.purge()
	if len(events) == 0 {
		return ""
	}

	text := compose(phrasebook(a.opts.Locale), hosts, events)
	if !a.opts.Enabled || !a.unlocked {
		slog.Debug("voice: suppressed announcement", "text", text)
		return ""
	}

	topic := TopicResource
	var failing []types.ConditionKey
	recoveries := false
	for _, e := range events {
		switch {
		case e.kind == "failed":
			failing = append(failing, types.ConditionKey{HostID: e.hostID, Kind: types.KindService, Qualifier: e.service})
		case e.kind == "recovered":
			recoveries = true
		}
	}
	switch {
	case len(failing) > 0:
		topic = TopicFailure
	case recoveries:
		topic = TopicRecovery
	}

	a.speaker.Say(a.ctx, topic, text)
	slog.Info("voice: announcing", "topic", topic, "text", text)

	if len(failing) > 0 {
		a.pending = &Batch{text: text, services: failing}
		a.timers.Arm(RepeatKey, a.opts.RepeatAfter)
	}
	return text
}

func (a *Announcer) resourceEvents(h *types.Host) []event {
	var out []event
	critDisk := types.ConditionKey{HostID: h.ID, Kind: types.KindDisk, Qualifier: "critical"}
	for _, b := range a.bands() {
		k := types.ConditionKey{HostID: h.ID, Kind: b.kind, Qualifier: b.qual}
		v := resourceValue(h, b.kind)
		_, acked := a.acks[k]
		switch {
		case acked && v < b.clear:
			delete(a.acks, k)
		case !acked && v >= b.enter:
			// A disk already announced as critical does not also announce
			// its warning.
			if b.kind == types.KindDisk && b.qual == "warning" {
				if _, crit := a.acks[critDisk]; crit {
					continue
				}
			}
			a.acks[k] = struct{}{}
			kind := b.kind
			if b.kind == types.KindDisk {
				kind = "disk-" + b.qual
			}
			out = append(out, event{hostID: h.ID, kind: kind})
		}
	}
	return out
}

func (a *Announcer) serviceEvents(h *types.Host) []event {
	var out []event
	for _, s := range h.Services {
		if s.Name == "" {
			continue
		}
		k := types.ConditionKey{HostID: h.ID, Kind: types.KindService, Qualifier: s.Name}
		_, acked := a.acks[k]
		failed := s.Status == types.ServiceFailed
		switch {
		case failed && !acked:
			a.acks[k] = struct{}{}
			out = append(out, event{hostID: h.ID, kind: "failed", service: s.Name})
		case !failed && acked:
			delete(a.acks, k)
			out = append(out, event{hostID: h.ID, kind: "recovered", service: s.Name})
		}
	}
	return out
}

// purge drops acknowledgement entries whose key is not well formed.
func (a *Announcer) purge() {
	for k := range a.acks {
		if !k.Valid() {
			delete(a.acks, k)
		}
	}
}

// TakePending detaches the batch whose re-check timer just fired. The loop
// takes it before syncing so that a batch announced by that sync waits for
// its own timer.
func (a *Announcer) TakePending() *Batch {
	b := a.pending
	a.pending = nil
	return b
}

// Recheck speaks b again, against freshly synced hosts, only if every service
// in it is still failing.
func (a *Announcer) Recheck(b *Batch, hosts []*types.Host) bool {
	if b == nil || !a.opts.Enabled || !a.unlocked {
		return false
	}
	byID := make(map[string]*types.Host, len(hosts))
	for _, h := range hosts {
		byID[h.ID] = h
	}
	for _, k := range b.services {
		h, ok := byID[k.HostID]
		if !ok {
			return false
		}
		s, ok := h.Service(k.Qualifier)
		if !ok || s.Status != types.ServiceFailed {
			slog.Info("voice: repeat cancelled by recovery", "service", k.String())
			return false
		}
	}
	a.speaker.Say(a.ctx, TopicFailure, b.text)
	slog.Info("voice: repeating failure announcement", "text", b.text)
	return true
}

// CancelRepeat drops a pending re-check.
func (a *Announcer) CancelRepeat() {
	a.pending = nil
	a.timers.Cancel(RepeatKey)
}

// StopFailures silences in-flight failure speech. A pending re-check stays
// armed.
func (a *Announcer) StopFailures() bool {
	return a.speaker.Stop(TopicFailure)
}

// RepeatPending reports whether a re-check is armed.
func (a *Announcer) RepeatPending() bool { return a.pending != nil }

// Acknowledged reports whether k has already been announced.
func (a *Announcer) Acknowledged(k types.ConditionKey) bool {
	_, ok := a.acks[k]
	return ok
}

// phrases holds one locale's wording.
type phrases struct {
	attention string
	onHost    string // takes the hostname
	and       string
	cpu       string
	memory    string
	diskCrit  string
	diskWarn  string
	failed    string // takes the service name
	recovered string // takes the service name
}

func phrasebook(locale string) phrases {
	if locale == "pt-BR" {
		return phrases{
			attention: "Atenção.",
			onHost:    "No servidor %s",
			and:       "e",
			cpu:       "CPU crítica",
			memory:    "memória crítica",
			diskCrit:  "disco crítico",
			diskWarn:  "uso de disco elevado",
			failed:    "o serviço %s falhou",
			recovered: "o serviço %s foi restabelecido",
		}
	}
	return phrases{
		attention: "Attention.",
		onHost:    "On host %s",
		and:       "and",
		cpu:       "CPU critical",
		memory:    "memory critical",
		diskCrit:  "disk critical",
		diskWarn:  "disk usage high",
		failed:    "service %s failed",
		recovered: "service %s recovered",
	}
}

func (p phrases) describe(e event) string {
	switch e.kind {
	case "cpu":
		return p.cpu
	case "memory":
		return p.memory
	case "disk-critical":
		return p.diskCrit
	case "disk-warning":
		return p.diskWarn
	case "failed":
		return fmt.Sprintf(p.failed, e.service)
	default:
		return fmt.Sprintf(p.recovered, e.service)
	}
}

// join lists items as "a, b and c".
func (p phrases) join(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " " + p.and + " " + items[len(items)-1]
}

// compose groups events by host, in registry order.
func compose(p phrases, hosts []*types.Host, events []event) string {
	byHost := make(map[string][]string)
	for _, e := range events {
		byHost[e.hostID] = append(byHost[e.hostID], p.describe(e))
	}
	parts := []string{p.attention}
	for _, h := range hosts {
		items, ok := byHost[h.ID]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf(p.onHost, h.Hostname)+": "+p.join(items)+".")
	}
	return strings.Join(parts, " ")
}
