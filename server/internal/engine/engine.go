package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/intellimonitor/intellimonitor/server/internal/alerts"
	"github.com/intellimonitor/intellimonitor/server/internal/classify"
	"github.com/intellimonitor/intellimonitor/server/internal/config"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
	"github.com/intellimonitor/intellimonitor/server/internal/notify"
	"github.com/intellimonitor/intellimonitor/server/internal/sched"
	"github.com/intellimonitor/intellimonitor/server/internal/snapshot"
	"github.com/intellimonitor/intellimonitor/server/internal/store"
	"github.com/intellimonitor/intellimonitor/server/internal/voice"
)

// Syncer fetches one inventory snapshot.
type Syncer interface {
	Fetch(ctx context.Context) (*snapshot.Result, error)
}

// Speaker plays announcements and reports its playback state.
type Speaker interface {
	voice.Sayer
	Status() voice.Status
}

// Options wires an Engine.
type Options struct {
	Config *config.Config
	Syncer Syncer

	// NewSyncer rebuilds the syncer when a config reload changes the sync
	// section. Nil keeps the original syncer for the process lifetime.
	NewSyncer func(config.SyncConfig) (Syncer, error)

	// Store persists the alert history, the voice unlock and the refresh
	// interval. Nil keeps them in memory.
	Store kvstore.Store

	// Speaker plays announcements. Nil plays nothing.
	Speaker Speaker

	// Clock drives countdowns and timestamps. Nil means the wall clock.
	Clock sched.Clock

	// OnSync is called on the loop after every fetch with its error, nil on
	// success. Fetches run off the loop; their results are applied on it.
	OnSync func(err error)
}

// Engine is the reconciliation loop. Create it with New, start it with Run,
// and drive it from other goroutines with the command methods.
type Engine struct {
	cfg       *config.Config
	syncer    Syncer
	newSyncer func(config.SyncConfig) (Syncer, error)
	kv        kvstore.Store
	clock     sched.Clock
	onSync    func(error)

	registry  *store.Registry
	alerts    *alerts.Manager
	sched     *sched.Scheduler
	orch      *notify.Orchestrator
	announcer *voice.Announcer
	speaker   Speaker
	webhooks  *notify.Webhooks

	cmds    chan command
	fetched chan fetchResult
	stopped chan struct{}
	updates chan struct{}
	view    atomic.Pointer[View]

	// Loop-owned.
	baseInterval  time.Duration
	focusHost     string
	focusInterval time.Duration
	ticker        *time.Ticker
	syncState     SyncView
	fetching      bool
	queued        []func(ctx context.Context, ok bool)
}

// fetchResult is a finished fetch handed back to the loop, with the
// continuations that waited for it.
type fetchResult struct {
	res  *snapshot.Result
	err  error
	then []func(ctx context.Context, ok bool)
}

// New builds an Engine. ctx bounds every utterance the engine starts.
func New(ctx context.Context, opts Options) *Engine {
	cfg := opts.Config
	clock := opts.Clock
	if clock == nil {
		clock = sched.RealClock
	}
	kv := opts.Store
	if kv == nil {
		kv = kvstore.NewMemory()
	}
	speaker := opts.Speaker
	if speaker == nil {
		speaker = silent{}
	}

	e := &Engine{
		cfg:          cfg,
		syncer:       opts.Syncer,
		newSyncer:    opts.NewSyncer,
		kv:           kv,
		clock:        clock,
		onSync:       opts.OnSync,
		registry:     store.New(),
		alerts:       alerts.New(cfg.Alerts.HistorySize, kv),
		sched:        sched.New(clock),
		speaker:      speaker,
		webhooks:     notify.NewWebhooks(cfg.Notifications),
		cmds:         make(chan command),
		fetched:      make(chan fetchResult, 1),
		stopped:      make(chan struct{}),
		updates:      make(chan struct{}, 1),
		baseInterval: cfg.Sync.Interval,
		syncState:    SyncView{BackendURL: cfg.Sync.BackendURL},
	}
	e.announcer = voice.NewAnnouncer(ctx, voiceOptions(cfg.Voice), speaker, e.sched, kv)
	e.orch = notify.New(notify.Options{
		ModalTimeout:    cfg.Notifications.ModalTimeout,
		MinimizeAfter:   cfg.Notifications.MinimizeAfter,
		RecoveryTimeout: cfg.Notifications.RecoveryTimeout,
		OnMinimize:      func() { e.announcer.StopFailures() },
	}, e.sched, clock.Now)
	e.publish()
	return e
}

func voiceOptions(v config.VoiceConfig) voice.Options {
	return voice.Options{
		Enabled:     v.Enabled,
		Locale:      v.Locale,
		RepeatAfter: v.RepeatAfter,
		ClearMargin: v.ClearMargin,
	}
}

// View returns the latest published view. It never returns nil.
func (e *Engine) View() *View { return e.view.Load() }

// Updates signals after a new View has been published. Signals coalesce; a
// reader that falls behind sees one pending signal.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

// Run restores persisted state, syncs immediately, and then reconciles on
// every tick until ctx is cancelled. Commands and timers are served while a
// fetch is in flight.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	defer e.sched.Close()

	e.restore(ctx)
	e.ticker = time.NewTicker(e.interval())
	defer e.ticker.Stop()

	slog.Info("engine: started", "backend", e.cfg.Sync.BackendURL, "interval", e.interval())
	e.startFetch(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: stopped")
			e.webhooks.Wait()
			return nil

		case <-e.ticker.C:
			e.startFetch(ctx)

		case r := <-e.fetched:
			e.onFetched(ctx, r)

		case c := <-e.cmds:
			err := c.run(ctx)
			e.publish()
			c.done <- err

		case f := <-e.sched.C():
			e.onFired(ctx, f)
		}
	}
}

// restore loads the persisted alert history, voice unlock and refresh
// interval. Unreadable values fall back to defaults.
func (e *Engine) restore(ctx context.Context) {
	e.alerts.Load(ctx, e.clock.Now())
	e.announcer.Load(ctx)

	raw, err := e.kv.Get(ctx, kvstore.KeyRefreshInterval)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		slog.Warn("engine: refresh interval unavailable, using config", "err", err)
	default:
		d, perr := time.ParseDuration(string(raw))
		if perr != nil || d < config.MinRefreshInterval {
			slog.Warn("engine: ignoring stored refresh interval", "value", string(raw))
			break
		}
		e.baseInterval = d
	}
	e.publish()
}

// interval is the tick period in effect. A focused host may shorten it.
func (e *Engine) interval() time.Duration {
	if e.focusHost != "" && e.focusInterval < e.baseInterval {
		return e.focusInterval
	}
	return e.baseInterval
}

func (e *Engine) resetTicker() {
	if e.ticker != nil {
		e.ticker.Reset(e.interval())
	}
}

// startFetch runs one Fetch on its own goroutine. At most one fetch is in
// flight: a tick that finds one running is skipped, and continuations are
// queued for a fresh fetch once the current one lands.
func (e *Engine) startFetch(ctx context.Context, then ...func(ctx context.Context, ok bool)) {
	if e.fetching {
		if len(then) == 0 {
			slog.Debug("engine: fetch still in flight, skipping tick")
			return
		}
		e.queued = append(e.queued, then...)
		return
	}
	e.fetching = true
	syncer := e.syncer
	go func() {
		res, err := syncer.Fetch(ctx)
		e.fetched <- fetchResult{res: res, err: err, then: then}
	}()
}

func (e *Engine) onFetched(ctx context.Context, r fetchResult) {
	e.fetching = false
	ok := e.apply(ctx, r.res, r.err)
	for _, fn := range r.then {
		fn(ctx, ok)
	}
	if len(e.queued) > 0 {
		next := e.queued
		e.queued = nil
		e.startFetch(ctx, next...)
	}
}

// apply records the outcome of a fetch and, when it succeeded, runs the
// reconciliation pipeline. It reports whether the fetch succeeded.
func (e *Engine) apply(ctx context.Context, res *snapshot.Result, err error) bool {
	if e.onSync != nil {
		e.onSync(err)
	}
	if err != nil {
		e.recordFailure(err)
		e.publish()
		return false
	}

	if !e.syncState.OK && e.syncState.Syncs+e.syncState.Failures > 0 {
		slog.Info("engine: backend reachable again", "backend", e.syncState.BackendURL)
	}
	e.syncState.OK = true
	e.syncState.Error = nil
	e.syncState.Syncs++
	e.syncState.LastSync = res.FetchedAt
	e.syncState.Latency = res.Latency
	e.syncState.Skipped = nil
	for _, de := range res.Skipped {
		slog.Warn("engine: skipping undecodable host", "host", de.Hostname, "err", de.Err)
		e.syncState.Skipped = append(e.syncState.Skipped, de.Hostname)
	}

	now := e.clock.Now()
	e.registry.Merge(res.Reports, now)
	e.reconcile(ctx, now)
	return true
}

func (e *Engine) recordFailure(err error) {
	var ce *snapshot.ConnectivityError
	if !errors.As(err, &ce) {
		ce = &snapshot.ConnectivityError{Kind: snapshot.KindTransport, URL: e.syncState.BackendURL, Err: err}
	}
	if e.syncState.OK || e.syncState.Failures == 0 {
		slog.Warn("engine: sync failed, reconciliation suspended", "kind", ce.Kind, "err", err)
	} else {
		slog.Debug("engine: sync still failing", "kind", ce.Kind, "err", err)
	}
	e.syncState.OK = false
	e.syncState.Failures++
	e.syncState.Error = &SyncError{
		Kind:       ce.Kind,
		Message:    ce.Error(),
		URL:        ce.URL,
		StatusCode: ce.StatusCode,
		Cert:       ce.Cert,
		At:         e.clock.Now(),
	}
}

// reconcile runs classifier, alerts, notifications and voice in that order
// over the merged registry.
func (e *Engine) reconcile(ctx context.Context, now time.Time) {
	hosts := e.registry.Hosts()
	for _, h := range hosts {
		e.registry.SetStatus(h.ID, classify.Classify(h, now))
	}

	ch := e.alerts.Evaluate(ctx, hosts, now)
	e.orch.Evaluate(hosts, ch)
	e.announcer.Evaluate(hosts)
	if !ch.Empty() {
		e.webhooks.Dispatch(ch)
	}
	e.publish()
}

// onFired handles a timer expiry delivered by the scheduler.
func (e *Engine) onFired(ctx context.Context, f sched.Fired) {
	if !e.sched.Accept(f) {
		slog.Debug("engine: dropping stale timer", "timer", f.Key.String())
		return
	}

	if f.Key == voice.RepeatKey {
		b := e.announcer.TakePending()
		if b == nil {
			return
		}
		// The repeat decision needs fresh data.
		e.startFetch(ctx, func(_ context.Context, ok bool) {
			if !ok {
				slog.Info("engine: failure re-check dropped, sync failed")
				return
			}
			e.announcer.Recheck(b, e.registry.Hosts())
			e.publish()
		})
		return
	}

	if k, ok := notify.ParseKind(f.Key.Entity); ok && f.Key == notify.TimerKey(k) {
		e.orch.OnTimer(k)
		e.publish()
	}
}

// publish stores a fresh View built from loop-owned state.
func (e *Engine) publish() {
	st := e.syncState
	st.Skipped = append([]string(nil), e.syncState.Skipped...)
	if e.syncState.Error != nil {
		errCopy := *e.syncState.Error
		st.Error = &errCopy
	}

	e.view.Store(&View{
		Hosts:         e.registry.Snapshot(),
		Alerts:        e.alerts.History(),
		ActiveAlerts:  e.alerts.ActiveCount(),
		Notifications: e.orch.State(),
		Voice: VoiceView{
			Enabled:       e.cfg.Voice.Enabled,
			Unlocked:      e.announcer.Unlocked(),
			Locale:        e.cfg.Voice.Locale,
			RepeatPending: e.announcer.RepeatPending(),
			Speaker:       e.speaker.Status(),
		},
		Sync:            st,
		RefreshInterval: e.interval(),
		FocusedHost:     e.focusHost,
		GeneratedAt:     e.clock.Now(),
	})

	select {
	case e.updates <- struct{}{}:
	default:
	}
}

// silent is the Speaker used when none is configured.
type silent struct{}

func (silent) Say(context.Context, string, string) {}

func (silent) Stop(string) bool { return false }

func (silent) Status() voice.Status { return voice.Status{State: voice.StateIdle} }
