package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/config"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
	"github.com/intellimonitor/intellimonitor/server/internal/notify"
	"github.com/intellimonitor/intellimonitor/server/internal/sched"
	"github.com/intellimonitor/intellimonitor/server/internal/snapshot"
	"github.com/intellimonitor/intellimonitor/server/internal/store"
	"github.com/intellimonitor/intellimonitor/server/internal/voice"
)

// --- helpers ---

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	mu      sync.Mutex
	reports []store.Report
	err     error
	calls   int
}

func (f *fakeSyncer) set(err error, reports ...store.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports, f.err = reports, err
}

func (f *fakeSyncer) Fetch(context.Context) (*snapshot.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &snapshot.Result{Reports: append([]store.Report(nil), f.reports...), FetchedAt: t0}, nil
}

type utter struct{ topic, text string }

type fakeSpeaker struct {
	mu      sync.Mutex
	said    []utter
	stopped []string
	locale  string
}

func (f *fakeSpeaker) Say(_ context.Context, topic, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, utter{topic, text})
}

func (f *fakeSpeaker) Stop(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, topic)
	return true
}

func (f *fakeSpeaker) Status() voice.Status { return voice.Status{State: voice.StateIdle} }

func (f *fakeSpeaker) UpdateConfig(v config.VoiceConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locale = v.Locale
}

func (f *fakeSpeaker) utterances() []utter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]utter(nil), f.said...)
}

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			BackendURL: "http://backend.test:3001",
			Interval:   5 * time.Second,
			Timeout:    5 * time.Second,
		},
		Alerts: config.AlertsConfig{HistorySize: 200},
		Notifications: config.NotificationsConfig{
			ModalTimeout:    15 * time.Second,
			MinimizeAfter:   15 * time.Second,
			RecoveryTimeout: 7 * time.Second,
		},
		Voice: config.VoiceConfig{Enabled: true, Locale: "en", RepeatAfter: 30 * time.Second, ClearMargin: 5},
	}
}

type harness struct {
	e       *Engine
	syncer  *fakeSyncer
	speaker *fakeSpeaker
	clock   *sched.FakeClock
	kv      *kvstore.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		syncer:  &fakeSyncer{},
		speaker: &fakeSpeaker{},
		clock:   sched.NewFakeClock(t0),
		kv:      kvstore.NewMemory(),
	}
	h.e = New(context.Background(), Options{
		Config:  testConfig(),
		Syncer:  h.syncer,
		Store:   h.kv,
		Speaker: h.speaker,
		Clock:   h.clock,
	})
	return h
}

// report builds a fresh report; svc alternates service name and status.
func (h *harness) report(host string, cpu float64, svc ...string) store.Report {
	r := store.Report{
		Hostname: host,
		IP:       "10.0.0.1",
		OS:       "linux",
		LastSeen: h.clock.Now(),
		Latest:   &store.LatestMetrics{CPU: cpu, Memory: 20},
		Services: []types.MonitoredService{},
	}
	for i := 0; i+1 < len(svc); i += 2 {
		r.Services = append(r.Services, types.MonitoredService{Name: svc[i], Status: types.ServiceStatus(svc[i+1])})
	}
	return r
}

// slowSyncer blocks every Fetch until release is closed.
type slowSyncer struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newSlowSyncer() *slowSyncer {
	return &slowSyncer{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (s *slowSyncer) Fetch(ctx context.Context) (*snapshot.Result, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	select {
	case <-s.release:
		return &snapshot.Result{FetchedAt: t0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowSyncer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch not started")
	}
}

func (h *harness) sync(t *testing.T, want bool) {
	t.Helper()
	h.e.startFetch(context.Background())
	h.settle()
	if got := h.e.View().Sync.OK; got != want {
		t.Fatalf("sync: got %v, want %v", got, want)
	}
}

// settle handles every fired timer and every in-flight fetch until neither
// is left.
func (h *harness) settle() {
	ctx := context.Background()
	for {
		select {
		case f := <-h.e.sched.C():
			h.e.onFired(ctx, f)
			continue
		default:
		}
		if !h.e.fetching {
			return
		}
		h.e.onFetched(ctx, <-h.e.fetched)
	}
}

// advance moves the fake clock and handles every timer that fired.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.settle()
}

// waitSyncs blocks until the published view has counted n successful syncs.
func waitSyncs(t *testing.T, e *Engine, n uint64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for e.View().Sync.Syncs < n {
		select {
		case <-e.Updates():
		case <-deadline:
			t.Fatalf("syncs: got %d, want %d", e.View().Sync.Syncs, n)
		}
	}
}

// --- tests ---

func TestSync_ConnectivityFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.syncer.set(nil, h.report("web-1", 99, "nginx", "failed"))
	h.sync(t, true)
	before := h.e.View()
	if before.ActiveAlerts == 0 || before.Notifications.FailedService == nil || before.Notifications.CriticalHost == nil {
		t.Fatalf("expected alerts and notifications after first sync: %+v", before)
	}

	h.syncer.set(&snapshot.ConnectivityError{Kind: snapshot.KindTimeout, URL: "http://backend.test:3001"})
	h.sync(t, false)
	after := h.e.View()

	if after.Sync.OK || after.Sync.Error == nil || after.Sync.Error.Kind != snapshot.KindTimeout {
		t.Errorf("sync view: %+v", after.Sync)
	}
	if after.Sync.Failures != 1 || after.Sync.Syncs != 1 {
		t.Errorf("counters: syncs=%d failures=%d", after.Sync.Syncs, after.Sync.Failures)
	}
	if !reflect.DeepEqual(before.Alerts, after.Alerts) {
		t.Errorf("alerts changed across a failed sync")
	}
	if !reflect.DeepEqual(before.Notifications, after.Notifications) {
		t.Errorf("notifications changed across a failed sync")
	}
	if !reflect.DeepEqual(before.Hosts, after.Hosts) {
		t.Errorf("hosts changed across a failed sync")
	}
}

func TestSync_PlainErrorBecomesTransport(t *testing.T) {
	h := newHarness(t)
	h.syncer.set(errors.New("boom"))
	h.sync(t, false)
	if k := h.e.View().Sync.Error.Kind; k != snapshot.KindTransport {
		t.Errorf("kind: got %q, want transport", k)
	}
}

func TestSync_ClassifiesAndPublishes(t *testing.T) {
	h := newHarness(t)
	<-h.e.Updates() // published by New

	h.syncer.set(nil, h.report("web-1", 90), h.report("db-2", 10))
	h.sync(t, true)

	v := h.e.View()
	if len(v.Hosts) != 2 {
		t.Fatalf("hosts: %d", len(v.Hosts))
	}
	counts := v.StatusCounts()
	if counts[types.StatusWarning] != 1 || counts[types.StatusHealthy] != 1 {
		t.Errorf("status counts: %v", counts)
	}
	select {
	case <-h.e.Updates():
	default:
		t.Error("no update signal after publish")
	}
}

func TestRecoveryModal_AutoDismisses(t *testing.T) {
	h := newHarness(t)
	h.syncer.set(nil, h.report("db-2", 10, "billing-api", "failed"))
	h.sync(t, true)
	h.syncer.set(nil, h.report("db-2", 10, "billing-api", "active"))
	h.sync(t, true)

	n := h.e.View().Notifications
	if n.Recovery == nil || n.Recovery.Hostname != "db-2" {
		t.Fatalf("recovery modal not shown: %+v", n)
	}
	if n.FailedService != nil {
		t.Errorf("failed-service alert still shown: %+v", n.FailedService)
	}

	h.advance(6 * time.Second)
	if h.e.View().Notifications.Recovery == nil {
		t.Fatal("recovery modal dismissed early")
	}
	h.advance(time.Second)
	if r := h.e.View().Notifications.Recovery; r != nil {
		t.Errorf("recovery modal still shown after 7s: %+v", r)
	}
}

func TestFailedService_AutoMinimizeStopsSpeechKeepsRepeat(t *testing.T) {
	h := newHarness(t)
	_ = h.e.announcer.Unlock(context.Background())
	h.syncer.set(nil, h.report("web-1", 10, "nginx", "failed"))
	h.sync(t, true)

	said := h.speaker.utterances()
	if len(said) != 1 || said[0].topic != voice.TopicFailure {
		t.Fatalf("utterances: %+v", said)
	}

	h.advance(15 * time.Second)
	v := h.e.View()
	if v.Notifications.FailedService == nil || !v.Notifications.FailedService.Minimized {
		t.Fatalf("failed-service not minimized: %+v", v.Notifications.FailedService)
	}
	if len(h.speaker.stopped) != 1 || h.speaker.stopped[0] != voice.TopicFailure {
		t.Errorf("stopped: %v", h.speaker.stopped)
	}
	if !v.Voice.RepeatPending {
		t.Error("repeat dropped by minimize")
	}
}

func TestRepeat_ResyncsBeforeSpeaking(t *testing.T) {
	tests := []struct {
		name       string
		resync     func(h *harness)
		wantTopics []string
	}{
		{
			name:       "still failing",
			resync:     func(h *harness) { h.syncer.set(nil, h.report("web-1", 10, "nginx", "failed")) },
			wantTopics: []string{voice.TopicFailure, voice.TopicFailure},
		},
		{
			name:       "recovered",
			resync:     func(h *harness) { h.syncer.set(nil, h.report("web-1", 10, "nginx", "active")) },
			wantTopics: []string{voice.TopicFailure, voice.TopicRecovery},
		},
		{
			name:       "sync fails",
			resync:     func(h *harness) { h.syncer.set(errors.New("down")) },
			wantTopics: []string{voice.TopicFailure},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_ = h.e.announcer.Unlock(context.Background())
			h.syncer.set(nil, h.report("web-1", 10, "nginx", "failed"))
			h.sync(t, true)

			tc.resync(h)
			calls := h.syncer.calls
			h.advance(30 * time.Second)
			if h.syncer.calls != calls+1 {
				t.Errorf("re-check did not resync: calls %d -> %d", calls, h.syncer.calls)
			}

			var topics []string
			for _, u := range h.speaker.utterances() {
				topics = append(topics, u.topic)
			}
			if !reflect.DeepEqual(topics, tc.wantTopics) {
				t.Errorf("topics: got %v, want %v", topics, tc.wantTopics)
			}
		})
	}
}

func TestStaleTimerIsDropped(t *testing.T) {
	h := newHarness(t)
	h.syncer.set(nil, h.report("web-1", 99))
	h.sync(t, true)
	if h.e.View().Notifications.CriticalHost == nil {
		t.Fatal("critical modal not shown")
	}

	// Re-arming makes the first expiry stale.
	h.clock.Advance(15 * time.Second)
	f := <-h.e.sched.C()
	h.e.sched.Arm(f.Key, time.Minute)
	h.e.onFired(context.Background(), f)
	if h.e.View().Notifications.CriticalHost == nil {
		t.Error("stale expiry dismissed the modal")
	}
}

func TestRestore_LoadsRefreshInterval(t *testing.T) {
	tests := []struct {
		stored string
		want   time.Duration
	}{
		{"3s", 3 * time.Second},
		{"1s", 5 * time.Second},   // below the floor
		{"soon", 5 * time.Second}, // unparseable
	}
	for _, tc := range tests {
		t.Run(tc.stored, func(t *testing.T) {
			h := newHarness(t)
			_ = h.kv.Put(context.Background(), kvstore.KeyRefreshInterval, []byte(tc.stored))
			h.e.restore(context.Background())
			if got := h.e.View().RefreshInterval; got != tc.want {
				t.Errorf("interval: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	h := newHarness(t)
	h.syncer.set(nil, h.report("web-1", 10, "nginx", "failed"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.e.Run(ctx)
	}()
	waitSyncs(t, h.e, 1)

	if err := h.e.Dismiss(ctx, notify.KindDisk); !errors.Is(err, ErrNothingShown) {
		t.Errorf("Dismiss(disk): got %v, want ErrNothingShown", err)
	}
	if err := h.e.Minimize(ctx); err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !h.e.View().Notifications.FailedService.Minimized {
		t.Error("view does not reflect Minimize")
	}
	if err := h.e.Restore(ctx); err != nil {
		t.Errorf("Restore: %v", err)
	}

	got, err := h.e.SetRefreshInterval(ctx, time.Second)
	if err != nil || got != config.MinRefreshInterval {
		t.Errorf("SetRefreshInterval: got %v, %v", got, err)
	}
	raw, _ := h.kv.Get(context.Background(), kvstore.KeyRefreshInterval)
	if string(raw) != "2s" {
		t.Errorf("persisted interval: %q", raw)
	}
	if _, err := h.e.SetRefreshInterval(ctx, 10*time.Second); err != nil {
		t.Fatal(err)
	}

	if err := h.e.Focus(ctx, "h-missing", 0); !errors.Is(err, ErrUnknownHost) {
		t.Errorf("Focus(unknown): got %v", err)
	}
	id := h.e.View().Hosts[0].ID
	if err := h.e.Focus(ctx, id, 0); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	if v := h.e.View(); v.RefreshInterval != config.MinRefreshInterval || v.FocusedHost != id {
		t.Errorf("focused view: interval=%v host=%q", v.RefreshInterval, v.FocusedHost)
	}
	if err := h.e.Unfocus(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.e.View().RefreshInterval; got != 10*time.Second {
		t.Errorf("unfocused interval: %v", got)
	}

	if err := h.e.UnlockVoice(ctx); err != nil {
		t.Errorf("UnlockVoice: %v", err)
	}
	if !h.e.View().Voice.Unlocked {
		t.Error("voice not unlocked")
	}

	cancel()
	<-done
	if err := h.e.Unfocus(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("command after stop: got %v, want ErrStopped", err)
	}
}

func TestApplyConfig(t *testing.T) {
	h := newHarness(t)
	rebuilt := &fakeSyncer{}
	h.e.newSyncer = func(config.SyncConfig) (Syncer, error) { return rebuilt, nil }

	cfg := testConfig()
	cfg.Sync.Interval = 8 * time.Second
	if err := h.e.applyConfig(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if h.e.syncer != h.syncer {
		t.Error("syncer rebuilt for an interval-only change")
	}
	if h.e.interval() != 8*time.Second {
		t.Errorf("interval: %v", h.e.interval())
	}

	cfg2 := testConfig()
	cfg2.Sync.Interval = 8 * time.Second
	cfg2.Sync.BackendURL = "https://other.test"
	if err := h.e.applyConfig(context.Background(), cfg2); err != nil {
		t.Fatal(err)
	}
	if h.e.syncer != rebuilt {
		t.Error("syncer not rebuilt after backend change")
	}
	h.e.publish()
	if got := h.e.View().Sync.BackendURL; got != "https://other.test" {
		t.Errorf("backend url: %q", got)
	}

	cfg3 := testConfig()
	cfg3.Voice.Locale = "pt-BR"
	if err := h.e.applyConfig(context.Background(), cfg3); err != nil {
		t.Fatal(err)
	}
	if h.speaker.locale != "pt-BR" {
		t.Errorf("speaker locale after reload: %q", h.speaker.locale)
	}
}

func TestCommandsServedDuringSlowFetch(t *testing.T) {
	h := newHarness(t)
	slow := newSlowSyncer()
	h.e.syncer = slow

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.e.Run(ctx)
	}()
	slow.waitStarted(t)

	cmdCtx, cmdDone := context.WithTimeout(ctx, time.Second)
	defer cmdDone()
	if err := h.e.Unfocus(cmdCtx); err != nil {
		t.Fatalf("Unfocus while fetching: %v", err)
	}
	if _, err := h.e.SetRefreshInterval(cmdCtx, 3*time.Second); err != nil {
		t.Fatalf("SetRefreshInterval while fetching: %v", err)
	}
	if got := h.e.View().RefreshInterval; got != 3*time.Second {
		t.Errorf("interval: %v", got)
	}
	if h.e.View().Sync.Syncs != 0 {
		t.Fatal("sync counted before the fetch returned")
	}

	close(slow.release)
	waitSyncs(t, h.e, 1)

	cancel()
	<-done
}

func TestFetch_OneInFlight(t *testing.T) {
	h := newHarness(t)
	slow := newSlowSyncer()
	h.e.syncer = slow
	ctx := context.Background()

	h.e.startFetch(ctx)
	slow.waitStarted(t)
	h.e.startFetch(ctx) // tick while fetching: skipped
	var rechecked []bool
	h.e.startFetch(ctx, func(_ context.Context, ok bool) { rechecked = append(rechecked, ok) })
	if n := slow.calls.Load(); n != 1 {
		t.Fatalf("fetches in flight: %d, want 1", n)
	}

	close(slow.release)
	h.e.onFetched(ctx, <-h.e.fetched)
	if len(rechecked) != 0 {
		t.Fatal("continuation ran on a fetch started before it was queued")
	}
	if !h.e.fetching {
		t.Fatal("queued continuation did not start a fresh fetch")
	}
	h.e.onFetched(ctx, <-h.e.fetched)

	if n := slow.calls.Load(); n != 2 {
		t.Errorf("fetches: got %d, want 2", n)
	}
	if !reflect.DeepEqual(rechecked, []bool{true}) {
		t.Errorf("continuation results: %v", rechecked)
	}
	if got := h.e.View().Sync.Syncs; got != 2 {
		t.Errorf("syncs: %d", got)
	}
}
