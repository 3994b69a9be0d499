package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- helpers ---

func newManager(t *testing.T, limit int, kv kvstore.Store) *Manager {
	t.Helper()
	m := New(limit, kv)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("a-%d", n)
	}
	return m
}

func healthyHost(id, name string) *types.Host {
	return &types.Host{
		ID:       id,
		Hostname: name,
		Status:   types.StatusHealthy,
		Metrics: types.Metrics{
			CPU:    []types.MetricPoint{{Value: 10}},
			Memory: []types.MetricPoint{{Value: 10}},
		},
		Disks: []types.DiskInfo{{Mount: "/", TotalGB: 100, UsedGB: 10}},
	}
}

func setCPU(h *types.Host, v float64) {
	h.Metrics.CPU = append(h.Metrics.CPU, types.MetricPoint{Value: v})
}

func setDisk(h *types.Host, pct float64) {
	h.Disks = []types.DiskInfo{{Mount: "/", TotalGB: 100, UsedGB: pct}}
}

func key(h *types.Host, kind, qual string) types.ConditionKey {
	return types.ConditionKey{HostID: h.ID, Kind: kind, Qualifier: qual}
}

func tick(i int) time.Time { return t0.Add(time.Duration(i) * 5 * time.Second) }

// countFor returns how many history entries exist for k and how many of them
// are unresolved.
func countFor(m *Manager, k types.ConditionKey) (total, open int) {
	for _, a := range m.History() {
		if a.Key == k {
			total++
			if !a.Resolved {
				open++
			}
		}
	}
	return
}

// --- tests ---

func TestCPUCritical_OneAlertThenResolve(t *testing.T) {
	m := newManager(t, 0, nil)
	web := healthyHost("h-1", "web-1")
	ctx := context.Background()
	k := key(web, types.KindCPU, QualCritical)

	for i := 1; i <= 3; i++ {
		setCPU(web, 97)
		ch := m.Evaluate(ctx, []*types.Host{web}, tick(i))
		if i == 1 && len(ch.Created) != 1 {
			t.Fatalf("tick 1: created %d alerts, want 1", len(ch.Created))
		}
		if i > 1 && !ch.Empty() {
			t.Fatalf("tick %d: unexpected changes %+v", i, ch)
		}
		if total, open := countFor(m, k); total != 1 || open != 1 {
			t.Fatalf("tick %d: total=%d open=%d, want 1/1", i, total, open)
		}
	}

	setCPU(web, 80)
	ch := m.Evaluate(ctx, []*types.Host{web}, tick(4))
	if len(ch.Resolved) != 1 || ch.Resolved[0].Key != k {
		t.Fatalf("tick 4: resolved %+v, want cpu-critical", ch.Resolved)
	}
	a := ch.Resolved[0]
	if a.ResolvedAt == nil || !a.ResolvedAt.Equal(tick(4)) {
		t.Errorf("ResolvedAt: got %v, want %v", a.ResolvedAt, tick(4))
	}
	if a.Hostname != "web-1" || a.Severity != types.SeverityCritical {
		t.Errorf("alert fields: %+v", a)
	}
}

func TestCPUCritical_BoundaryIsInclusive(t *testing.T) {
	m := newManager(t, 0, nil)
	h := healthyHost("h-1", "web-1")
	setCPU(h, 95)
	m.Evaluate(context.Background(), []*types.Host{h}, t0)
	if _, ok := m.Unresolved(key(h, types.KindCPU, QualCritical)); !ok {
		t.Error("cpu at 95 should open the alert")
	}
	setCPU(h, 94.9)
	m.Evaluate(context.Background(), []*types.Host{h}, tick(1))
	if _, ok := m.Unresolved(key(h, types.KindCPU, QualCritical)); ok {
		t.Error("cpu below 95 should resolve the alert")
	}
}

func TestMemoryCritical(t *testing.T) {
	m := newManager(t, 0, nil)
	h := healthyHost("h-1", "db-2")
	h.Metrics.Memory = []types.MetricPoint{{Value: 98.2}}
	m.Evaluate(context.Background(), []*types.Host{h}, t0)
	if _, ok := m.Unresolved(key(h, types.KindMemory, QualCritical)); !ok {
		t.Fatal("memory at 98.2 should open the alert")
	}
	h.Metrics.Memory = append(h.Metrics.Memory, types.MetricPoint{Value: 97})
	m.Evaluate(context.Background(), []*types.Host{h}, tick(1))
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount: got %d, want 0", m.ActiveCount())
	}
}

func TestService_FailedActiveFailedMakesTwoRecords(t *testing.T) {
	m := newManager(t, 0, nil)
	db := healthyHost("h-2", "db-2")
	ctx := context.Background()
	k := key(db, types.KindService, "billing-api")

	for i, st := range []types.ServiceStatus{types.ServiceFailed, types.ServiceActive, types.ServiceFailed} {
		db.Services = []types.MonitoredService{{Name: "billing-api", Status: st}}
		m.Evaluate(ctx, []*types.Host{db}, tick(i))
	}

	var records []types.Alert
	for _, a := range m.History() {
		if a.Key == k {
			records = append(records, a)
		}
	}
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	// Newest first.
	if records[0].Resolved || !records[1].Resolved {
		t.Errorf("resolved flags: newest=%v oldest=%v, want false/true", records[0].Resolved, records[1].Resolved)
	}
	if records[0].ID == records[1].ID {
		t.Error("second breach reused the first alert id")
	}
	if !records[1].ResolvedAt.Equal(tick(1)) {
		t.Errorf("first record resolved at %v, want %v", records[1].ResolvedAt, tick(1))
	}
}

func TestService_AbsenceIsNotResolution(t *testing.T) {
	m := newManager(t, 0, nil)
	h := healthyHost("h-1", "web-1")
	ctx := context.Background()
	k := key(h, types.KindService, "nginx")

	h.Services = []types.MonitoredService{{Name: "nginx", Status: types.ServiceFailed}}
	m.Evaluate(ctx, []*types.Host{h}, t0)

	h.Services = nil
	m.Evaluate(ctx, []*types.Host{h}, tick(1))
	if _, ok := m.Unresolved(k); !ok {
		t.Fatal("alert resolved although the service was not reported")
	}

	h.Services = []types.MonitoredService{{Name: "nginx", Status: types.ServiceInactive}}
	m.Evaluate(ctx, []*types.Host{h}, tick(2))
	if _, ok := m.Unresolved(k); ok {
		t.Fatal("alert still open after an explicit non-failed report")
	}
}

func TestDisk_ScenarioWithAsymmetricBand(t *testing.T) {
	m := newManager(t, 0, nil)
	h := healthyHost("h-1", "files-1")
	ctx := context.Background()
	crit := key(h, types.KindDisk, QualCritical)
	warn := key(h, types.KindDisk, QualWarning)

	steps := []struct {
		usage    float64
		wantCrit bool
		wantWarn bool
	}{
		{80, false, false},
		{90, false, true},
		{97, true, false},
		{92, true, false}, // below entry, above exit: still critical
		{83, false, false},
	}
	for i, s := range steps {
		setDisk(h, s.usage)
		m.Evaluate(ctx, []*types.Host{h}, tick(i+1))
		_, gotCrit := m.Unresolved(crit)
		_, gotWarn := m.Unresolved(warn)
		if gotCrit != s.wantCrit || gotWarn != s.wantWarn {
			t.Errorf("tick %d (usage %v): critical=%v warning=%v, want %v/%v",
				i+1, s.usage, gotCrit, gotWarn, s.wantCrit, s.wantWarn)
		}
		if gotCrit && gotWarn {
			t.Fatalf("tick %d: disk critical and warning both unresolved", i+1)
		}
	}
	if total, _ := countFor(m, warn); total != 1 {
		t.Errorf("warning records: got %d, want 1", total)
	}
	if total, _ := countFor(m, crit); total != 1 {
		t.Errorf("critical records: got %d, want 1", total)
	}
}

func TestDisk_CriticalExitFallsBackToWarning(t *testing.T) {
	m := newManager(t, 0, nil)
	h := healthyHost("h-1", "files-1")
	ctx := context.Background()

	setDisk(h, 96)
	m.Evaluate(ctx, []*types.Host{h}, tick(1))
	setDisk(h, 88)
	ch := m.Evaluate(ctx, []*types.Host{h}, tick(2))

	if len(ch.Resolved) != 1 || ch.Resolved[0].Key.Qualifier != QualCritical {
		t.Fatalf("resolved: %+v, want disk critical", ch.Resolved)
	}
	if len(ch.Created) != 1 || ch.Created[0].Key.Qualifier != QualWarning {
		t.Fatalf("created: %+v, want disk warning", ch.Created)
	}
}

func TestStatus_ReplacedOnChangeBetweenNonHealthy(t *testing.T) {
	m := newManager(t, 0, nil)
	h := healthyHost("h-1", "web-1")
	ctx := context.Background()
	k := key(h, types.KindStatus, "")

	h.Status = types.StatusWarning
	m.Evaluate(ctx, []*types.Host{h}, tick(1))
	a, ok := m.Unresolved(k)
	if !ok || a.Severity != types.SeverityWarning || a.Status != types.StatusWarning {
		t.Fatalf("warning status alert: %+v %v", a, ok)
	}

	m.Evaluate(ctx, []*types.Host{h}, tick(2))
	if total, _ := countFor(m, k); total != 1 {
		t.Fatalf("unchanged status duplicated the alert: %d records", total)
	}

	h.Status = types.StatusOffline
	ch := m.Evaluate(ctx, []*types.Host{h}, tick(3))
	if len(ch.Resolved) != 1 || len(ch.Created) != 1 {
		t.Fatalf("status change: %+v", ch)
	}
	a, _ = m.Unresolved(k)
	if a.Severity != types.SeverityCritical || a.Status != types.StatusOffline {
		t.Errorf("offline status alert: %+v", a)
	}

	h.Status = types.StatusHealthy
	m.Evaluate(ctx, []*types.Host{h}, tick(4))
	if _, ok := m.Unresolved(k); ok {
		t.Error("status alert open on a healthy host")
	}
}

func TestHistory_EvictsOldestResolvedFirst(t *testing.T) {
	m := newManager(t, 3, nil)
	ctx := context.Background()
	pinned := healthyHost("h-0", "pinned")
	pinned.Services = []types.MonitoredService{{Name: "svc", Status: types.ServiceFailed}}
	m.Evaluate(ctx, []*types.Host{pinned}, t0)

	flap := healthyHost("h-1", "flap")
	for i := 1; i <= 6; i++ {
		if i%2 == 1 {
			setCPU(flap, 99)
		} else {
			setCPU(flap, 10)
		}
		m.Evaluate(ctx, []*types.Host{pinned, flap}, tick(i))
	}

	hist := m.History()
	if len(hist) != 3 {
		t.Fatalf("history length: got %d, want 3", len(hist))
	}
	if _, ok := m.Unresolved(key(pinned, types.KindService, "svc")); !ok {
		t.Fatal("oldest unresolved alert was evicted")
	}
	if hist[len(hist)-1].HostID != "h-0" {
		t.Errorf("tail: got %+v, want the pinned service alert", hist[len(hist)-1])
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].CreatedAt.After(hist[i-1].CreatedAt) {
			t.Errorf("history not newest-first at %d", i)
		}
	}
}

func TestPersistAndLoad(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	m := newManager(t, 0, kv)
	h := healthyHost("h-1", "web-1")
	setCPU(h, 99)
	m.Evaluate(ctx, []*types.Host{h}, t0)

	restored := newManager(t, 0, kv)
	restored.Load(ctx, tick(1))
	if _, ok := restored.Unresolved(key(h, types.KindCPU, QualCritical)); !ok {
		t.Fatal("unresolved alert lost across reload")
	}

	// Still breached: no duplicate after restart.
	if ch := restored.Evaluate(ctx, []*types.Host{h}, tick(2)); !ch.Empty() {
		t.Errorf("restart produced changes: %+v", ch)
	}
}

func TestLoad_RepairsMalformedHistory(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	k := types.ConditionKey{HostID: "h-1", Kind: types.KindCPU, Qualifier: QualCritical}
	stored := []types.Alert{
		{ID: "new", HostID: "h-1", Key: k, CreatedAt: tick(2)},
		{ID: "old", HostID: "h-1", Key: k, CreatedAt: tick(1)},
		{ID: "bad", HostID: "h-1", Key: types.ConditionKey{HostID: "h-1", Kind: types.KindDisk}},
		{ID: "empty"},
	}
	raw, _ := json.Marshal(stored)
	_ = kv.Put(ctx, kvstore.KeyAlerts, raw)

	m := newManager(t, 0, kv)
	m.Load(ctx, tick(3))

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("history after repair: %d entries, want 2", len(hist))
	}
	if a, _ := m.Unresolved(k); a.ID != "new" {
		t.Errorf("open alert: got %q, want newest", a.ID)
	}
	if !hist[1].Resolved || hist[1].ResolvedAt == nil {
		t.Errorf("older duplicate not resolved: %+v", hist[1])
	}

	var persisted []types.Alert
	got, _ := kv.Get(ctx, kvstore.KeyAlerts)
	_ = json.Unmarshal(got, &persisted)
	if len(persisted) != 2 {
		t.Errorf("repaired history not persisted: %d entries", len(persisted))
	}
}

func TestLoad_CorruptValueStartsEmpty(t *testing.T) {
	kv := kvstore.NewMemory()
	_ = kv.Put(context.Background(), kvstore.KeyAlerts, []byte("{not json"))
	m := newManager(t, 0, kv)
	m.Load(context.Background(), t0)
	if len(m.History()) != 0 {
		t.Errorf("history: got %d entries, want 0", len(m.History()))
	}
}
