package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/intellimonitor/intellimonitor/pkg/types"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
)

// DefaultHistorySize caps the alert history when no size is configured.
const DefaultHistorySize = 200

// Changes is what one Evaluate call did.
type Changes struct {
	Created  []types.Alert
	Resolved []types.Alert
}

// Empty reports whether the tick changed nothing.
func (c Changes) Empty() bool { return len(c.Created) == 0 && len(c.Resolved) == 0 }

// Manager owns the alert history.
type Manager struct {
	limit   int
	history []*types.Alert // newest first
	active  map[types.ConditionKey]*types.Alert

	kv    kvstore.Store
	newID func() string
}

// New returns a Manager keeping at most limit entries. kv may be nil, in
// which case nothing is persisted.
func New(limit int, kv kvstore.Store) *Manager {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &Manager{
		limit:  limit,
		active: make(map[types.ConditionKey]*types.Alert),
		kv:     kv,
		newID:  uuid.NewString,
	}
}

// Load restores the history from the store. Entries carrying an invalid key
// are dropped, and when several unresolved entries share a key only the
// newest stays unresolved. A missing or unreadable value leaves the history
// empty; Load never fails the caller.
func (m *Manager) Load(ctx context.Context, now time.Time) {
	if m.kv == nil {
		return
	}
	raw, err := m.kv.Get(ctx, kvstore.KeyAlerts)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Warn("alerts: history unavailable, starting empty", "err", err)
		}
		return
	}
	var stored []types.Alert
	if err := json.Unmarshal(raw, &stored); err != nil {
		slog.Warn("alerts: history corrupt, starting empty", "err", err)
		return
	}

	m.history = m.history[:0]
	m.active = make(map[types.ConditionKey]*types.Alert)
	dirty := false
	for i := range stored {
		a := stored[i]
		if !a.Key.Valid() || a.ID == "" {
			dirty = true
			continue
		}
		if !a.Resolved {
			if newer, ok := m.active[a.Key]; ok {
				at := newer.CreatedAt
				if at.IsZero() {
					at = now
				}
				a.Resolved = true
				a.ResolvedAt = &at
				dirty = true
			} else {
				m.active[a.Key] = &a
			}
		}
		m.history = append(m.history, &a)
	}
	if m.trim() {
		dirty = true
	}
	if dirty {
		slog.Info("alerts: repaired stored history", "kept", len(m.history))
		m.persist(ctx)
	}
}

// Evaluate runs every condition check for hosts and returns what changed.
// The history is persisted when anything did.
func (m *Manager) Evaluate(ctx context.Context, hosts []*types.Host, now time.Time) Changes {
	var ch Changes
	for _, h := range hosts {
		m.apply(statusCheck(h), now, &ch)
		for _, c := range serviceChecks(h) {
			m.apply(c, now, &ch)
		}
		for _, c := range resourceChecks(h, m.held) {
			m.apply(c, now, &ch)
		}
	}
	if !ch.Empty() {
		m.trim()
		m.persist(ctx)
	}
	return ch
}

func (m *Manager) held(k types.ConditionKey) bool {
	_, ok := m.active[k]
	return ok
}

func (m *Manager) apply(c check, now time.Time, ch *Changes) {
	cur, ok := m.active[c.key]
	switch {
	case c.breached && !ok:
		ch.Created = append(ch.Created, *m.open(c, now))
	case c.breached && ok && c.key.Kind == types.KindStatus && cur.Status != c.status:
		ch.Resolved = append(ch.Resolved, *m.resolve(cur, now))
		ch.Created = append(ch.Created, *m.open(c, now))
	case !c.breached && ok:
		ch.Resolved = append(ch.Resolved, *m.resolve(cur, now))
	}
}

func (m *Manager) open(c check, now time.Time) *types.Alert {
	a := &types.Alert{
		ID:        m.newID(),
		HostID:    c.key.HostID,
		Hostname:  c.hostname,
		Severity:  c.severity,
		Key:       c.key,
		Message:   c.message,
		Status:    c.status,
		CreatedAt: now,
	}
	m.active[c.key] = a
	m.history = append([]*types.Alert{a}, m.history...)
	slog.Warn("alert created", "key", c.key.String(), "severity", c.severity)
	return a
}

func (m *Manager) resolve(a *types.Alert, now time.Time) *types.Alert {
	at := now
	a.Resolved = true
	a.ResolvedAt = &at
	delete(m.active, a.Key)
	slog.Info("alert resolved", "key", a.Key.String())
	return a
}

// trim evicts entries beyond the limit, oldest resolved first. Unresolved
// entries are never evicted.
func (m *Manager) trim() bool {
	excess := len(m.history) - m.limit
	if excess <= 0 {
		return false
	}
	for i := len(m.history) - 1; i >= 0 && excess > 0; i-- {
		if m.history[i].Resolved {
			m.history = append(m.history[:i], m.history[i+1:]...)
			excess--
		}
	}
	return true
}

func (m *Manager) persist(ctx context.Context) {
	if m.kv == nil {
		return
	}
	out := make([]types.Alert, len(m.history))
	for i, a := range m.history {
		out[i] = *a
	}
	raw, err := json.Marshal(out)
	if err != nil {
		slog.Error("alerts: encode history", "err", err)
		return
	}
	if err := m.kv.Put(ctx, kvstore.KeyAlerts, raw); err != nil {
		slog.Error("alerts: persist history failed, keeping it in memory", "err", err)
	}
}

// History returns copies of all entries, newest first.
func (m *Manager) History() []types.Alert {
	out := make([]types.Alert, len(m.history))
	for i, a := range m.history {
		out[i] = *a
	}
	return out
}

// Unresolved returns the open alert for key.
func (m *Manager) Unresolved(key types.ConditionKey) (types.Alert, bool) {
	a, ok := m.active[key]
	if !ok {
		return types.Alert{}, false
	}
	return *a, true
}

// ActiveCount returns the number of unresolved alerts.
func (m *Manager) ActiveCount() int { return len(m.active) }
