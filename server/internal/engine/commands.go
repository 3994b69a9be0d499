package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intellimonitor/intellimonitor/server/internal/config"
	"github.com/intellimonitor/intellimonitor/server/internal/kvstore"
	"github.com/intellimonitor/intellimonitor/server/internal/notify"
)

var (
	// ErrNothingShown is returned when a command targets a notification that
	// is not displayed, or is already in the requested state.
	ErrNothingShown = errors.New("engine: notification not shown")

	// ErrUnknownHost is returned by Focus for an id the registry never saw.
	ErrUnknownHost = errors.New("engine: unknown host")

	// ErrStopped is returned by commands sent after Run has returned.
	ErrStopped = errors.New("engine: stopped")
)

// voiceUpdater is implemented by speakers whose backend follows config
// reloads.
type voiceUpdater interface {
	UpdateConfig(config.VoiceConfig)
}

type command struct {
	run  func(ctx context.Context) error
	done chan error
}

// do runs fn on the loop goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	c := command{run: fn, done: make(chan error, 1)}
	select {
	case e.cmds <- c:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dismiss closes the notification of kind k.
func (e *Engine) Dismiss(ctx context.Context, k notify.Kind) error {
	return e.do(ctx, func(context.Context) error {
		if !e.orch.Dismiss(k) {
			return ErrNothingShown
		}
		return nil
	})
}

// Minimize collapses the failed-service alert and stops its speech.
func (e *Engine) Minimize(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		if !e.orch.Minimize() {
			return ErrNothingShown
		}
		return nil
	})
}

// Restore re-opens the minimized failed-service alert.
func (e *Engine) Restore(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		if !e.orch.Restore() {
			return ErrNothingShown
		}
		return nil
	})
}

// UnlockVoice permits speech. The unlock survives restarts; if it cannot be
// persisted speech is still unlocked for this process.
func (e *Engine) UnlockVoice(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		if err := e.announcer.Unlock(ctx); err != nil {
			slog.Warn("engine: voice unlocked for this process only", "err", err)
		}
		return nil
	})
}

// SetRefreshInterval changes and persists the base tick period. Values below
// config.MinRefreshInterval are raised to it. It returns the stored value.
func (e *Engine) SetRefreshInterval(ctx context.Context, d time.Duration) (time.Duration, error) {
	if d < config.MinRefreshInterval {
		d = config.MinRefreshInterval
	}
	err := e.do(ctx, func(ctx context.Context) error {
		e.setBaseInterval(ctx, d)
		return nil
	})
	return d, err
}

func (e *Engine) setBaseInterval(ctx context.Context, d time.Duration) {
	e.baseInterval = d
	e.resetTicker()
	if err := e.kv.Put(ctx, kvstore.KeyRefreshInterval, []byte(d.String())); err != nil {
		slog.Warn("engine: refresh interval not persisted", "err", err)
	}
	slog.Info("engine: refresh interval changed", "interval", d, "effective", e.interval())
}

// Focus marks a host as open in a detail view, which may ask for a finer
// interval. d is floored at config.MinRefreshInterval; zero means the floor.
func (e *Engine) Focus(ctx context.Context, hostID string, d time.Duration) error {
	if d < config.MinRefreshInterval {
		d = config.MinRefreshInterval
	}
	return e.do(ctx, func(context.Context) error {
		if _, ok := e.registry.Get(hostID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHost, hostID)
		}
		e.focusHost, e.focusInterval = hostID, d
		e.resetTicker()
		return nil
	})
}

// Unfocus returns to the base interval.
func (e *Engine) Unfocus(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		e.focusHost, e.focusInterval = "", 0
		e.resetTicker()
		return nil
	})
}

// ApplyConfig installs a reloaded configuration: refresh interval, backend
// sync settings, webhook targets and templates, notification timings and
// voice options. Listener ports, storage path and history size need a
// restart.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	return e.do(ctx, func(ctx context.Context) error {
		return e.applyConfig(ctx, cfg)
	})
}

func (e *Engine) applyConfig(ctx context.Context, cfg *config.Config) error {
	prev := e.cfg

	next, cur := cfg.Sync, prev.Sync
	next.Interval, cur.Interval = 0, 0
	if next != cur && e.newSyncer != nil {
		s, err := e.newSyncer(cfg.Sync)
		if err != nil {
			return fmt.Errorf("engine: rebuild syncer: %w", err)
		}
		e.syncer = s
		e.syncState.BackendURL = cfg.Sync.BackendURL
		slog.Info("engine: sync settings reloaded", "backend", cfg.Sync.BackendURL)
	}
	if cfg.Sync.Interval != prev.Sync.Interval {
		e.setBaseInterval(ctx, cfg.Sync.Interval)
	}

	e.webhooks.Update(cfg.Notifications)
	e.orch.SetTimings(cfg.Notifications.ModalTimeout, cfg.Notifications.MinimizeAfter, cfg.Notifications.RecoveryTimeout)
	e.announcer.SetOptions(voiceOptions(cfg.Voice))
	if u, ok := e.speaker.(voiceUpdater); ok {
		u.UpdateConfig(cfg.Voice)
	}

	if cfg.Server != prev.Server || cfg.Storage != prev.Storage || cfg.Alerts != prev.Alerts {
		slog.Warn("engine: server, storage and alert history settings apply on restart")
	}
	e.cfg = cfg
	return nil
}
