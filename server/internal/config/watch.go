package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the file at path whenever it changes and hands the new Config
// to onChange. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that editors
// that save by rename keep triggering reloads. A reload that fails to parse
// or validate is logged and skipped; onChange only sees valid configs.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(abs)
			if err != nil {
				slog.Error("config: reload rejected, keeping previous config", "path", abs, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
