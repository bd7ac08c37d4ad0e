package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces the burst of events editors produce on save.
const debounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes
// every valid result to apply. Invalid files are logged and ignored. Watch
// blocks until ctx is done.
//
// The parent directory is watched rather than the file itself, so that
// editors replacing the file via rename are handled.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.LogAttrs(ctx, slog.LevelWarn, "config: watch error", slog.Any("err", err))
		case <-fire:
			fire = nil
			cfg, err := Load(path)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logger.LogAttrs(ctx, slog.LevelWarn, "config: ignoring invalid reload", slog.String("path", path), slog.Any("err", err))
				continue
			}
			logger.LogAttrs(ctx, slog.LevelInfo, "config: reloaded", slog.String("path", path))
			apply(cfg)
		}
	}
}
