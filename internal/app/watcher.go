package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/providers/file"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
)

// configWatcher re-runs the config loader when the config file changes
// and atomically republishes the runtime snapshot. Requests in flight
// keep the snapshot they started with.
type configWatcher struct {
	path      string
	reload    ReloadFunc
	publisher *anthropicadapter.Publisher
	provider  *file.File
}

func newConfigWatcher(path string, reload ReloadFunc, publisher *anthropicadapter.Publisher) *configWatcher {
	return &configWatcher{
		path:      path,
		reload:    reload,
		publisher: publisher,
	}
}

// Start begins watching the config file. Reload failures keep the
// previous snapshot in place.
func (w *configWatcher) Start(ctx context.Context) error {
	w.provider = file.Provider(w.path)

	err := w.provider.Watch(func(event any, err error) {
		if err != nil {
			slog.ErrorContext(ctx, "config watch error", "error", err)
			return
		}

		cfg, err := w.reload()
		if err != nil {
			slog.ErrorContext(ctx, "config reload failed, keeping previous config", "error", err)
			return
		}

		snapshot, err := cfg.Snapshot(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "config snapshot failed, keeping previous config", "error", err)
			return
		}

		w.publisher.Store(snapshot)
		slog.InfoContext(ctx, "configuration reloaded", "path", w.path)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	slog.InfoContext(ctx, "watching config file", "path", w.path)
	return nil
}

// Shutdown stops watching the config file.
func (w *configWatcher) Shutdown(ctx context.Context) error {
	if w.provider == nil {
		return nil
	}
	return w.provider.Unwatch()
}
