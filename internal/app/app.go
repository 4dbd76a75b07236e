// Package app wires configuration, the translation core and the HTTP
// server together and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/anthrogate/gateway/internal/anthropicadapter"
	"github.com/anthrogate/gateway/internal/anthropicadapter/openaichat"
	"github.com/anthrogate/gateway/internal/proxy"
	"github.com/anthrogate/gateway/internal/token"
)

// ReloadFunc re-reads the full configuration from its sources. It is
// invoked by the config watcher when the config file changes.
type ReloadFunc func() (*Config, error)

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg       *Config
	publisher *anthropicadapter.Publisher
	proxy     *proxy.Proxy
	watcher   *configWatcher
}

// Option configures the App.
type Option func(*App)

// WithConfigReload enables hot reload: path is watched and reload re-runs
// the loader on change, republishing the runtime snapshot.
func WithConfigReload(path string, reload ReloadFunc) Option {
	return func(a *App) {
		if path != "" && reload != nil {
			a.watcher = newConfigWatcher(path, reload, a.publisher)
		}
	}
}

// New creates a new App instance.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	snapshot, err := cfg.Snapshot(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to build config snapshot: %w", err)
	}
	publisher := anthropicadapter.NewPublisher(snapshot)

	estimator, err := token.NewEstimator()
	if err != nil {
		return nil, fmt.Errorf("failed to create token estimator: %w", err)
	}

	adapter := openaichat.NewCreateMessageAdapter(estimator, token.NewCache(token.DefaultCacheEntries))

	proxyServer, err := proxy.New(publisher, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	a := &App{
		cfg:       cfg,
		publisher: publisher,
		proxy:     proxyServer,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	if a.watcher != nil {
		if err := a.watcher.Start(gCtx); err != nil {
			slog.WarnContext(gCtx, "config watcher disabled", "error", err)
		} else {
			shutdownFuncs = append(shutdownFuncs, a.watcher.Shutdown)
		}
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
