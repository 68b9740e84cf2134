// Package app wires the crossarb components together and runs them in the
// configured mode: monitor (detect and notify), paper (simulated fills) or
// live (real orders).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/crossarb/internal/config"
)

// App owns one bot run and the resources it opened.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cleanup []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger.With(slog.String("component", "app"))}
}

// Run wires the infrastructure, assembles the runtime for the configured
// mode and blocks until ctx is cancelled and shutdown has drained.
// Resources stay open until Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	a.onClose(cleanup)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}

	rt, err := a.build(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: build %s mode: %w", a.cfg.Mode, err)
	}
	return a.serve(ctx, rt, deps)
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanup = append(a.cleanup, fn)
}

// Close releases resources newest first. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	fns := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	if len(fns) > 0 {
		a.logger.Info("app: resources closed")
	}
}
