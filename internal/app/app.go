// Package app runs agentd. Wire builds the storage, coordination, archive
// and notification backends from config; each mode then starts its
// goroutines in one errgroup and blocks until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/agentvault/internal/config"
)

// App owns the configuration and the cleanups registered by Wire, run in
// reverse order by Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"node":      (*App).NodeMode,
	"sequencer": (*App).SequencerMode,
	"indexer":   (*App).IndexerMode,
}

// Run wires the backends and runs the configured mode until ctx is done.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	backends := make([]string, 0, len(deps.Pingers))
	for name := range deps.Pingers {
		backends = append(backends, name)
	}
	slices.Sort(backends)
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("storage", a.cfg.Storage),
		slog.Any("backends", backends),
		slog.Bool("archive", deps.Archiver != nil),
	)
	return run(a, ctx, deps)
}

// Close releases what Run wired. Further calls do nothing.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: closing backends")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
