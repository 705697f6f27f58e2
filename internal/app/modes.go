package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/indexer"
	"github.com/alanyoungcy/agentvault/internal/server"
	"github.com/alanyoungcy/agentvault/internal/server/handler"
	"github.com/alanyoungcy/agentvault/internal/server/ws"
	"github.com/alanyoungcy/agentvault/internal/service"
	"github.com/alanyoungcy/agentvault/internal/system"
)

// alertBuffer bounds the alerts waiting for delivery.
const alertBuffer = 256

// NodeMode runs everything in one process: the sequencer, the indexer that
// keeps the mirror current, the archiver and the full HTTP API.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: node mode")

	g, ctx := errgroup.WithContext(ctx)

	sys, err := a.startSequencer(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startIndexer(ctx, g, deps)
	archive := a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, sys, true, archive)

	return g.Wait()
}

// SequencerMode accepts transactions and serves authoritative reads. The
// mirror is left to a separate indexer process sharing the database.
func (a *App) SequencerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: sequencer mode")

	g, ctx := errgroup.WithContext(ctx)

	sys, err := a.startSequencer(ctx, g, deps)
	if err != nil {
		return err
	}
	archive := a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, sys, false, archive)

	return g.Wait()
}

// IndexerMode follows the shared ledger into the mirror and serves the
// read-only API. It never executes transactions.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: indexer mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startIndexer(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, nil, true, nil)

	return g.Wait()
}

// startSequencer takes the sequencer lock when Redis is available, deploys
// the contracts, brings them to the state in the ledger and attaches the
// post-commit sinks. The lock is released again if startup fails.
func (a *App) startSequencer(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*system.System, error) {
	releaseLock := func() {}
	if deps.LockManager != nil {
		seq := service.NewSequencer(deps.LockManager, a.cfg.Sequencer.LockTTL.Duration, a.logger)
		lock, err := seq.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		holdCtx, cancel := context.WithCancel(ctx)
		releaseLock = cancel
		g.Go(func() error {
			defer cancel()
			return seq.Hold(holdCtx, lock)
		})
	} else {
		a.logger.WarnContext(ctx, "sequencer: no lock manager; run a single sequencing process per ledger")
	}

	env := chain.New(
		chain.WithTxLog(deps.Ledger),
		chain.WithLogger(a.logger),
	)
	sys, err := a.deploy(ctx, env, deps)
	if err != nil {
		releaseLock()
		return nil, fmt.Errorf("app: %w", err)
	}

	// Sinks attach after bootstrap so replayed history is not re-announced.
	env.AddSink(service.NewEventPublisher(deps.SignalBus))
	alerts := service.NewAlertSink(deps.Notifier, alertBuffer, a.logger)
	env.AddSink(alerts)
	g.Go(func() error {
		return alerts.Run(ctx)
	})

	info := sys.Info()
	a.logger.InfoContext(ctx, "sequencer: ready",
		slog.Uint64("seq", info.Seq),
		slog.Int("agents", info.AgentCount),
		slog.String("agent_factory", info.Addresses.Factory.Hex()),
	)
	return sys, nil
}

func (a *App) deploy(ctx context.Context, env *chain.Env, deps *Dependencies) (*system.System, error) {
	params, err := ChainParams(a.cfg.Chain)
	if err != nil {
		return nil, err
	}
	sys, err := system.Deploy(env, params, a.logger)
	if err != nil {
		return nil, err
	}
	if err := sys.Bootstrap(ctx, deps.Ledger); err != nil {
		return nil, err
	}
	return sys, nil
}

func (a *App) startIndexer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	ix := indexer.New(deps.Ledger, deps.Mirror, indexer.Config{
		BatchSize:    a.cfg.Indexer.BatchSize,
		PollInterval: a.cfg.Indexer.PollInterval.Duration,
	}, a.logger)
	g.Go(func() error {
		return ix.Run(ctx)
	})
}

// startArchiver returns nil when archival is disabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) *service.ArchiveRunner {
	if deps.Archiver == nil {
		return nil
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	runner := service.NewArchiveRunner(deps.Archiver, retention, a.cfg.Archive.Interval.Duration, a.logger)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	return runner
}

// startHTTPServer builds the API for what this process runs. sys is nil
// when transactions are not accepted; mirror is false when no indexer
// feeds the read model.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	sys *system.System,
	mirror bool,
	archive *service.ArchiveRunner,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	hub := ws.NewHub(deps.SignalBus, service.ChannelEvents, service.StreamEvents, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Pingers, a.logger),
	}
	if mirror {
		handlers.Markets = handler.NewMarketHandler(deps.Mirror, a.logger)
		handlers.Agents = handler.NewAgentHandler(deps.Mirror, a.logger)
		handlers.Portfolio = handler.NewPortfolioHandler(deps.Mirror)
	}
	if sys != nil {
		txs := service.NewTxService(sys, deps.RateLimiter, deps.Deduper, deps.Audit, service.TxConfig{
			RequireSignatures: a.cfg.Tx.RequireSignatures,
			MaxDeadline:       a.cfg.Tx.MaxDeadline.Duration,
			RateLimit:         a.cfg.Tx.RateLimit,
			RateWindow:        a.cfg.Tx.RateWindow.Duration,
		}, a.logger)
		handlers.Chain = handler.NewChainHandler(sys)
		handlers.Tx = handler.NewTxHandler(txs, a.logger)
	}
	var trigger handler.ArchiveTrigger
	if archive != nil {
		trigger = archive
	}
	handlers.Admin = handler.NewAdminHandler(deps.Audit, trigger, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
