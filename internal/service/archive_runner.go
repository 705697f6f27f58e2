package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// ArchiveRunner periodically copies events older than the retention window
// to cold storage.
type ArchiveRunner struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewArchiveRunner(archiver domain.Archiver, retention, interval time.Duration, logger *slog.Logger) *ArchiveRunner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveRunner{
		archiver:  archiver,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_runner")),
	}
}

// RunOnce archives everything older than now minus the retention window.
func (r *ArchiveRunner) RunOnce(ctx context.Context) (int64, error) {
	before := r.now().UTC().Add(-r.retention)
	n, err := r.archiver.ArchiveEvents(ctx, before)
	if err != nil {
		return n, fmt.Errorf("archive_runner: %w", err)
	}
	r.logger.InfoContext(ctx, "archive_runner: archived events",
		slog.Int64("count", n),
		slog.Time("before", before),
	)
	return n, nil
}

// Run archives immediately and then once per interval until ctx is done.
// Failed runs are logged and retried on the next tick.
func (r *ArchiveRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "archive_runner: run failed",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
