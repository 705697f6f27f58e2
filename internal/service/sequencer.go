package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// SequencerLockKey is the distributed lock only the sequencing agentd holds.
const SequencerLockKey = "agentvault:sequencer"

// Sequencer guards single-writer ownership of the transaction log across
// processes.
type Sequencer struct {
	locks  domain.LockManager
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

func NewSequencer(locks domain.LockManager, ttl time.Duration, logger *slog.Logger) *Sequencer {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Sequencer{
		locks:  locks,
		key:    SequencerLockKey,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "sequencer")),
	}
}

// Acquire takes the sequencer lock or fails with domain.ErrLockHeld.
func (s *Sequencer) Acquire(ctx context.Context) (domain.Lock, error) {
	lock, err := s.locks.Acquire(ctx, s.key, s.ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("sequencer: another instance is sequencing: %w", err)
		}
		return nil, fmt.Errorf("sequencer: acquire: %w", err)
	}
	s.logger.InfoContext(ctx, "sequencer: lock acquired", slog.Duration("ttl", s.ttl))
	return lock, nil
}

// Hold refreshes lock every third of its TTL until ctx is done, then
// releases it. Losing the lock returns an error so the caller stops
// sequencing.
func (s *Sequencer) Hold(ctx context.Context, lock domain.Lock) error {
	defer lock.Release()
	ticker := time.NewTicker(s.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sequencer: releasing lock")
			return nil
		case <-ticker.C:
			if err := lock.Refresh(ctx, s.ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("sequencer: lost lock: %w", err)
			}
		}
	}
}
