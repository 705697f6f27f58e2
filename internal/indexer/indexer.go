// Package indexer maintains the off-chain mirror from the committed event
// log. Every write is an absolute upsert taken from event fields, so
// re-applying an event leaves the mirror unchanged.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// EventSource lists committed events after a sequence number.
type EventSource interface {
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]domain.EventRecord, error)
}

// Config tunes polling.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

// Indexer applies committed events to a MirrorStore.
type Indexer struct {
	events EventSource
	mirror domain.MirrorStore
	cfg    Config
	logger *slog.Logger
}

func New(events EventSource, mirror domain.MirrorStore, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Indexer{
		events: events,
		mirror: mirror,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "indexer")),
	}
}

// Sync applies every event after the stored cursor and returns how many were
// applied. The cursor only moves past whole transactions.
func (ix *Indexer) Sync(ctx context.Context) (int, error) {
	cursor, err := ix.mirror.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("indexer: read cursor: %w", err)
	}
	applied := 0
	for {
		batch, err := ix.events.ListEvents(ctx, cursor, ix.cfg.BatchSize)
		if err != nil {
			return applied, fmt.Errorf("indexer: list events after %d: %w", cursor, err)
		}
		if len(batch) == 0 {
			return applied, nil
		}
		for _, rec := range batch {
			if err := ix.Apply(ctx, rec); err != nil {
				return applied, err
			}
			applied++
		}
		cursor = batch[len(batch)-1].Seq
		if err := ix.mirror.SetCursor(ctx, cursor); err != nil {
			return applied, fmt.Errorf("indexer: set cursor %d: %w", cursor, err)
		}
		if len(batch) < ix.cfg.BatchSize {
			return applied, nil
		}
	}
}

// Run polls for new events until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()
	for {
		n, err := ix.Sync(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			ix.logger.ErrorContext(ctx, "indexer: sync failed", slog.String("error", err.Error()))
		case n > 0:
			ix.logger.DebugContext(ctx, "indexer: applied events", slog.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Apply folds one event into the mirror. Events the mirror does not track
// are ignored.
func (ix *Indexer) Apply(ctx context.Context, rec domain.EventRecord) error {
	ev, err := domain.DecodeEvent(rec)
	if err != nil {
		return fmt.Errorf("indexer: seq %d: %w", rec.Seq, err)
	}
	ts := rec.Timestamp.UTC()

	switch e := ev.(type) {
	case *domain.MarketRegistered:
		var m domain.MirrorMarket
		if m, err = ix.market(ctx, e.MarketID); err != nil {
			return err
		}
		m.ID, m.Name, m.Region, m.IsActive, m.UpdatedAt = e.MarketID, e.Name, e.Region, true, ts
		err = ix.mirror.UpsertMarket(ctx, m)

	case *domain.MarketStatusChanged:
		err = ix.updateMarket(ctx, e.MarketID, func(m *domain.MirrorMarket) {
			m.IsActive = e.IsActive
			m.UpdatedAt = ts
		})

	case *domain.PriceUpdated:
		err = ix.updateMarket(ctx, e.MarketID, func(m *domain.MirrorMarket) {
			m.Price = domain.Clone(e.Price)
			m.UpdatedAt = ts
		})

	case *domain.AgentCreated:
		_, gerr := ix.mirror.GetAgent(ctx, e.Agent)
		if gerr == nil {
			return nil
		}
		if !errors.Is(gerr, domain.ErrNotFound) {
			return fmt.Errorf("indexer: get agent %s: %w", e.Agent.Hex(), gerr)
		}
		err = ix.mirror.UpsertAgent(ctx, domain.MirrorAgent{
			Address:          e.Agent,
			Owner:            e.Owner,
			Executor:         e.Config.Executor,
			RiskProfile:      e.Config.RiskProfile,
			MaxTradeSize:     domain.Clone(e.Config.MaxTradeSize),
			DailyLossLimit:   domain.Clone(e.Config.DailyLossLimit),
			MaxOpenPositions: e.Config.MaxOpenPositions,
			Markets:          append([]common.Hash(nil), e.Config.WhitelistedMarkets...),
			Balance:          domain.Zero(),
			TotalDeposited:   domain.Zero(),
			TotalWithdrawn:   domain.Zero(),
			Pnl:              domain.Zero(),
			CreatedSeq:       rec.Seq,
			CreatedAt:        ts,
			UpdatedAt:        ts,
		})

	case *domain.CapitalDeposited:
		err = ix.updateAgent(ctx, e.Agent, func(a *domain.MirrorAgent) {
			a.Balance = domain.Clone(e.Balance)
			a.TotalDeposited = domain.Clone(e.TotalDeposited)
			a.UpdatedAt = ts
		})

	case *domain.CapitalWithdrawn:
		err = ix.updateAgent(ctx, e.Agent, func(a *domain.MirrorAgent) {
			a.Balance = domain.Clone(e.Balance)
			a.TotalWithdrawn = domain.Clone(e.TotalWithdrawn)
			a.UpdatedAt = ts
		})

	case *domain.TradeExecuted:
		err = ix.tradeExecuted(ctx, rec, e)

	case *domain.PositionClosed:
		err = ix.positionClosed(ctx, rec, e)

	case *domain.AgentPaused:
		err = ix.updateAgent(ctx, e.Agent, func(a *domain.MirrorAgent) {
			a.Paused = true
			a.UpdatedAt = ts
		})

	case *domain.AgentUnpaused:
		err = ix.updateAgent(ctx, e.Agent, func(a *domain.MirrorAgent) {
			a.Paused = false
			a.UpdatedAt = ts
		})
	}
	if err != nil {
		return fmt.Errorf("indexer: apply %s at seq %d: %w", rec.Name, rec.Seq, err)
	}
	return nil
}

func (ix *Indexer) tradeExecuted(ctx context.Context, rec domain.EventRecord, e *domain.TradeExecuted) error {
	ts := rec.Timestamp.UTC()
	var owner common.Address
	err := ix.updateAgent(ctx, e.Agent, func(a *domain.MirrorAgent) {
		owner = a.Owner
		a.Balance = domain.Clone(e.Balance)
		a.OpenPositions = e.OpenPositions
		if e.PositionID > a.TotalTrades {
			a.TotalTrades = e.PositionID
		}
		a.UpdatedAt = ts
	})
	if err != nil {
		return err
	}

	// A closed position is never reopened by a replayed open.
	_, err = ix.mirror.GetPosition(ctx, e.Agent, e.PositionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		err = ix.mirror.UpsertPosition(ctx, domain.MirrorPosition{
			Agent:       e.Agent,
			ID:          e.PositionID,
			MarketID:    e.MarketID,
			Direction:   e.Direction,
			EntryAmount: domain.Clone(e.Amount),
			EntryPrice:  domain.Clone(e.EntryPrice),
			IsOpen:      true,
			OpenedAt:    ts,
		})
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	return ix.mirror.InsertTrade(ctx, domain.MirrorTrade{
		Agent:      e.Agent,
		Owner:      owner,
		PositionID: e.PositionID,
		Kind:       domain.TradeOpen,
		MarketID:   e.MarketID,
		Direction:  e.Direction,
		Amount:     domain.Clone(e.Amount),
		Price:      domain.Clone(e.EntryPrice),
		TxHash:     rec.TxHash,
		Seq:        rec.Seq,
		Timestamp:  ts,
	})
}

func (ix *Indexer) positionClosed(ctx context.Context, rec domain.EventRecord, e *domain.PositionClosed) error {
	ts := rec.Timestamp.UTC()
	var owner common.Address
	err := ix.updateAgent(ctx, e.Agent, func(a *domain.MirrorAgent) {
		owner = a.Owner
		a.Balance = domain.Clone(e.Balance)
		a.Pnl = domain.Clone(e.CumulativePnl)
		a.OpenPositions = e.OpenPositions
		a.Wins = e.Wins
		a.Losses = e.Losses
		a.UpdatedAt = ts
	})
	if err != nil {
		return err
	}

	p, err := ix.mirror.GetPosition(ctx, e.Agent, e.PositionID)
	if err != nil {
		return fmt.Errorf("position %d: %w", e.PositionID, err)
	}
	closedAt := ts
	p.IsOpen = false
	p.ClosedAt = &closedAt
	p.Payout = domain.Clone(e.Payout)
	p.RealizedPnl = domain.Clone(e.RealizedPnl)
	if err := ix.mirror.UpsertPosition(ctx, p); err != nil {
		return err
	}

	return ix.mirror.InsertTrade(ctx, domain.MirrorTrade{
		Agent:      e.Agent,
		Owner:      owner,
		PositionID: e.PositionID,
		Kind:       domain.TradeClose,
		MarketID:   p.MarketID,
		Direction:  p.Direction,
		Amount:     domain.Clone(e.Payout),
		Pnl:        domain.Clone(e.RealizedPnl),
		TxHash:     rec.TxHash,
		Seq:        rec.Seq,
		Timestamp:  ts,
	})
}

// market returns the stored market or a fresh zero value.
func (ix *Indexer) market(ctx context.Context, id common.Hash) (domain.MirrorMarket, error) {
	m, err := ix.mirror.GetMarket(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MirrorMarket{ID: id}, nil
	}
	return m, err
}

func (ix *Indexer) updateMarket(ctx context.Context, id common.Hash, fn func(*domain.MirrorMarket)) error {
	m, err := ix.mirror.GetMarket(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// Prices can move on venue markets the permission manager never
		// registered.
		return nil
	}
	if err != nil {
		return err
	}
	fn(&m)
	return ix.mirror.UpsertMarket(ctx, m)
}

func (ix *Indexer) updateAgent(ctx context.Context, addr common.Address, fn func(*domain.MirrorAgent)) error {
	a, err := ix.mirror.GetAgent(ctx, addr)
	if err != nil {
		return fmt.Errorf("agent %s: %w", addr.Hex(), err)
	}
	fn(&a)
	return ix.mirror.UpsertAgent(ctx, a)
}
