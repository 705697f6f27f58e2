// Package wallet implements AgentWallet, the per-agent custody contract.
// It holds the owner's capital, enforces the agent's risk limits and is the
// only contract that moves funds into markets.
package wallet

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Kind is the contract kind reported to the dispatcher.
const Kind = "AgentWallet"

// LossWindow is the length of the daily-loss accounting window. The window
// resets in fixed steps: once now-start reaches LossWindow the accumulator is
// cleared and start moves to now. Losses just before and just after a reset
// are counted in different windows, so up to twice the limit can be lost
// across one boundary.
const LossWindow = 24 * time.Hour

// Authority is the global permission registry every wallet consults.
type Authority interface {
	GlobalTradingPaused() bool
	IsMarketActive(id common.Hash) bool
	IsExecutorAuthorized(addr common.Address) bool
}

// MarketRouter places and unwinds positions.
type MarketRouter interface {
	Address() common.Address
	OpenPosition(c *chain.Context, marketID common.Hash, dir domain.Direction) (domain.PositionRef, *big.Int, error)
	ClosePosition(c *chain.Context, ref domain.PositionRef) (*big.Int, error)
}

// Wallet is the AgentWallet contract.
type Wallet struct {
	addr      common.Address
	cfg       domain.AgentConfig
	authority Authority
	market    MarketRouter
	guard     chain.Guard
	st        state
}

type state struct {
	paused    bool
	positions map[uint64]domain.Position
	order     []uint64
	nextID    uint64
	metrics   domain.PerformanceMetrics
}

func (s state) clone() state {
	out := s
	out.positions = make(map[uint64]domain.Position, len(s.positions))
	for k, v := range s.positions {
		out.positions[k] = v
	}
	out.order = append([]uint64(nil), s.order...)
	return out
}

// New creates a wallet. The config is copied and never changes afterwards.
func New(addr common.Address, cfg domain.AgentConfig, authority Authority, market MarketRouter, now time.Time) *Wallet {
	cfg.MaxTradeSize = domain.Clone(cfg.MaxTradeSize)
	cfg.DailyLossLimit = domain.Clone(cfg.DailyLossLimit)
	cfg.WhitelistedMarkets = append([]common.Hash(nil), cfg.WhitelistedMarkets...)
	return &Wallet{
		addr:      addr,
		cfg:       cfg,
		authority: authority,
		market:    market,
		st: state{
			positions: make(map[uint64]domain.Position),
			nextID:    1,
			metrics: domain.PerformanceMetrics{
				CurrentBalance:        domain.Zero(),
				LockedCapital:         domain.Zero(),
				CumulativeRealizedPnl: domain.Zero(),
				DailyLossAccumulator:  domain.Zero(),
				DailyLossWindowStart:  now,
				TotalDeposited:        domain.Zero(),
				TotalWithdrawn:        domain.Zero(),
			},
		},
	}
}

func (w *Wallet) Address() common.Address { return w.addr }
func (w *Wallet) Kind() string            { return Kind }

func (w *Wallet) Snapshot() any    { return w.st.clone() }
func (w *Wallet) Restore(snap any) { w.st = snap.(state) }

func (w *Wallet) onlyOwner(c *chain.Context) error {
	if c.Sender != w.cfg.Owner {
		return domain.ErrNotOwner
	}
	return nil
}

func (w *Wallet) onlyExecutor(c *chain.Context) error {
	if c.Sender != w.cfg.Executor || !w.authority.IsExecutorAuthorized(c.Sender) {
		return domain.ErrNotAuthorizedExecutor
	}
	return nil
}

// Deposit credits the value attached to the call. The value has already
// been moved to the wallet by the environment.
func (w *Wallet) Deposit(c *chain.Context) error {
	if err := w.onlyOwner(c); err != nil {
		return err
	}
	if !domain.IsPositive(c.Value) {
		return domain.ErrInvalidAmount
	}
	c.Touch(w)
	m := &w.st.metrics
	m.CurrentBalance = domain.Add(m.CurrentBalance, c.Value)
	m.TotalDeposited = domain.Add(m.TotalDeposited, c.Value)
	c.Emit(domain.CapitalDeposited{
		Agent:          w.addr,
		Amount:         domain.Clone(c.Value),
		Balance:        domain.Clone(m.CurrentBalance),
		TotalDeposited: domain.Clone(m.TotalDeposited),
	})
	return nil
}

// Withdraw sends amount of available capital to the owner. Capital locked
// in open positions cannot be withdrawn.
func (w *Wallet) Withdraw(c *chain.Context, amount *big.Int) error {
	if err := w.onlyOwner(c); err != nil {
		return err
	}
	if !domain.IsPositive(amount) {
		return domain.ErrInvalidAmount
	}
	m := &w.st.metrics
	if amount.Cmp(m.CurrentBalance) > 0 {
		return domain.ErrInsufficientBalance
	}
	if err := w.guard.Enter(); err != nil {
		return err
	}
	defer w.guard.Exit()

	c.Touch(w)
	m.CurrentBalance = domain.Sub(m.CurrentBalance, amount)
	m.TotalWithdrawn = domain.Add(m.TotalWithdrawn, amount)
	if err := c.Transfer(w.cfg.Owner, amount); err != nil {
		return err
	}
	c.Emit(domain.CapitalWithdrawn{
		Agent:          w.addr,
		Amount:         domain.Clone(amount),
		Balance:        domain.Clone(m.CurrentBalance),
		TotalWithdrawn: domain.Clone(m.TotalWithdrawn),
	})
	return nil
}

// ExecuteTrade opens a position of amount on marketID. The checks run in a
// fixed order and the first failure is returned.
func (w *Wallet) ExecuteTrade(c *chain.Context, marketID common.Hash, amount *big.Int, dir domain.Direction) (uint64, error) {
	if err := w.onlyExecutor(c); err != nil {
		return 0, err
	}
	if w.st.paused {
		return 0, domain.ErrPaused
	}
	if w.authority.GlobalTradingPaused() {
		return 0, domain.ErrGlobalTradingPaused
	}
	if !w.cfg.Whitelisted(marketID) || !w.authority.IsMarketActive(marketID) {
		return 0, domain.ErrMarketNotWhitelisted
	}
	if !domain.IsPositive(amount) {
		return 0, domain.ErrInvalidAmount
	}
	if amount.Cmp(w.cfg.MaxTradeSize) > 0 {
		return 0, domain.ErrExceedsMaxTradeSize
	}
	m := &w.st.metrics
	if amount.Cmp(m.CurrentBalance) > 0 {
		return 0, domain.ErrInsufficientBalance
	}

	c.Touch(w)
	w.rollWindow(c.Now)
	if m.DailyLossAccumulator.Cmp(w.cfg.DailyLossLimit) >= 0 {
		return 0, domain.ErrDailyLossLimitReached
	}
	if w.cfg.MaxOpenPositions > 0 && m.OpenPositionsCount >= w.cfg.MaxOpenPositions {
		return 0, domain.ErrPositionLimitReached
	}

	if err := w.guard.Enter(); err != nil {
		return 0, err
	}
	defer w.guard.Exit()

	id := w.st.nextID
	w.st.nextID++
	m.CurrentBalance = domain.Sub(m.CurrentBalance, amount)
	m.LockedCapital = domain.Add(m.LockedCapital, amount)
	m.OpenPositionsCount++
	m.TotalTrades++
	now := c.Now
	m.LastTradeAt = &now

	sub, err := c.Call(w.market.Address(), amount)
	if err != nil {
		return 0, err
	}
	ref, price, err := w.market.OpenPosition(sub, marketID, dir)
	if err != nil {
		return 0, err
	}

	w.st.positions[id] = domain.Position{
		ID:          id,
		MarketID:    marketID,
		Direction:   dir,
		EntryAmount: domain.Clone(amount),
		EntryPrice:  domain.Clone(price),
		IsOpen:      true,
		OpenedAt:    c.Now,
		Ref:         ref,
	}
	w.st.order = append(w.st.order, id)

	c.Emit(domain.TradeExecuted{
		Agent:         w.addr,
		PositionID:    id,
		MarketID:      marketID,
		Amount:        domain.Clone(amount),
		Direction:     dir,
		EntryPrice:    domain.Clone(price),
		Balance:       domain.Clone(m.CurrentBalance),
		OpenPositions: m.OpenPositionsCount,
	})
	return id, nil
}

// ClosePosition unwinds an open position and books the realized PnL. It is
// allowed while paused and after the daily loss limit has been hit.
func (w *Wallet) ClosePosition(c *chain.Context, id uint64) (*big.Int, error) {
	if err := w.onlyExecutor(c); err != nil {
		return nil, err
	}
	pos, ok := w.st.positions[id]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	if !pos.IsOpen {
		return nil, domain.ErrPositionAlreadyClosed
	}
	if err := w.guard.Enter(); err != nil {
		return nil, err
	}
	defer w.guard.Exit()

	c.Touch(w)
	closedAt := c.Now
	pos.IsOpen = false
	pos.ClosedAt = &closedAt
	w.st.positions[id] = pos
	m := &w.st.metrics
	m.OpenPositionsCount--
	m.LockedCapital = domain.Sub(m.LockedCapital, pos.EntryAmount)

	sub, err := c.Call(w.market.Address(), nil)
	if err != nil {
		return nil, err
	}
	payout, err := w.market.ClosePosition(sub, pos.Ref)
	if err != nil {
		return nil, err
	}

	pnl := domain.Sub(payout, pos.EntryAmount)
	pos.Payout = domain.Clone(payout)
	pos.RealizedPnl = pnl
	w.st.positions[id] = pos

	m.CurrentBalance = domain.Add(m.CurrentBalance, payout)
	m.CumulativeRealizedPnl = domain.Add(m.CumulativeRealizedPnl, pnl)
	if pnl.Sign() >= 0 {
		m.Wins++
	} else {
		m.Losses++
	}

	w.rollWindow(c.Now)
	if pnl.Sign() < 0 {
		acc := domain.Sub(m.DailyLossAccumulator, pnl)
		if acc.Cmp(w.cfg.DailyLossLimit) >= 0 {
			acc = domain.Clone(w.cfg.DailyLossLimit)
			c.Emit(domain.DailyLossLimitReached{
				Agent:       w.addr,
				Accumulated: domain.Clone(acc),
				Limit:       domain.Clone(w.cfg.DailyLossLimit),
			})
		}
		m.DailyLossAccumulator = acc
	}

	c.Emit(domain.PositionClosed{
		Agent:         w.addr,
		PositionID:    id,
		Payout:        domain.Clone(payout),
		RealizedPnl:   domain.Clone(pnl),
		Balance:       domain.Clone(m.CurrentBalance),
		CumulativePnl: domain.Clone(m.CumulativeRealizedPnl),
		OpenPositions: m.OpenPositionsCount,
		Wins:          m.Wins,
		Losses:        m.Losses,
	})
	return payout, nil
}

// rollWindow resets the loss accumulator once the window has elapsed. The
// caller must have touched the wallet.
func (w *Wallet) rollWindow(now time.Time) {
	m := &w.st.metrics
	if now.Sub(m.DailyLossWindowStart) >= LossWindow {
		m.DailyLossAccumulator = domain.Zero()
		m.DailyLossWindowStart = now
	}
}

// Pause blocks new trades on this wallet.
func (w *Wallet) Pause(c *chain.Context) error {
	if err := w.onlyOwner(c); err != nil {
		return err
	}
	if w.st.paused {
		return domain.ErrPaused
	}
	c.Touch(w)
	w.st.paused = true
	c.Emit(domain.AgentPaused{Agent: w.addr})
	return nil
}

// Unpause lifts a local pause.
func (w *Wallet) Unpause(c *chain.Context) error {
	if err := w.onlyOwner(c); err != nil {
		return err
	}
	if !w.st.paused {
		return domain.ErrInvalidArgs
	}
	c.Touch(w)
	w.st.paused = false
	c.Emit(domain.AgentUnpaused{Agent: w.addr})
	return nil
}

// Config returns a copy of the wallet configuration.
func (w *Wallet) Config() domain.AgentConfig {
	cfg := w.cfg
	cfg.MaxTradeSize = domain.Clone(cfg.MaxTradeSize)
	cfg.DailyLossLimit = domain.Clone(cfg.DailyLossLimit)
	cfg.WhitelistedMarkets = append([]common.Hash(nil), cfg.WhitelistedMarkets...)
	return cfg
}

func (w *Wallet) Owner() common.Address    { return w.cfg.Owner }
func (w *Wallet) Executor() common.Address { return w.cfg.Executor }
func (w *Wallet) Paused() bool             { return w.st.paused }

// Position returns position id. ok is false for unknown ids.
func (w *Wallet) Position(id uint64) (domain.Position, bool) {
	p, ok := w.st.positions[id]
	return p, ok
}

// Positions returns every position in creation order.
func (w *Wallet) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(w.st.order))
	for _, id := range w.st.order {
		out = append(out, w.st.positions[id])
	}
	return out
}

// OpenPositions returns the open positions ordered by id.
func (w *Wallet) OpenPositions() []domain.Position {
	out := make([]domain.Position, 0, w.st.metrics.OpenPositionsCount)
	for _, p := range w.st.positions {
		if p.IsOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metrics returns a copy of the performance metrics.
func (w *Wallet) Metrics() domain.PerformanceMetrics {
	m := w.st.metrics
	m.CurrentBalance = domain.Clone(m.CurrentBalance)
	m.LockedCapital = domain.Clone(m.LockedCapital)
	m.CumulativeRealizedPnl = domain.Clone(m.CumulativeRealizedPnl)
	m.DailyLossAccumulator = domain.Clone(m.DailyLossAccumulator)
	m.TotalDeposited = domain.Clone(m.TotalDeposited)
	m.TotalWithdrawn = domain.Clone(m.TotalWithdrawn)
	if m.LastTradeAt != nil {
		t := *m.LastTradeAt
		m.LastTradeAt = &t
	}
	return m
}

var (
	_ chain.Contract = (*Wallet)(nil)
	_ chain.Stateful = (*Wallet)(nil)
)
