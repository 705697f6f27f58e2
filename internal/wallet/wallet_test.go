package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

var (
	owner      = common.HexToAddress("0x0e")
	executor   = common.HexToAddress("0xe0")
	stranger   = common.HexToAddress("0x5e")
	walletAddr = common.HexToAddress("0xa9")
	routerAddr = common.HexToAddress("0xad")
	nigeria    = domain.MarketIDFromKey("NIGERIA_ELECTION_2027")
	kenya      = domain.MarketIDFromKey("KENYA_SHILLING_150")
)

type fakeAuthority struct {
	paused   bool
	inactive map[common.Hash]bool
	revoked  map[common.Address]bool
}

func (a *fakeAuthority) GlobalTradingPaused() bool                  { return a.paused }
func (a *fakeAuthority) IsMarketActive(id common.Hash) bool         { return !a.inactive[id] }
func (a *fakeAuthority) IsExecutorAuthorized(x common.Address) bool { return !a.revoked[x] }

// fakeRouter pays back a scripted amount per position, defaulting to the
// stake. When reenter is set it calls back into the wallet on close.
type fakeRouter struct {
	w       *Wallet
	nextID  uint64
	stakes  map[uint64]*big.Int
	payouts map[uint64]*big.Int
	reenter func(c *chain.Context) error
}

func (r *fakeRouter) Address() common.Address { return routerAddr }
func (r *fakeRouter) Kind() string            { return "FakeRouter" }

func (r *fakeRouter) OpenPosition(c *chain.Context, _ common.Hash, _ domain.Direction) (domain.PositionRef, *big.Int, error) {
	r.nextID++
	r.stakes[r.nextID] = domain.Clone(c.Value)
	return domain.PositionRef{Venue: routerAddr, ID: r.nextID}, domain.Ether("0.5"), nil
}

func (r *fakeRouter) ClosePosition(c *chain.Context, ref domain.PositionRef) (*big.Int, error) {
	if r.reenter != nil {
		frame := *c
		frame.Sender = executor
		if err := r.reenter(&frame); err != nil {
			return nil, err
		}
	}
	payout, ok := r.payouts[ref.ID]
	if !ok {
		payout = r.stakes[ref.ID]
	}
	if err := c.Transfer(c.Sender, payout); err != nil {
		return nil, err
	}
	return domain.Clone(payout), nil
}

type harness struct {
	env    *chain.Env
	auth   *fakeAuthority
	router *fakeRouter
	w      *Wallet
	now    time.Time
}

func newHarness(t *testing.T, mutate func(cfg *domain.AgentConfig)) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	h.env = chain.New(chain.WithClock(func() time.Time { return h.now }))
	h.auth = &fakeAuthority{inactive: map[common.Hash]bool{}, revoked: map[common.Address]bool{}}
	h.router = &fakeRouter{stakes: map[uint64]*big.Int{}, payouts: map[uint64]*big.Int{}}

	cfg := domain.AgentConfig{
		Owner:              owner,
		Executor:           executor,
		MaxTradeSize:       domain.Ether("0.1"),
		DailyLossLimit:     domain.Ether("0.25"),
		MaxOpenPositions:   5,
		WhitelistedMarkets: []common.Hash{nigeria},
		RiskProfile:        domain.RiskModerate,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.w = New(walletAddr, cfg, h.auth, h.router, h.now)
	h.router.w = h.w
	require.NoError(t, h.env.Register(h.w))
	require.NoError(t, h.env.Register(h.router))

	_, err := h.env.Execute(context.Background(), domain.Call{From: owner, Method: "mint"}, func(c *chain.Context) (any, error) {
		c.Mint(owner, domain.Ether("10"))
		c.Mint(routerAddr, domain.Ether("10"))
		return nil, nil
	})
	require.NoError(t, err)
	return h
}

func (h *harness) do(from common.Address, value *big.Int, fn func(c *chain.Context) error) error {
	_, err := h.env.Execute(context.Background(), domain.Call{From: from, To: walletAddr, Value: value}, func(c *chain.Context) (any, error) {
		return nil, fn(c)
	})
	return err
}

func (h *harness) deposit(t *testing.T, amount string) {
	t.Helper()
	require.NoError(t, h.do(owner, domain.Ether(amount), h.w.Deposit))
}

func (h *harness) trade(from common.Address, market common.Hash, amount *big.Int) (uint64, error) {
	var id uint64
	err := h.do(from, nil, func(c *chain.Context) error {
		var err error
		id, err = h.w.ExecuteTrade(c, market, amount, domain.DirectionBuy)
		return err
	})
	return id, err
}

func (h *harness) close(id uint64) (*big.Int, error) {
	var payout *big.Int
	err := h.do(executor, nil, func(c *chain.Context) error {
		var err error
		payout, err = h.w.ClosePosition(c, id)
		return err
	})
	return payout, err
}

func (h *harness) ledgerBalance() *big.Int {
	var out *big.Int
	_ = h.env.View(func(s chain.State) error {
		out = s.Balance(walletAddr)
		return nil
	})
	return out
}

// checkAccounting asserts the wallet's bookkeeping identities.
func (h *harness) checkAccounting(t *testing.T) {
	t.Helper()
	m := h.w.Metrics()
	assert.Equal(t, m.CurrentBalance.String(), h.ledgerBalance().String(), "ledger balance")

	locked := domain.Zero()
	for _, p := range h.w.OpenPositions() {
		locked = domain.Add(locked, p.EntryAmount)
	}
	assert.Equal(t, locked.String(), m.LockedCapital.String(), "locked capital")
	assert.Equal(t, len(h.w.OpenPositions()), m.OpenPositionsCount)

	lhs := domain.Add(m.CurrentBalance, m.LockedCapital)
	rhs := domain.Add(domain.Sub(m.TotalDeposited, m.TotalWithdrawn), m.CumulativeRealizedPnl)
	assert.Equal(t, rhs.String(), lhs.String(), "capital identity")
	assert.LessOrEqual(t, m.DailyLossAccumulator.Cmp(h.w.Config().DailyLossLimit), 0, "loss accumulator bound")
}

func TestDeposit(t *testing.T) {
	h := newHarness(t, nil)

	err := h.do(stranger, nil, h.w.Deposit)
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	err = h.do(owner, nil, h.w.Deposit)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	h.deposit(t, "1")
	m := h.w.Metrics()
	assert.Equal(t, domain.Ether("1").String(), m.CurrentBalance.String())
	assert.Equal(t, domain.Ether("1").String(), m.TotalDeposited.String())
	h.checkAccounting(t)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "0.3")
	_, err := h.trade(executor, nigeria, domain.Ether("0.1"))
	require.NoError(t, err)

	err = h.do(owner, nil, func(c *chain.Context) error { return h.w.Withdraw(c, domain.Ether("0.25")) })
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = h.do(stranger, nil, func(c *chain.Context) error { return h.w.Withdraw(c, domain.Ether("0.1")) })
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	err = h.do(owner, nil, func(c *chain.Context) error { return h.w.Withdraw(c, big.NewInt(0)) })
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error { return h.w.Withdraw(c, domain.Ether("0.2")) }))
	assert.Equal(t, 0, h.w.Metrics().CurrentBalance.Sign())
	assert.Equal(t, domain.Ether("0.2").String(), h.w.Metrics().TotalWithdrawn.String())
	h.checkAccounting(t)
}

func TestExecuteTrade_CheckOrder(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		from    common.Address
		market  common.Hash
		amount  *big.Int
		wantErr error
	}{
		{name: "stranger", from: stranger, market: kenya, amount: domain.Ether("5"), wantErr: domain.ErrNotAuthorizedExecutor},
		{
			name:    "executor revoked globally",
			setup:   func(h *harness) { h.auth.revoked[executor] = true },
			from:    executor,
			market:  nigeria,
			amount:  domain.Ether("0.05"),
			wantErr: domain.ErrNotAuthorizedExecutor,
		},
		{
			name:    "local pause wins over global pause",
			setup: func(h *harness) {
				h.w.st.paused = true
				h.auth.paused = true
			},
			from:    executor,
			market:  kenya,
			amount:  domain.Ether("5"),
			wantErr: domain.ErrPaused,
		},
		{
			name:    "global pause",
			setup:   func(h *harness) { h.auth.paused = true },
			from:    executor,
			market:  kenya,
			amount:  domain.Ether("5"),
			wantErr: domain.ErrGlobalTradingPaused,
		},
		{name: "not whitelisted", from: executor, market: kenya, amount: domain.Ether("5"), wantErr: domain.ErrMarketNotWhitelisted},
		{
			name:    "whitelisted but deactivated",
			setup:   func(h *harness) { h.auth.inactive[nigeria] = true },
			from:    executor,
			market:  nigeria,
			amount:  domain.Ether("0.05"),
			wantErr: domain.ErrMarketNotWhitelisted,
		},
		{name: "zero amount", from: executor, market: nigeria, amount: big.NewInt(0), wantErr: domain.ErrInvalidAmount},
		{name: "too large", from: executor, market: nigeria, amount: domain.Ether("1"), wantErr: domain.ErrExceedsMaxTradeSize},
		{name: "more than balance", from: executor, market: nigeria, amount: domain.Ether("0.1"), wantErr: domain.ErrInsufficientBalance},
		{
			name:    "loss limit already reached",
			setup:   func(h *harness) { h.w.st.metrics.DailyLossAccumulator = domain.Ether("0.25") },
			from:    executor,
			market:  nigeria,
			amount:  domain.Ether("0.05"),
			wantErr: domain.ErrDailyLossLimitReached,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.deposit(t, "0.06")
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.trade(tt.from, tt.market, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.w.Positions())
			assert.Zero(t, h.w.Metrics().TotalTrades)
		})
	}
}

func TestExecuteTrade_PositionLimit(t *testing.T) {
	h := newHarness(t, func(cfg *domain.AgentConfig) { cfg.MaxOpenPositions = 2 })
	h.deposit(t, "1")
	for i := 0; i < 2; i++ {
		_, err := h.trade(executor, nigeria, domain.Ether("0.05"))
		require.NoError(t, err)
	}
	_, err := h.trade(executor, nigeria, domain.Ether("0.05"))
	assert.ErrorIs(t, err, domain.ErrPositionLimitReached)

	_, err = h.close(1)
	require.NoError(t, err)
	_, err = h.trade(executor, nigeria, domain.Ether("0.05"))
	assert.NoError(t, err)
}

func TestExecuteTrade_RecordsPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "1")

	id, err := h.trade(executor, nigeria, domain.Ether("0.05"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	p, ok := h.w.Position(id)
	require.True(t, ok)
	assert.True(t, p.IsOpen)
	assert.Equal(t, nigeria, p.MarketID)
	assert.Equal(t, domain.Ether("0.05").String(), p.EntryAmount.String())
	assert.Equal(t, domain.Ether("0.5").String(), p.EntryPrice.String())
	assert.Equal(t, h.now, p.OpenedAt)
	assert.Nil(t, p.ClosedAt)

	m := h.w.Metrics()
	assert.Equal(t, uint64(1), m.TotalTrades)
	assert.Equal(t, 1, m.OpenPositionsCount)
	assert.Equal(t, domain.Ether("0.95").String(), m.CurrentBalance.String())
	require.NotNil(t, m.LastTradeAt)
	h.checkAccounting(t)
}

func TestClosePosition_Lifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "1")
	id, err := h.trade(executor, nigeria, domain.Ether("0.1"))
	require.NoError(t, err)
	h.router.payouts[1] = domain.Ether("0.13")

	err = h.do(stranger, nil, func(c *chain.Context) error {
		_, err := h.w.ClosePosition(c, id)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorizedExecutor)

	_, err = h.close(99)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	h.now = h.now.Add(time.Hour)
	payout, err := h.close(id)
	require.NoError(t, err)
	assert.Equal(t, domain.Ether("0.13").String(), payout.String())

	p, _ := h.w.Position(id)
	assert.False(t, p.IsOpen)
	require.NotNil(t, p.ClosedAt)
	assert.Equal(t, h.now, *p.ClosedAt)
	assert.Equal(t, domain.Ether("0.03").String(), p.RealizedPnl.String())

	m := h.w.Metrics()
	assert.Equal(t, 0, m.OpenPositionsCount)
	assert.Equal(t, domain.Ether("1.03").String(), m.CurrentBalance.String())
	assert.Equal(t, uint64(1), m.Wins)
	assert.Equal(t, 0, m.DailyLossAccumulator.Sign())
	h.checkAccounting(t)

	_, err = h.close(id)
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyClosed)
}

func TestClosePosition_AllowedWhilePaused(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "1")
	id, err := h.trade(executor, nigeria, domain.Ether("0.1"))
	require.NoError(t, err)

	require.NoError(t, h.do(owner, nil, h.w.Pause))
	h.auth.paused = true
	_, err = h.close(id)
	assert.NoError(t, err)
}

func TestClosePosition_LossBreachClampsAndBlocksNextTrade(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "1")
	a, err := h.trade(executor, nigeria, domain.Ether("0.1"))
	require.NoError(t, err)
	b, err := h.trade(executor, nigeria, domain.Ether("0.1"))
	require.NoError(t, err)
	c, err := h.trade(executor, nigeria, domain.Ether("0.1"))
	require.NoError(t, err)
	for _, id := range []uint64{a, b, c} {
		h.router.payouts[id] = big.NewInt(0)
	}

	_, err = h.close(a)
	require.NoError(t, err)
	_, err = h.close(b)
	require.NoError(t, err)
	assert.Equal(t, domain.Ether("0.2").String(), h.w.Metrics().DailyLossAccumulator.String())

	// The third loss would take the accumulator to 0.3 > 0.25; the close
	// still goes through and the accumulator stops at the limit.
	r, err := h.env.Execute(context.Background(), domain.Call{From: executor, To: walletAddr}, func(ctx *chain.Context) (any, error) {
		return h.w.ClosePosition(ctx, c)
	})
	require.NoError(t, err)
	names := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{domain.EventDailyLossLimitReached, domain.EventPositionClosed}, names)

	m := h.w.Metrics()
	assert.Equal(t, domain.Ether("0.25").String(), m.DailyLossAccumulator.String())
	assert.Equal(t, "-300000000000000000", m.CumulativeRealizedPnl.String())
	assert.Equal(t, uint64(3), m.Losses)
	h.checkAccounting(t)

	_, err = h.trade(executor, nigeria, domain.Ether("0.01"))
	assert.ErrorIs(t, err, domain.ErrDailyLossLimitReached)

	h.now = h.now.Add(LossWindow)
	_, err = h.trade(executor, nigeria, domain.Ether("0.01"))
	assert.NoError(t, err)
	assert.Equal(t, 0, h.w.Metrics().DailyLossAccumulator.Sign())
}

func TestDailyLossWindow_BoundaryAllowsTwiceTheLimit(t *testing.T) {
	h := newHarness(t, func(cfg *domain.AgentConfig) { cfg.MaxTradeSize = domain.Ether("0.25") })
	h.deposit(t, "1")
	start := h.now
	limit := h.w.Config().DailyLossLimit
	eps := big.NewInt(1)
	nearlyLimit := domain.Sub(limit, eps)

	// Lose limit-eps one second before the window resets...
	id, err := h.trade(executor, nigeria, limit)
	require.NoError(t, err)
	h.router.payouts[id] = eps
	h.now = start.Add(LossWindow - time.Second)
	_, err = h.close(id)
	require.NoError(t, err)
	assert.Equal(t, nearlyLimit.String(), h.w.Metrics().DailyLossAccumulator.String())

	// ...and again one second later, in the next window.
	h.now = start.Add(LossWindow)
	id, err = h.trade(executor, nigeria, limit)
	require.NoError(t, err)
	h.router.payouts[id] = eps
	_, err = h.close(id)
	require.NoError(t, err)

	m := h.w.Metrics()
	assert.Equal(t, nearlyLimit.String(), m.DailyLossAccumulator.String())
	assert.Equal(t, start.Add(LossWindow), m.DailyLossWindowStart)

	lost := domain.Sub(domain.Zero(), m.CumulativeRealizedPnl)
	assert.Equal(t, domain.Add(nearlyLimit, nearlyLimit).String(), lost.String())
	assert.Equal(t, 1, lost.Cmp(limit), "lost more than one limit within two seconds")
	h.checkAccounting(t)
}

func TestPauseUnpause(t *testing.T) {
	h := newHarness(t, nil)
	h.deposit(t, "1")

	err := h.do(stranger, nil, h.w.Pause)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	require.NoError(t, h.do(owner, nil, h.w.Pause))
	assert.True(t, h.w.Paused())
	_, err = h.trade(executor, nigeria, domain.Ether("0.05"))
	assert.ErrorIs(t, err, domain.ErrPaused)

	require.NoError(t, h.do(owner, nil, h.w.Unpause))
	_, err = h.trade(executor, nigeria, domain.Ether("0.05"))
	assert.NoError(t, err)
}

func TestClosePosition_ReentryIsRejected(t *testing.T) {
	tests := []struct {
		name    string
		reenter func(h *harness, id uint64) func(c *chain.Context) error
		wantErr error
	}{
		{
			name: "close again",
			reenter: func(h *harness, id uint64) func(c *chain.Context) error {
				return func(c *chain.Context) error {
					_, err := h.w.ClosePosition(c, id)
					return err
				}
			},
			wantErr: domain.ErrPositionAlreadyClosed,
		},
		{
			name: "trade",
			reenter: func(h *harness, _ uint64) func(c *chain.Context) error {
				return func(c *chain.Context) error {
					_, err := h.w.ExecuteTrade(c, nigeria, domain.Ether("0.01"), domain.DirectionBuy)
					return err
				}
			},
			wantErr: domain.ErrReentrantCall,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.deposit(t, "1")
			id, err := h.trade(executor, nigeria, domain.Ether("0.1"))
			require.NoError(t, err)

			h.router.reenter = tt.reenter(h, id)
			_, err = h.close(id)
			assert.ErrorIs(t, err, tt.wantErr)

			p, _ := h.w.Position(id)
			assert.True(t, p.IsOpen)
			assert.Equal(t, 1, h.w.Metrics().OpenPositionsCount)
			h.checkAccounting(t)
		})
	}
}

func TestConfigIsCopied(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.w.Config()
	cfg.MaxTradeSize.SetInt64(1)
	cfg.WhitelistedMarkets[0] = kenya
	assert.Equal(t, domain.Ether("0.1").String(), h.w.Config().MaxTradeSize.String())
	assert.True(t, h.w.Config().Whitelisted(nigeria))
}
