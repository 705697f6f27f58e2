package system

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/store/memory"
)

var (
	deployer = common.HexToAddress("0x00000000000000000000000000000000000d3910")
	executor = common.HexToAddress("0x00000000000000000000000000000000000e8ec0")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	mallory  = common.HexToAddress("0x000000000000000000000000000000000000bad0")

	nigeria = domain.MarketIDFromKey("NIGERIA_ELECTION_2027")
	mining  = domain.MarketIDFromKey("SA_POLICY_CHANGE")
)

type harness struct {
	t   *testing.T
	ctx context.Context
	sys *System
	log *memory.LedgerStore
	now time.Time
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testParams() Params {
	p := DefaultParams(deployer, executor)
	p.Alloc = map[common.Address]*big.Int{
		alice:   domain.Ether("10"),
		mallory: domain.Ether("1"),
	}
	return p
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		ctx: context.Background(),
		log: memory.NewLedgerStore(),
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env := chain.New(
		chain.WithClock(func() time.Time { return h.now }),
		chain.WithTxLog(h.log),
		chain.WithLogger(quietLogger()),
	)
	sys, err := Deploy(env, testParams(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, sys.Bootstrap(h.ctx, h.log))
	h.sys = sys
	return h
}

func (h *harness) submit(from, to common.Address, method string, value *big.Int, args any) (*chain.Receipt, error) {
	h.t.Helper()
	raw, err := EncodeArgs(args)
	require.NoError(h.t, err)
	return h.sys.Submit(h.ctx, domain.Call{From: from, To: to, Method: method, Value: value, Args: raw})
}

func (h *harness) must(from, to common.Address, method string, value *big.Int, args any) *chain.Receipt {
	h.t.Helper()
	r, err := h.submit(from, to, method, value, args)
	require.NoError(h.t, err)
	return r
}

// createAgent creates alice's agent with the scenario limits and funds it.
func (h *harness) createAgent(deposit string, markets ...common.Hash) common.Address {
	h.t.Helper()
	r := h.must(alice, h.sys.Addresses.Factory, MethodCreateAgent, nil, CreateAgentArgs{
		MaxTradeSize:   (*hexutil.Big)(domain.Ether("0.1")),
		DailyLossLimit: (*hexutil.Big)(domain.Ether("0.25")),
		MarketIDs:      markets,
	})
	res, ok := r.Return.(AgentCreatedResult)
	require.True(h.t, ok)
	if deposit != "" {
		h.must(alice, res.Agent, MethodDepositCapital, domain.Ether(deposit), nil)
	}
	return res.Agent
}

func (h *harness) trade(from, agent common.Address, market common.Hash, amount string) (uint64, error) {
	h.t.Helper()
	r, err := h.submit(from, agent, MethodExecuteTrade, nil, ExecuteTradeArgs{
		MarketID:  market,
		Amount:    (*hexutil.Big)(domain.Ether(amount)),
		Direction: domain.DirectionBuy,
	})
	if err != nil {
		return 0, err
	}
	return r.Return.(TradeResult).PositionID, nil
}

func (h *harness) agent(addr common.Address) AgentState {
	h.t.Helper()
	st, err := h.sys.Agent(addr)
	require.NoError(h.t, err)
	return st
}

// checkInvariants asserts the capital bound and the accounting identity for
// every agent in the system.
func (h *harness) checkInvariants() {
	h.t.Helper()
	var agents []common.Address
	require.NoError(h.t, h.sys.Env.View(func(chain.State) error {
		agents = h.sys.Factory.AllAgents()
		return nil
	}))
	for _, addr := range agents {
		st := h.agent(addr)
		m := st.Metrics
		locked := domain.Zero()
		for _, p := range st.OpenPositions {
			locked = domain.Add(locked, p.EntryAmount)
		}
		assert.Equal(h.t, m.LockedCapital.String(), locked.String())
		assert.Equal(h.t, m.CurrentBalance.String(), st.Balance.String(), "available capital is the ledger balance")

		net := domain.Sub(m.TotalDeposited, m.TotalWithdrawn)
		assert.Equal(h.t,
			domain.Add(net, m.CumulativeRealizedPnl).String(),
			domain.Add(m.CurrentBalance, m.LockedCapital).String())
		if m.CumulativeRealizedPnl.Sign() <= 0 {
			assert.LessOrEqual(h.t, domain.Add(m.CurrentBalance, locked).Cmp(net), 0)
		}
		assert.LessOrEqual(h.t, m.DailyLossAccumulator.Cmp(st.Config.DailyLossLimit), 0)
	}
}

func TestGenesis(t *testing.T) {
	h := newHarness(t)

	info := h.sys.Info()
	assert.Equal(t, uint64(7), info.Seq, "params, two allocations, venue funding, addMarket, markets, executor")
	assert.Equal(t, AddressesFor(deployer), info.Addresses)
	assert.Equal(t, uint64(30), info.FeeBps)
	assert.False(t, info.GlobalTradingPaused)
	assert.Equal(t, domain.Ether("111").String(), info.TotalSupply.String())

	markets := h.sys.Markets()
	require.Len(t, markets, 2)
	assert.Equal(t, nigeria, markets[0].ID)
	assert.Equal(t, "Nigerian Presidential Election 2027", markets[0].Name)
	assert.True(t, markets[0].IsActive)
	assert.Equal(t, "420000000000000000", markets[0].Price.String())
	assert.Equal(t, mining, markets[1].ID)

	var authorized bool
	require.NoError(t, h.sys.Env.View(func(chain.State) error {
		authorized = h.sys.Permissions.IsExecutorAuthorized(executor)
		return nil
	}))
	assert.True(t, authorized)
}

func TestScenarioA_TradeWithinLimits(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)

	id, err := h.trade(executor, agent, nigeria, "0.05")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	st := h.agent(agent)
	assert.Equal(t, 1, st.Metrics.OpenPositionsCount)
	require.Len(t, st.OpenPositions, 1)
	assert.True(t, st.OpenPositions[0].IsOpen)
	assert.Equal(t, domain.Ether("0.05").String(), st.OpenPositions[0].EntryAmount.String())
	assert.Equal(t, domain.Ether("0.95").String(), st.Metrics.CurrentBalance.String())
	h.checkInvariants()
}

func TestScenarioB_ExceedsMaxTradeSize(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)
	seq := h.sys.Info().Seq

	_, err := h.trade(executor, agent, nigeria, "1")
	require.ErrorIs(t, err, domain.ErrExceedsMaxTradeSize)

	st := h.agent(agent)
	assert.Zero(t, st.Metrics.OpenPositionsCount)
	assert.Empty(t, st.OpenPositions)
	assert.Equal(t, seq, h.sys.Info().Seq, "a rejected call commits nothing")
	h.checkInvariants()
}

func TestScenarioC_NonExecutor(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)

	for _, from := range []common.Address{mallory, alice, deployer} {
		_, err := h.trade(from, agent, nigeria, "0.05")
		require.ErrorIs(t, err, domain.ErrNotAuthorizedExecutor, from.Hex())
	}
	_, err := h.trade(mallory, agent, mining, "5")
	require.ErrorIs(t, err, domain.ErrNotAuthorizedExecutor, "authorization is checked before anything else")
}

func TestScenarioD_MarketNotWhitelisted(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)

	_, err := h.trade(executor, agent, mining, "0.05")
	require.ErrorIs(t, err, domain.ErrMarketNotWhitelisted)
}

func TestScenarioE_PauseUnpause(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)

	h.must(alice, agent, MethodPause, nil, nil)
	_, err := h.trade(executor, agent, nigeria, "0.05")
	require.ErrorIs(t, err, domain.ErrPaused)

	h.must(alice, agent, MethodUnpause, nil, nil)
	_, err = h.trade(executor, agent, nigeria, "0.05")
	require.NoError(t, err)
}

func TestScenarioF_ClosePosition(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)
	id, err := h.trade(executor, agent, nigeria, "0.05")
	require.NoError(t, err)
	before := h.agent(agent)

	h.now = h.now.Add(time.Hour)
	r := h.must(executor, agent, MethodClosePosition, nil, ClosePositionArgs{PositionID: id})
	payout := r.Return.(PayoutResult).Payout
	require.True(t, domain.IsPositive(payout))

	pos, err := h.sys.Position(agent, id)
	require.NoError(t, err)
	assert.False(t, pos.IsOpen)
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, h.now, *pos.ClosedAt)

	after := h.agent(agent)
	assert.Equal(t, before.Metrics.OpenPositionsCount-1, after.Metrics.OpenPositionsCount)
	assert.Equal(t,
		domain.Add(before.Metrics.CurrentBalance, payout).String(),
		after.Metrics.CurrentBalance.String())
	h.checkInvariants()

	_, err = h.submit(executor, agent, MethodClosePosition, nil, ClosePositionArgs{PositionID: id})
	require.ErrorIs(t, err, domain.ErrPositionAlreadyClosed)
}

func TestCircuitBreakerCoversEveryWallet(t *testing.T) {
	h := newHarness(t)
	before := h.createAgent("1", nigeria)

	h.must(deployer, h.sys.Addresses.Permissions, MethodPauseGlobalTrading, nil, nil)
	created := h.createAgent("1", nigeria)

	for _, agent := range []common.Address{before, created} {
		_, err := h.trade(executor, agent, nigeria, "0.05")
		require.ErrorIs(t, err, domain.ErrGlobalTradingPaused)
	}

	_, err := h.submit(mallory, h.sys.Addresses.Permissions, MethodResumeGlobalTrading, nil, nil)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	h.must(deployer, h.sys.Addresses.Permissions, MethodResumeGlobalTrading, nil, nil)
	for _, agent := range []common.Address{before, created} {
		_, err := h.trade(executor, agent, nigeria, "0.05")
		require.NoError(t, err)
	}
	h.checkInvariants()
}

func TestDeactivatedMarketBlocksTradesButNotCloses(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)
	id, err := h.trade(executor, agent, nigeria, "0.05")
	require.NoError(t, err)

	h.must(deployer, h.sys.Addresses.Permissions, MethodSetMarketActive, nil, SetMarketActiveArgs{MarketID: nigeria})
	_, err = h.trade(executor, agent, nigeria, "0.05")
	require.ErrorIs(t, err, domain.ErrMarketNotWhitelisted)

	h.must(executor, agent, MethodClosePosition, nil, ClosePositionArgs{PositionID: id})
	h.checkInvariants()
}

func TestRegisterMarketIdempotent(t *testing.T) {
	h := newHarness(t)
	args := RegisterMarketArgs{MarketID: nigeria, Name: "Nigerian Presidential Election 2027", Region: "Nigeria"}
	h.must(deployer, h.sys.Addresses.Permissions, MethodRegisterMarket, nil, args)
	h.must(deployer, h.sys.Addresses.Permissions, MethodRegisterMarket, nil, args)

	markets := h.sys.Markets()
	require.Len(t, markets, 2)
	assert.Equal(t, args.Name, markets[0].Name)
	assert.Equal(t, args.Region, markets[0].Region)
}

func TestRoundTripRealizesFeeAsLoss(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)

	id, err := h.trade(executor, agent, nigeria, "0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.Ether("0.0003").String(), h.sys.Balance(deployer).String(), "30 bps to the fee collector")

	h.must(executor, agent, MethodClosePosition, nil, ClosePositionArgs{PositionID: id})
	st := h.agent(agent)
	assert.Equal(t, uint64(1), st.Metrics.Losses)
	assert.Zero(t, st.Metrics.Wins)
	require.Equal(t, -1, st.Metrics.CumulativeRealizedPnl.Sign())
	assert.Equal(t,
		new(big.Int).Neg(st.Metrics.CumulativeRealizedPnl).String(),
		st.Metrics.DailyLossAccumulator.String())
	h.checkInvariants()
}

func TestDispatcherRejectsBadCalls(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("", nigeria)

	tests := []struct {
		name string
		call domain.Call
		want error
	}{
		{
			name: "value to non-payable method",
			call: domain.Call{From: alice, To: agent, Method: MethodPause, Value: big.NewInt(1)},
			want: domain.ErrNotPayable,
		},
		{
			name: "plain transfer to wallet",
			call: domain.Call{From: alice, To: agent, Value: big.NewInt(1)},
			want: domain.ErrNotPayable,
		},
		{
			name: "unknown method",
			call: domain.Call{From: alice, To: agent, Method: "selfdestruct"},
			want: domain.ErrUnknownMethod,
		},
		{
			name: "unknown contract",
			call: domain.Call{From: alice, To: common.HexToAddress("0x1234"), Method: MethodPause},
			want: domain.ErrUnknownContract,
		},
		{
			name: "unknown field",
			call: domain.Call{From: alice, To: agent, Method: MethodWithdrawCapital, Args: json.RawMessage(`{"amount":"0x1","to":"0x0"}`)},
			want: domain.ErrInvalidArgs,
		},
		{
			name: "mint by non-deployer",
			call: domain.Call{From: mallory, Method: MethodMint, Args: json.RawMessage(`{"to":"0x000000000000000000000000000000000000bad0","amount":"0x1"}`)},
			want: domain.ErrNotOwner,
		},
		{
			name: "insufficient funds",
			call: domain.Call{From: mallory, To: agent, Method: MethodDepositCapital, Value: domain.Ether("5")},
			want: domain.ErrTransferFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := h.sys.Info().Seq
			_, err := h.sys.Submit(h.ctx, tt.call)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, seq, h.sys.Info().Seq)
		})
	}
}

func TestPlainTransferToAccount(t *testing.T) {
	h := newHarness(t)
	h.must(alice, mallory, "", domain.Ether("1"), nil)
	assert.Equal(t, domain.Ether("2").String(), h.sys.Balance(mallory).String())
	assert.Equal(t, domain.Ether("9").String(), h.sys.Balance(alice).String())
}

func TestReplayRebuildsIdenticalState(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria, mining)
	id, err := h.trade(executor, agent, nigeria, "0.05")
	require.NoError(t, err)
	h.now = h.now.Add(2 * time.Hour)
	_, err = h.trade(executor, agent, mining, "0.08")
	require.NoError(t, err)
	h.now = h.now.Add(25 * time.Hour)
	h.must(executor, agent, MethodClosePosition, nil, ClosePositionArgs{PositionID: id})
	h.must(alice, agent, MethodWithdrawCapital, nil, WithdrawCapitalArgs{Amount: (*hexutil.Big)(domain.Ether("0.2"))})

	env := chain.New(
		chain.WithClock(func() time.Time { return time.Unix(0, 0) }),
		chain.WithLogger(quietLogger()),
	)
	replica, err := Deploy(env, testParams(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, replica.Bootstrap(h.ctx, h.log))

	assert.Equal(t, h.sys.Info().Seq, replica.Info().Seq)
	assert.Equal(t, h.sys.Info().LastTimestamp, replica.Info().LastTimestamp)

	want := h.agent(agent)
	got, err := replica.Agent(agent)
	require.NoError(t, err)
	assert.Equal(t, want.Balance.String(), got.Balance.String())
	assert.Equal(t, want.Metrics.CumulativeRealizedPnl.String(), got.Metrics.CumulativeRealizedPnl.String())
	assert.Equal(t, want.Metrics.DailyLossWindowStart, got.Metrics.DailyLossWindowStart)
	assert.Equal(t, want.Metrics.TotalTrades, got.Metrics.TotalTrades)
	assert.Len(t, got.OpenPositions, len(want.OpenPositions))
	for _, m := range h.sys.Markets() {
		assert.Equal(t, m.Price.String(), replica.Venue.Price(m.ID).String())
	}
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	h := newHarness(t)
	h.createAgent("1", nigeria)

	txs, err := h.log.ListTransactions(h.ctx, 0, 100)
	require.NoError(t, err)
	tampered := memory.NewLedgerStore()
	for _, tx := range txs {
		if tx.Call.Method == MethodDepositCapital {
			tx.Call.Value = domain.Ether("2")
		}
		require.NoError(t, tampered.Append(h.ctx, tx, nil))
	}

	env := chain.New(chain.WithLogger(quietLogger()))
	replica, err := Deploy(env, testParams(), quietLogger())
	require.NoError(t, err)
	_, err = replica.Replay(h.ctx, tampered)
	require.ErrorIs(t, err, chain.ErrReplayMismatch)
}

func TestBootstrapRefusesChangedParams(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent("1", nigeria)
	id, err := h.trade(executor, agent, nigeria, "0.05")
	require.NoError(t, err)
	h.must(executor, agent, MethodClosePosition, nil, ClosePositionArgs{PositionID: id})

	cases := map[string]func(p *Params){
		"fee":       func(p *Params) { p.FeeBps = 0 },
		"liquidity": func(p *Params) { p.Liquidity = domain.Ether("100") },
		"executor":  func(p *Params) { p.Executor = mallory },
		"alloc":     func(p *Params) { p.Alloc[alice] = domain.Ether("11") },
	}
	for name, change := range cases {
		t.Run(name, func(t *testing.T) {
			p := testParams()
			change(&p)
			replica, err := Deploy(chain.New(chain.WithLogger(quietLogger())), p, quietLogger())
			require.NoError(t, err)

			require.ErrorIs(t, replica.Bootstrap(h.ctx, h.log), domain.ErrGenesisMismatch)
			assert.Zero(t, replica.Info().Seq, "nothing replayed")

			// Replaying directly fails on the first transaction.
			_, err = replica.Replay(h.ctx, h.log)
			require.ErrorIs(t, err, domain.ErrGenesisMismatch)
		})
	}
}

func TestBootstrapRefusesLogWithoutGenesisRecord(t *testing.T) {
	h := newHarness(t)
	txs, err := h.log.ListTransactions(h.ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	mint := txs[0]
	require.Equal(t, MethodMint, mint.Call.Method)
	mint.Seq = 1
	headless := memory.NewLedgerStore()
	require.NoError(t, headless.Append(h.ctx, mint, nil))

	replica, err := Deploy(chain.New(chain.WithLogger(quietLogger())), testParams(), quietLogger())
	require.NoError(t, err)
	require.ErrorIs(t, replica.Bootstrap(h.ctx, headless), domain.ErrGenesisMismatch)
}

func TestFingerprint(t *testing.T) {
	a, err := testParams().Fingerprint()
	require.NoError(t, err)
	b, err := testParams().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b, "allocation order does not matter")

	p := testParams()
	p.Markets = p.Markets[:1]
	c, err := p.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenesisOnlyFirst(t *testing.T) {
	h := newHarness(t)
	fp, err := h.sys.params.Fingerprint()
	require.NoError(t, err)
	_, err = h.submit(deployer, common.Address{}, MethodGenesis, nil, GenesisArgs{Params: fp})
	require.ErrorIs(t, err, domain.ErrInvalidArgs)
}
