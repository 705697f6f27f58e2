package permission

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

var (
	owner    = common.HexToAddress("0x0e")
	stranger = common.HexToAddress("0x5e")
	managerA = common.HexToAddress("0x9a")
	nigeria  = domain.MarketIDFromKey("NIGERIA_ELECTION_2027")
	southAf  = domain.MarketIDFromKey("SA_POLICY_CHANGE")
)

func setup(t *testing.T) (*chain.Env, *Manager) {
	t.Helper()
	env := chain.New()
	m := New(managerA, owner, domain.DefaultConstraints())
	require.NoError(t, env.Register(m))
	return env, m
}

func exec(env *chain.Env, from common.Address, fn func(c *chain.Context) error) (*chain.Receipt, error) {
	return env.Execute(context.Background(), domain.Call{From: from, To: managerA}, func(c *chain.Context) (any, error) {
		return nil, fn(c)
	})
}

func TestRegisterMarket_OwnerOnly(t *testing.T) {
	env, m := setup(t)
	_, err := exec(env, stranger, func(c *chain.Context) error {
		return m.RegisterMarket(c, nigeria, "Nigeria 2027", "Nigeria")
	})
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.False(t, m.GetMarket(nigeria).Exists())
}

func TestRegisterMarket_IdempotentUpdate(t *testing.T) {
	env, m := setup(t)
	for i := 0; i < 2; i++ {
		r, err := exec(env, owner, func(c *chain.Context) error {
			return m.RegisterMarket(c, nigeria, "Nigeria 2027", "Nigeria")
		})
		require.NoError(t, err)
		require.Len(t, r.Events, 1)
		assert.Equal(t, domain.EventMarketRegistered, r.Events[0].Name)
	}
	require.Len(t, m.Markets(), 1)
	assert.Equal(t, domain.MarketRecord{ID: nigeria, Name: "Nigeria 2027", Region: "Nigeria", IsActive: true}, m.GetMarket(nigeria))

	_, err := exec(env, owner, func(c *chain.Context) error {
		return m.SetMarketActive(c, nigeria, false)
	})
	require.NoError(t, err)
	assert.False(t, m.IsMarketActive(nigeria))

	_, err = exec(env, owner, func(c *chain.Context) error {
		return m.RegisterMarket(c, nigeria, "Nigeria 2027 (renamed)", "Nigeria")
	})
	require.NoError(t, err)
	rec := m.GetMarket(nigeria)
	assert.True(t, rec.IsActive)
	assert.Equal(t, "Nigeria 2027 (renamed)", rec.Name)
	assert.Len(t, m.Markets(), 1)
}

func TestBatchRegisterMarkets(t *testing.T) {
	env, m := setup(t)

	_, err := exec(env, owner, func(c *chain.Context) error {
		return m.BatchRegisterMarkets(c, []common.Hash{nigeria, southAf}, []string{"a"}, []string{"x", "y"})
	})
	assert.ErrorIs(t, err, domain.ErrArrayLengthMismatch)
	assert.Empty(t, m.Markets())

	r, err := exec(env, owner, func(c *chain.Context) error {
		return m.BatchRegisterMarkets(c, []common.Hash{nigeria, southAf}, []string{"a", "b"}, []string{"x", "y"})
	})
	require.NoError(t, err)
	assert.Len(t, r.Events, 2)
	got := m.Markets()
	require.Len(t, got, 2)
	assert.Equal(t, nigeria, got[0].ID)
	assert.Equal(t, southAf, got[1].ID)
}

func TestBatchRegisterMarkets_ZeroIDRejectsWholeBatch(t *testing.T) {
	env, m := setup(t)
	_, err := exec(env, owner, func(c *chain.Context) error {
		return m.BatchRegisterMarkets(c, []common.Hash{nigeria, {}}, []string{"a", "b"}, []string{"x", "y"})
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)
	assert.False(t, m.GetMarket(nigeria).Exists())
}

func TestGetMarket_UnknownIsZero(t *testing.T) {
	_, m := setup(t)
	rec := m.GetMarket(nigeria)
	assert.False(t, rec.Exists())
	assert.False(t, m.IsMarketActive(nigeria))
}

func TestSetMarketActive_Unknown(t *testing.T) {
	env, m := setup(t)
	_, err := exec(env, owner, func(c *chain.Context) error {
		return m.SetMarketActive(c, nigeria, true)
	})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestAuthorizeExecutor(t *testing.T) {
	env, m := setup(t)
	exe := common.HexToAddress("0xe0")

	r, err := exec(env, owner, func(c *chain.Context) error {
		return m.AuthorizeExecutor(c, exe, true)
	})
	require.NoError(t, err)
	assert.True(t, m.IsExecutorAuthorized(exe))
	assert.Equal(t, domain.EventExecutorAuthorized, r.Events[0].Name)

	_, err = exec(env, stranger, func(c *chain.Context) error {
		return m.AuthorizeExecutor(c, exe, false)
	})
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.True(t, m.IsExecutorAuthorized(exe))

	_, err = exec(env, owner, func(c *chain.Context) error {
		return m.AuthorizeExecutor(c, exe, false)
	})
	require.NoError(t, err)
	assert.False(t, m.IsExecutorAuthorized(exe))
}

func TestUpdateGlobalConstraints(t *testing.T) {
	env, m := setup(t)

	bad := domain.MarketConstraints{
		MinTradeSize:      domain.Ether("2"),
		MaxTradeSize:      domain.Ether("1"),
		MinDailyLossLimit: domain.Ether("0.1"),
		MaxDailyLossLimit: domain.Ether("1"),
	}
	_, err := exec(env, owner, func(c *chain.Context) error {
		return m.UpdateGlobalConstraints(c, bad)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Equal(t, domain.Ether("1").String(), m.GlobalConstraints().MaxTradeSize.String())

	good := domain.MarketConstraints{
		MinTradeSize:      domain.Ether("0.01"),
		MaxTradeSize:      domain.Ether("2"),
		MinDailyLossLimit: domain.Ether("0.1"),
		MaxDailyLossLimit: domain.Ether("10"),
	}
	_, err = exec(env, owner, func(c *chain.Context) error {
		return m.UpdateGlobalConstraints(c, good)
	})
	require.NoError(t, err)
	got := m.GlobalConstraints()
	assert.Equal(t, "2000000000000000000", got.MaxTradeSize.String())
	assert.Equal(t, "10000000000000000000", got.MaxDailyLossLimit.String())

	// The returned bounds are copies.
	got.MaxTradeSize.SetInt64(0)
	assert.Equal(t, "2000000000000000000", m.GlobalConstraints().MaxTradeSize.String())
}

func TestGlobalTradingPause(t *testing.T) {
	env, m := setup(t)

	_, err := exec(env, stranger, func(c *chain.Context) error { return m.PauseGlobalTrading(c) })
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	r, err := exec(env, owner, func(c *chain.Context) error { return m.PauseGlobalTrading(c) })
	require.NoError(t, err)
	assert.True(t, m.GlobalTradingPaused())
	assert.Equal(t, domain.EventGlobalTradingPaused, r.Events[0].Name)

	r, err = exec(env, owner, func(c *chain.Context) error { return m.ResumeGlobalTrading(c) })
	require.NoError(t, err)
	assert.False(t, m.GlobalTradingPaused())
	assert.Equal(t, domain.EventGlobalTradingResumed, r.Events[0].Name)
}

func TestRollbackRestoresRegistry(t *testing.T) {
	env, m := setup(t)
	_, err := exec(env, owner, func(c *chain.Context) error {
		require.NoError(t, m.RegisterMarket(c, nigeria, "n", "r"))
		require.NoError(t, m.PauseGlobalTrading(c))
		return domain.ErrTransferFailed
	})
	require.Error(t, err)
	assert.False(t, m.GetMarket(nigeria).Exists())
	assert.Empty(t, m.Markets())
	assert.False(t, m.GlobalTradingPaused())
}
