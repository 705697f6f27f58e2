package amm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

var (
	venueAddr = common.HexToAddress("0xa3")
	alice     = common.HexToAddress("0xa1")
	bob       = common.HexToAddress("0xb1")
	marketID  = domain.MarketIDFromKey("NIGERIA_ELECTION_2027")
)

type harness struct {
	env *chain.Env
	m   *Market
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	env := chain.New()
	m := New(venueAddr, cfg)
	require.NoError(t, env.Register(m))
	_, err := env.Execute(context.Background(), domain.Call{From: alice, Method: "mint"}, func(c *chain.Context) (any, error) {
		c.Mint(alice, domain.Ether("100"))
		c.Mint(bob, domain.Ether("100"))
		return nil, nil
	})
	require.NoError(t, err)
	return &harness{env: env, m: m}
}

func (h *harness) open(from common.Address, amount *big.Int, dir domain.Direction) (uint64, *big.Int, error) {
	var (
		id    uint64
		price *big.Int
	)
	_, err := h.env.Execute(context.Background(), domain.Call{From: from, To: venueAddr, Value: amount}, func(c *chain.Context) (any, error) {
		var err error
		id, price, err = h.m.Open(c, marketID, dir)
		return nil, err
	})
	return id, price, err
}

func (h *harness) close(from common.Address, id uint64) (*big.Int, error) {
	var payout *big.Int
	_, err := h.env.Execute(context.Background(), domain.Call{From: from, To: venueAddr}, func(c *chain.Context) (any, error) {
		var err error
		payout, err = h.m.Close(c, id)
		return nil, err
	})
	return payout, err
}

func (h *harness) balance(addr common.Address) *big.Int {
	var out *big.Int
	_ = h.env.View(func(s chain.State) error {
		out = s.Balance(addr)
		return nil
	})
	return out
}

func TestPrice_SeededProbability(t *testing.T) {
	h := newHarness(t, Config{ProbabilityBps: map[common.Hash]uint64{marketID: 4_200}})
	assert.Equal(t, domain.Ether("0.42").String(), h.m.Price(marketID).String())

	other := domain.MarketIDFromKey("UNSEEDED")
	assert.Equal(t, domain.Ether("0.5").String(), h.m.Price(other).String())
}

func TestOpen_MovesPrice(t *testing.T) {
	h := newHarness(t, Config{})
	before := h.m.Price(marketID)

	_, fill, err := h.open(alice, domain.Ether("1"), domain.DirectionBuy)
	require.NoError(t, err)
	afterBuy := h.m.Price(marketID)
	assert.Equal(t, 1, afterBuy.Cmp(before))
	// Average fill sits between the pre- and post-trade price.
	assert.Equal(t, 1, fill.Cmp(before))
	assert.Equal(t, -1, fill.Cmp(afterBuy))

	_, _, err = h.open(bob, domain.Ether("2"), domain.DirectionSell)
	require.NoError(t, err)
	assert.Equal(t, -1, h.m.Price(marketID).Cmp(afterBuy))
}

func TestOpen_ZeroValue(t *testing.T) {
	h := newHarness(t, Config{})
	_, _, err := h.open(alice, nil, domain.DirectionBuy)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestClose_RoundTripNeverPaysMoreThanStake(t *testing.T) {
	for _, dir := range []domain.Direction{domain.DirectionBuy, domain.DirectionSell} {
		t.Run(dir.String(), func(t *testing.T) {
			h := newHarness(t, Config{ProbabilityBps: map[common.Hash]uint64{marketID: 3_000}})
			stake := domain.Ether("0.5")
			id, _, err := h.open(alice, stake, dir)
			require.NoError(t, err)

			payout, err := h.close(alice, id)
			require.NoError(t, err)
			assert.LessOrEqual(t, payout.Cmp(stake), 0)
			slack := new(big.Int).Sub(stake, payout)
			assert.Equal(t, -1, slack.Cmp(big.NewInt(1_000_000)), "rounding loss %s", slack)
			drift := new(big.Int).Sub(h.m.Price(marketID), domain.Ether("0.3"))
			assert.Equal(t, -1, drift.Abs(drift).Cmp(big.NewInt(1_000_000)), "price drift %s", drift)
		})
	}
}

func TestClose_ProfitWhenPriceMovesFavorably(t *testing.T) {
	h := newHarness(t, Config{})
	stake := domain.Ether("1")
	id, _, err := h.open(alice, stake, domain.DirectionBuy)
	require.NoError(t, err)
	_, _, err = h.open(bob, domain.Ether("5"), domain.DirectionBuy)
	require.NoError(t, err)

	payout, err := h.close(alice, id)
	require.NoError(t, err)
	assert.Equal(t, 1, payout.Cmp(stake), "payout %s", payout)
	assert.Equal(t, domain.Add(domain.Ether("99"), payout).String(), h.balance(alice).String())
}

func TestClose_LossWhenPriceMovesAgainst(t *testing.T) {
	h := newHarness(t, Config{})
	stake := domain.Ether("1")
	id, _, err := h.open(alice, stake, domain.DirectionBuy)
	require.NoError(t, err)
	_, _, err = h.open(bob, domain.Ether("5"), domain.DirectionSell)
	require.NoError(t, err)

	payout, err := h.close(alice, id)
	require.NoError(t, err)
	assert.Equal(t, -1, payout.Cmp(stake), "payout %s", payout)
}

func TestClose_Errors(t *testing.T) {
	h := newHarness(t, Config{})
	id, _, err := h.open(alice, domain.Ether("1"), domain.DirectionBuy)
	require.NoError(t, err)

	_, err = h.close(bob, id)
	assert.ErrorIs(t, err, domain.ErrNotPositionOwner)

	_, err = h.close(alice, id+10)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = h.close(alice, id)
	require.NoError(t, err)
	_, err = h.close(alice, id)
	assert.ErrorIs(t, err, domain.ErrPositionAlreadyClosed)
}

func TestOpen_RollbackRestoresPool(t *testing.T) {
	h := newHarness(t, Config{})
	before := h.m.Price(marketID)
	_, err := h.env.Execute(context.Background(), domain.Call{From: alice, To: venueAddr, Value: domain.Ether("1")}, func(c *chain.Context) (any, error) {
		_, _, err := h.m.Open(c, marketID, domain.DirectionBuy)
		require.NoError(t, err)
		return nil, domain.ErrTransferFailed
	})
	require.Error(t, err)
	assert.Equal(t, before.String(), h.m.Price(marketID).String())
	assert.Empty(t, h.m.st.holdings)
}

func TestSellShares_PreservesInvariant(t *testing.T) {
	sold := domain.Ether("7")
	other := domain.Ether("13")
	k := new(big.Int).Mul(sold, other)
	payout, soldAfter, otherAfter := sellShares(sold, other, domain.Ether("2"))
	require.Equal(t, 1, payout.Sign())
	product := new(big.Int).Mul(soldAfter, otherAfter)
	assert.GreaterOrEqual(t, product.Cmp(k), 0)
}
