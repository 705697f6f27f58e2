package adapter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/venue/amm"
)

var (
	owner     = common.HexToAddress("0x0e")
	collector = common.HexToAddress("0xfee")
	trader    = common.HexToAddress("0x7a")
	other     = common.HexToAddress("0x07")
	adptAddr  = common.HexToAddress("0xad")
	ammAddr   = common.HexToAddress("0xa3")
	brokeAddr = common.HexToAddress("0xbb")
	marketID  = domain.MarketIDFromKey("NIGERIA_ELECTION_2027")
)

// brokenVenue rejects every order.
type brokenVenue struct{ addr common.Address }

func (v *brokenVenue) Address() common.Address { return v.addr }
func (v *brokenVenue) Kind() string            { return "BrokenVenue" }
func (v *brokenVenue) Type() domain.MarketType { return domain.MarketType(7) }

func (v *brokenVenue) Open(*chain.Context, common.Hash, domain.Direction) (uint64, *big.Int, error) {
	return 0, nil, errors.New("venue halted")
}

func (v *brokenVenue) Close(*chain.Context, uint64) (*big.Int, error) {
	return nil, errors.New("venue halted")
}

type harness struct {
	env *chain.Env
	a   *Adapter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env := chain.New()
	a := New(adptAddr, owner, collector, DefaultFeeBps)
	require.NoError(t, env.Register(a))
	require.NoError(t, env.Register(amm.New(ammAddr, amm.Config{})))
	require.NoError(t, env.Register(&brokenVenue{addr: brokeAddr}))
	_, err := env.Execute(context.Background(), domain.Call{From: owner, Method: "mint"}, func(c *chain.Context) (any, error) {
		c.Mint(trader, domain.Ether("10"))
		c.Mint(other, domain.Ether("10"))
		return nil, nil
	})
	require.NoError(t, err)
	return &harness{env: env, a: a}
}

func (h *harness) do(from common.Address, value *big.Int, fn func(c *chain.Context) error) error {
	_, err := h.env.Execute(context.Background(), domain.Call{From: from, To: adptAddr, Value: value}, func(c *chain.Context) (any, error) {
		return nil, fn(c)
	})
	return err
}

func (h *harness) balance(addr common.Address) *big.Int {
	var out *big.Int
	_ = h.env.View(func(s chain.State) error {
		out = s.Balance(addr)
		return nil
	})
	return out
}

func (h *harness) addAMM(t *testing.T) {
	t.Helper()
	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error {
		return h.a.AddMarket(c, ammAddr, domain.MarketTypeMockAMM)
	}))
}

func (h *harness) open(from common.Address, amount *big.Int) (domain.PositionRef, error) {
	var ref domain.PositionRef
	err := h.do(from, amount, func(c *chain.Context) error {
		var err error
		ref, _, err = h.a.OpenPosition(c, marketID, domain.DirectionBuy)
		return err
	})
	return ref, err
}

func TestOpenPosition_NoVenue(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(trader, domain.Ether("1"))
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.Equal(t, domain.Ether("10").String(), h.balance(trader).String())
}

func TestOpenPosition_TakesFeeAndForwardsNet(t *testing.T) {
	h := newHarness(t)
	h.addAMM(t)

	ref, err := h.open(trader, domain.Ether("1"))
	require.NoError(t, err)
	assert.Equal(t, ammAddr, ref.Venue)

	assert.Equal(t, domain.Ether("0.003").String(), h.balance(collector).String())
	assert.Equal(t, domain.Ether("0.997").String(), h.balance(ammAddr).String())
	assert.Equal(t, 0, h.balance(adptAddr).Sign())
}

func TestOpenPosition_InactiveVenue(t *testing.T) {
	h := newHarness(t)
	h.addAMM(t)
	ref, err := h.open(trader, domain.Ether("1"))
	require.NoError(t, err)

	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error {
		return h.a.SetMarketActive(c, ammAddr, false)
	}))
	_, err = h.open(trader, domain.Ether("1"))
	assert.ErrorIs(t, err, domain.ErrMarketInactive)

	// Unwinding is still possible.
	require.NoError(t, h.do(trader, nil, func(c *chain.Context) error {
		_, err := h.a.ClosePosition(c, ref)
		return err
	}))
}

func TestOpenPosition_VenueFailureRollsBackFee(t *testing.T) {
	h := newHarness(t)
	h.addAMM(t)
	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error {
		return h.a.AddMarket(c, brokeAddr, domain.MarketType(7))
	}))
	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error {
		return h.a.RouteMarket(c, marketID, brokeAddr)
	}))

	_, err := h.open(trader, domain.Ether("1"))
	require.ErrorIs(t, err, domain.ErrVenueCallFailed)
	assert.Equal(t, "VenueCallFailed", domain.CodeOf(err))
	assert.Equal(t, 0, h.balance(collector).Sign())
	assert.Equal(t, domain.Ether("10").String(), h.balance(trader).String())
}

func TestClosePosition_OnlyOpenerAndPayoutForwarded(t *testing.T) {
	h := newHarness(t)
	h.addAMM(t)
	ref, err := h.open(trader, domain.Ether("1"))
	require.NoError(t, err)

	err = h.do(other, nil, func(c *chain.Context) error {
		_, err := h.a.ClosePosition(c, ref)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotPositionOwner)

	var payout *big.Int
	require.NoError(t, h.do(trader, nil, func(c *chain.Context) error {
		var err error
		payout, err = h.a.ClosePosition(c, ref)
		return err
	}))
	assert.Equal(t, domain.Add(domain.Ether("9"), payout).String(), h.balance(trader).String())
	assert.Equal(t, 0, h.balance(adptAddr).Sign())

	err = h.do(trader, nil, func(c *chain.Context) error {
		_, err := h.a.ClosePosition(c, ref)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestAddMarket_Validation(t *testing.T) {
	h := newHarness(t)

	err := h.do(trader, nil, func(c *chain.Context) error {
		return h.a.AddMarket(c, ammAddr, domain.MarketTypeMockAMM)
	})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	err = h.do(owner, nil, func(c *chain.Context) error {
		return h.a.AddMarket(c, common.HexToAddress("0xdead"), domain.MarketTypeMockAMM)
	})
	assert.ErrorIs(t, err, domain.ErrUnknownContract)

	err = h.do(owner, nil, func(c *chain.Context) error {
		return h.a.AddMarket(c, ammAddr, domain.MarketType(7))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgs)

	err = h.do(owner, nil, func(c *chain.Context) error {
		return h.a.RouteMarket(c, marketID, ammAddr)
	})
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	h.addAMM(t)
	h.addAMM(t)
	require.Len(t, h.a.Venues(), 1)
	assert.True(t, h.a.Venues()[0].Active)
}

func TestSetFee(t *testing.T) {
	h := newHarness(t)
	h.addAMM(t)

	err := h.do(owner, nil, func(c *chain.Context) error { return h.a.SetFee(c, MaxFeeBps+1) })
	assert.ErrorIs(t, err, domain.ErrInvalidFee)

	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error { return h.a.SetFee(c, 0) }))
	_, err = h.open(trader, domain.Ether("1"))
	require.NoError(t, err)
	assert.Equal(t, 0, h.balance(collector).Sign())

	newCollector := common.HexToAddress("0xc011")
	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error { return h.a.SetFee(c, 100) }))
	require.NoError(t, h.do(owner, nil, func(c *chain.Context) error { return h.a.SetFeeCollector(c, newCollector) }))
	_, err = h.open(trader, domain.Ether("1"))
	require.NoError(t, err)
	assert.Equal(t, domain.Ether("0.01").String(), h.balance(newCollector).String())
}

func TestFee(t *testing.T) {
	a := New(adptAddr, owner, collector, 30)
	assert.Equal(t, "300000000000000", a.Fee(domain.Ether("0.1")).String())
	assert.Equal(t, "0", a.Fee(big.NewInt(300)).String())
	assert.Equal(t, MaxFeeBps, New(adptAddr, owner, collector, 5_000).FeeBps())
}
