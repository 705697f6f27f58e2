// Package amm is a mock binary prediction-market venue: one fixed-product
// market maker per market id, trading YES (buy) and NO (sell) outcome shares
// against native-currency collateral.
package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Kind is the contract kind reported to the dispatcher.
const Kind = "MockAMM"

const bpsDenominator = 10_000

var priceScale = big.NewInt(1e18)

// Config sets up pools. Liquidity is the virtual depth of each pool and
// ProbabilityBps the initial YES probability per market (default 50%).
type Config struct {
	Liquidity      *big.Int
	ProbabilityBps map[common.Hash]uint64
}

// Market is the venue contract.
type Market struct {
	addr common.Address
	cfg  Config
	st   state
}

type pool struct {
	yes *big.Int
	no  *big.Int
}

type holding struct {
	owner    common.Address
	marketID common.Hash
	outcome  domain.Direction
	shares   *big.Int
	open     bool
}

type state struct {
	pools    map[common.Hash]pool
	holdings map[uint64]holding
	nextID   uint64
}

func (s state) clone() state {
	out := state{
		pools:    make(map[common.Hash]pool, len(s.pools)),
		holdings: make(map[uint64]holding, len(s.holdings)),
		nextID:   s.nextID,
	}
	for k, v := range s.pools {
		out.pools[k] = v
	}
	for k, v := range s.holdings {
		out.holdings[k] = v
	}
	return out
}

// New creates a venue at addr.
func New(addr common.Address, cfg Config) *Market {
	if !domain.IsPositive(cfg.Liquidity) {
		cfg.Liquidity = domain.Ether("10")
	}
	return &Market{
		addr: addr,
		cfg:  cfg,
		st: state{
			pools:    make(map[common.Hash]pool),
			holdings: make(map[uint64]holding),
		},
	}
}

func (m *Market) Address() common.Address { return m.addr }
func (m *Market) Kind() string            { return Kind }

// Type reports the adapter tag for this venue.
func (m *Market) Type() domain.MarketType { return domain.MarketTypeMockAMM }

func (m *Market) Snapshot() any    { return m.st.clone() }
func (m *Market) Restore(snap any) { m.st = snap.(state) }

func (m *Market) seed(id common.Hash) pool {
	if p, ok := m.st.pools[id]; ok {
		return p
	}
	prob := m.cfg.ProbabilityBps[id]
	if prob == 0 || prob >= bpsDenominator {
		prob = bpsDenominator / 2
	}
	// price(YES) = no / (yes + no) = prob
	l := m.cfg.Liquidity
	yes := new(big.Int).Mul(l, big.NewInt(int64(bpsDenominator-prob)))
	yes.Div(yes, big.NewInt(bpsDenominator/2))
	no := new(big.Int).Mul(l, big.NewInt(int64(prob)))
	no.Div(no, big.NewInt(bpsDenominator/2))
	return pool{yes: yes, no: no}
}

// Open buys outcome shares with the attached value. It returns the holding
// id and the average fill price in 1e18 fixed point.
func (m *Market) Open(c *chain.Context, marketID common.Hash, dir domain.Direction) (uint64, *big.Int, error) {
	amount := c.Value
	if !domain.IsPositive(amount) {
		return 0, nil, domain.ErrInvalidAmount
	}
	p := m.seed(marketID)
	bought, held := p.yes, p.no
	if dir == domain.DirectionSell {
		bought, held = p.no, p.yes
	}

	k := new(big.Int).Mul(bought, held)
	heldAfter := new(big.Int).Add(held, amount)
	boughtAfter := new(big.Int).Add(bought, amount)
	boughtFinal := ceilDiv(k, heldAfter)
	shares := new(big.Int).Sub(boughtAfter, boughtFinal)
	if shares.Sign() <= 0 {
		return 0, nil, domain.ErrInvalidAmount
	}

	c.Touch(m)
	if dir == domain.DirectionSell {
		p = pool{yes: heldAfter, no: boughtFinal}
	} else {
		p = pool{yes: boughtFinal, no: heldAfter}
	}
	m.st.pools[marketID] = p
	m.st.nextID++
	id := m.st.nextID
	m.st.holdings[id] = holding{
		owner:    c.Sender,
		marketID: marketID,
		outcome:  dir,
		shares:   shares,
		open:     true,
	}

	price := new(big.Int).Mul(amount, priceScale)
	price.Div(price, shares)
	c.Emit(domain.PriceUpdated{MarketID: marketID, Price: p.price()})
	return id, price, nil
}

// Close sells a holding back to its pool and pays the collateral to the
// caller, who must be the account that opened it.
func (m *Market) Close(c *chain.Context, id uint64) (*big.Int, error) {
	h, ok := m.st.holdings[id]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	if !h.open {
		return nil, domain.ErrPositionAlreadyClosed
	}
	if h.owner != c.Sender {
		return nil, domain.ErrNotPositionOwner
	}

	p := m.st.pools[h.marketID]
	sold, other := p.yes, p.no
	if h.outcome == domain.DirectionSell {
		sold, other = p.no, p.yes
	}
	payout, soldAfter, otherAfter := sellShares(sold, other, h.shares)

	c.Touch(m)
	h.open = false
	m.st.holdings[id] = h
	if h.outcome == domain.DirectionSell {
		p = pool{yes: otherAfter, no: soldAfter}
	} else {
		p = pool{yes: soldAfter, no: otherAfter}
	}
	m.st.pools[h.marketID] = p

	if err := c.Transfer(c.Sender, payout); err != nil {
		return nil, err
	}
	c.Emit(domain.PriceUpdated{MarketID: h.marketID, Price: p.price()})
	return payout, nil
}

// Price returns the YES price of marketID in 1e18 fixed point.
func (m *Market) Price(marketID common.Hash) *big.Int {
	return m.seed(marketID).price()
}

func (p pool) price() *big.Int {
	total := new(big.Int).Add(p.yes, p.no)
	out := new(big.Int).Mul(p.no, priceScale)
	return out.Div(out, total)
}

// sellShares returns the collateral c paid for returning s shares to a pool
// with reserves (sold, other), solving (sold+s-c)(other-c) = sold*other.
func sellShares(sold, other, s *big.Int) (payout, soldAfter, otherAfter *big.Int) {
	k := new(big.Int).Mul(sold, other)
	a := new(big.Int).Add(sold, s)
	b := other
	diff := new(big.Int).Sub(a, b)
	disc := new(big.Int).Mul(diff, diff)
	disc.Add(disc, new(big.Int).Lsh(k, 2))
	root := ceilSqrt(disc)

	payout = new(big.Int).Add(a, b)
	payout.Sub(payout, root)
	payout.Rsh(payout, 1)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}
	soldAfter = new(big.Int).Sub(a, payout)
	otherAfter = new(big.Int).Sub(b, payout)
	return payout, soldAfter, otherAfter
}

func ceilDiv(x, y *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(x, y, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func ceilSqrt(x *big.Int) *big.Int {
	r := new(big.Int).Sqrt(x)
	if new(big.Int).Mul(r, r).Cmp(x) < 0 {
		r.Add(r, big.NewInt(1))
	}
	return r
}

var (
	_ chain.Contract = (*Market)(nil)
	_ chain.Stateful = (*Market)(nil)
)
