// Package adapter is the single entry point through which agent wallets
// place and unwind positions. It routes each market to a registered venue
// and takes a protocol fee on the way in.
package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Kind is the contract kind reported to the dispatcher.
const Kind = "MarketAdapter"

const (
	DefaultFeeBps uint64 = 30
	MaxFeeBps     uint64 = 1_000
)

// Venue is a market implementation the adapter can route to. Open receives
// the net stake as the frame's value; Close pays the venue payout back to
// the frame's sender.
type Venue interface {
	chain.Contract
	Type() domain.MarketType
	Open(c *chain.Context, marketID common.Hash, dir domain.Direction) (uint64, *big.Int, error)
	Close(c *chain.Context, id uint64) (*big.Int, error)
}

// VenueInfo is a registered venue.
type VenueInfo struct {
	Address common.Address    `json:"address"`
	Type    domain.MarketType `json:"marketType"`
	Active  bool              `json:"active"`
}

// Adapter is the MarketAdapter contract.
type Adapter struct {
	addr  common.Address
	owner common.Address
	guard chain.Guard
	st    state
}

type state struct {
	feeBps       uint64
	feeCollector common.Address
	venues       map[common.Address]VenueInfo
	order        []common.Address
	routes       map[common.Hash]common.Address
	openers      map[domain.PositionRef]common.Address
}

func (s state) clone() state {
	out := s
	out.venues = make(map[common.Address]VenueInfo, len(s.venues))
	for k, v := range s.venues {
		out.venues[k] = v
	}
	out.order = append([]common.Address(nil), s.order...)
	out.routes = make(map[common.Hash]common.Address, len(s.routes))
	for k, v := range s.routes {
		out.routes[k] = v
	}
	out.openers = make(map[domain.PositionRef]common.Address, len(s.openers))
	for k, v := range s.openers {
		out.openers[k] = v
	}
	return out
}

// New creates an adapter owned by owner that sends fees to feeCollector.
func New(addr, owner, feeCollector common.Address, feeBps uint64) *Adapter {
	if feeBps > MaxFeeBps {
		feeBps = MaxFeeBps
	}
	return &Adapter{
		addr:  addr,
		owner: owner,
		st: state{
			feeBps:       feeBps,
			feeCollector: feeCollector,
			venues:       make(map[common.Address]VenueInfo),
			routes:       make(map[common.Hash]common.Address),
			openers:      make(map[domain.PositionRef]common.Address),
		},
	}
}

func (a *Adapter) Address() common.Address { return a.addr }
func (a *Adapter) Kind() string            { return Kind }
func (a *Adapter) Owner() common.Address   { return a.owner }

func (a *Adapter) Snapshot() any    { return a.st.clone() }
func (a *Adapter) Restore(snap any) { a.st = snap.(state) }

func (a *Adapter) onlyOwner(c *chain.Context) error {
	if c.Sender != a.owner {
		return domain.ErrNotOwner
	}
	return nil
}

// AddMarket registers a venue under its market type. The first venue added
// becomes the default route.
func (a *Adapter) AddMarket(c *chain.Context, venue common.Address, typ domain.MarketType) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}
	ct, ok := c.Contract(venue)
	if !ok {
		return domain.ErrUnknownContract
	}
	v, ok := ct.(Venue)
	if !ok || v.Type() != typ {
		return domain.ErrInvalidArgs
	}
	c.Touch(a)
	if _, exists := a.st.venues[venue]; !exists {
		a.st.order = append(a.st.order, venue)
	}
	a.st.venues[venue] = VenueInfo{Address: venue, Type: typ, Active: true}
	c.Emit(domain.VenueAdded{Venue: venue, MarketType: typ})
	return nil
}

// SetMarketActive enables or disables a venue. Open positions at a disabled
// venue can still be closed.
func (a *Adapter) SetMarketActive(c *chain.Context, venue common.Address, active bool) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}
	info, ok := a.st.venues[venue]
	if !ok {
		return domain.ErrMarketNotFound
	}
	c.Touch(a)
	info.Active = active
	a.st.venues[venue] = info
	c.Emit(domain.VenueStatusChanged{Venue: venue, Active: active})
	return nil
}

// RouteMarket pins marketID to a registered venue.
func (a *Adapter) RouteMarket(c *chain.Context, marketID common.Hash, venue common.Address) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}
	if _, ok := a.st.venues[venue]; !ok {
		return domain.ErrMarketNotFound
	}
	c.Touch(a)
	a.st.routes[marketID] = venue
	c.Emit(domain.MarketRouted{MarketID: marketID, Venue: venue})
	return nil
}

// SetFee changes the protocol fee.
func (a *Adapter) SetFee(c *chain.Context, feeBps uint64) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}
	if feeBps > MaxFeeBps {
		return domain.ErrInvalidFee
	}
	c.Touch(a)
	a.st.feeBps = feeBps
	c.Emit(domain.FeeUpdated{FeeBps: feeBps})
	return nil
}

// SetFeeCollector changes where fees are sent.
func (a *Adapter) SetFeeCollector(c *chain.Context, collector common.Address) error {
	if err := a.onlyOwner(c); err != nil {
		return err
	}
	if collector == (common.Address{}) {
		return domain.ErrInvalidArgs
	}
	c.Touch(a)
	a.st.feeCollector = collector
	c.Emit(domain.FeeCollectorUpdated{FeeCollector: collector})
	return nil
}

// OpenPosition takes the attached value, sends the fee to the collector and
// forwards the rest to the venue serving marketID.
func (a *Adapter) OpenPosition(c *chain.Context, marketID common.Hash, dir domain.Direction) (domain.PositionRef, *big.Int, error) {
	amount := c.Value
	if !domain.IsPositive(amount) {
		return domain.PositionRef{}, nil, domain.ErrInvalidAmount
	}
	v, err := a.route(c, marketID)
	if err != nil {
		return domain.PositionRef{}, nil, err
	}
	if err := a.guard.Enter(); err != nil {
		return domain.PositionRef{}, nil, err
	}
	defer a.guard.Exit()

	fee := a.Fee(amount)
	net := new(big.Int).Sub(amount, fee)
	if fee.Sign() > 0 {
		if err := c.Transfer(a.st.feeCollector, fee); err != nil {
			return domain.PositionRef{}, nil, err
		}
		c.Emit(domain.FeeCollected{Payer: c.Sender, Amount: fee})
	}

	sub, err := c.Call(v.Address(), net)
	if err != nil {
		return domain.PositionRef{}, nil, err
	}
	id, price, err := v.Open(sub, marketID, dir)
	if err != nil {
		return domain.PositionRef{}, nil, fmt.Errorf("%w: %w", domain.ErrVenueCallFailed, err)
	}

	ref := domain.PositionRef{Venue: v.Address(), ID: id}
	c.Touch(a)
	a.st.openers[ref] = c.Sender
	return ref, price, nil
}

// ClosePosition unwinds ref at its venue and forwards the payout to the
// caller, which must be the account that opened it.
func (a *Adapter) ClosePosition(c *chain.Context, ref domain.PositionRef) (*big.Int, error) {
	opener, ok := a.st.openers[ref]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	if opener != c.Sender {
		return nil, domain.ErrNotPositionOwner
	}
	ct, ok := c.Contract(ref.Venue)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	v, ok := ct.(Venue)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	if err := a.guard.Enter(); err != nil {
		return nil, err
	}
	defer a.guard.Exit()

	c.Touch(a)
	delete(a.st.openers, ref)

	sub, err := c.Call(ref.Venue, nil)
	if err != nil {
		return nil, err
	}
	payout, err := v.Close(sub, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrVenueCallFailed, err)
	}
	if err := c.Transfer(c.Sender, payout); err != nil {
		return nil, err
	}
	return payout, nil
}

func (a *Adapter) route(c *chain.Context, marketID common.Hash) (Venue, error) {
	addr, ok := a.st.routes[marketID]
	if !ok {
		if len(a.st.order) == 0 {
			return nil, domain.ErrMarketNotFound
		}
		addr = a.st.order[0]
	}
	info, ok := a.st.venues[addr]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	if !info.Active {
		return nil, domain.ErrMarketInactive
	}
	ct, ok := c.Contract(addr)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	v, ok := ct.(Venue)
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return v, nil
}

// Fee is the protocol fee charged on amount.
func (a *Adapter) Fee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(domain.Clone(amount), new(big.Int).SetUint64(a.st.feeBps))
	return fee.Div(fee, big.NewInt(10_000))
}

func (a *Adapter) FeeBps() uint64               { return a.st.feeBps }
func (a *Adapter) FeeCollector() common.Address { return a.st.feeCollector }

// Venues lists registered venues in registration order.
func (a *Adapter) Venues() []VenueInfo {
	out := make([]VenueInfo, 0, len(a.st.order))
	for _, addr := range a.st.order {
		out = append(out, a.st.venues[addr])
	}
	return out
}

var (
	_ chain.Contract = (*Adapter)(nil)
	_ chain.Stateful = (*Adapter)(nil)
)
