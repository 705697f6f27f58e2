// Package factory implements AgentFactory, which deploys agent wallets and
// indexes them by owner.
package factory

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/wallet"
)

// Kind is the contract kind reported to the dispatcher.
const Kind = "AgentFactory"

// DefaultMaxOpenPositions applies to agents created with explicit limits.
const DefaultMaxOpenPositions = 5

// RiskLimits are the wallet limits a risk profile maps to.
type RiskLimits struct {
	MaxTradeSize     *big.Int `json:"maxTradeSize"`
	DailyLossLimit   *big.Int `json:"dailyLossLimit"`
	MaxOpenPositions int      `json:"maxOpenPositions"`
}

// RiskProfiles is the fixed profile table used by CreateAgentWithProfile.
var RiskProfiles = map[domain.RiskProfile]RiskLimits{
	domain.RiskConservative: {MaxTradeSize: domain.Ether("0.05"), DailyLossLimit: domain.Ether("0.1"), MaxOpenPositions: 3},
	domain.RiskModerate:     {MaxTradeSize: domain.Ether("0.1"), DailyLossLimit: domain.Ether("0.25"), MaxOpenPositions: 5},
	domain.RiskAggressive:   {MaxTradeSize: domain.Ether("0.5"), DailyLossLimit: domain.Ether("1"), MaxOpenPositions: 10},
}

// Constraints is the part of the permission manager the factory reads.
type Constraints interface {
	GlobalConstraints() domain.MarketConstraints
}

// Factory is the AgentFactory contract.
type Factory struct {
	addr      common.Address
	executor  common.Address
	authority wallet.Authority
	limits    Constraints
	market    wallet.MarketRouter
	st        state
}

type state struct {
	nonce      uint64
	userAgents map[common.Address][]common.Address
	all        []common.Address
}

func (s state) clone() state {
	out := s
	out.userAgents = make(map[common.Address][]common.Address, len(s.userAgents))
	for k, v := range s.userAgents {
		out.userAgents[k] = append([]common.Address(nil), v...)
	}
	out.all = append([]common.Address(nil), s.all...)
	return out
}

// Permissions is what the factory needs from the permission manager: the
// trade gates it hands to every wallet and the bounds it checks configs
// against.
type Permissions interface {
	wallet.Authority
	Constraints
}

// New creates a factory that binds every wallet to executor and market.
func New(addr, executor common.Address, perms Permissions, market wallet.MarketRouter) *Factory {
	return &Factory{
		addr:      addr,
		executor:  executor,
		authority: perms,
		limits:    perms,
		market:    market,
		st: state{
			nonce:      1,
			userAgents: make(map[common.Address][]common.Address),
		},
	}
}

func (f *Factory) Address() common.Address  { return f.addr }
func (f *Factory) Kind() string             { return Kind }
func (f *Factory) Executor() common.Address { return f.executor }

func (f *Factory) Snapshot() any    { return f.st.clone() }
func (f *Factory) Restore(snap any) { f.st = snap.(state) }

// CreateAgent deploys a wallet with explicit limits for the caller. Its
// profile is recorded as RiskCustom.
func (f *Factory) CreateAgent(c *chain.Context, maxTradeSize, dailyLossLimit *big.Int, marketIDs []common.Hash) (common.Address, error) {
	return f.create(c, domain.RiskCustom, RiskLimits{
		MaxTradeSize:     maxTradeSize,
		DailyLossLimit:   dailyLossLimit,
		MaxOpenPositions: DefaultMaxOpenPositions,
	}, marketIDs)
}

// CreateAgentWithProfile deploys a wallet whose limits come from
// RiskProfiles.
func (f *Factory) CreateAgentWithProfile(c *chain.Context, profile domain.RiskProfile, marketIDs []common.Hash) (common.Address, error) {
	limits, ok := RiskProfiles[profile]
	if !ok {
		return common.Address{}, domain.ErrInvalidProfile
	}
	return f.create(c, profile, limits, marketIDs)
}

func (f *Factory) create(c *chain.Context, profile domain.RiskProfile, limits RiskLimits, marketIDs []common.Hash) (common.Address, error) {
	if limits.MaxTradeSize == nil || limits.DailyLossLimit == nil {
		return common.Address{}, domain.ErrInvalidArgs
	}
	if !f.limits.GlobalConstraints().Allows(limits.MaxTradeSize, limits.DailyLossLimit) {
		return common.Address{}, domain.ErrOutOfGlobalBounds
	}

	cfg := domain.AgentConfig{
		Owner:              c.Sender,
		Executor:           f.executor,
		MaxTradeSize:       limits.MaxTradeSize,
		DailyLossLimit:     limits.DailyLossLimit,
		MaxOpenPositions:   limits.MaxOpenPositions,
		WhitelistedMarkets: dedupe(marketIDs),
		RiskProfile:        profile,
	}

	c.Touch(f)
	addr := crypto.CreateAddress(f.addr, f.st.nonce)
	f.st.nonce++
	w := wallet.New(addr, cfg, f.authority, f.market, c.Now)
	if err := c.Deploy(w); err != nil {
		return common.Address{}, err
	}
	f.st.userAgents[c.Sender] = append(f.st.userAgents[c.Sender], addr)
	f.st.all = append(f.st.all, addr)

	c.Emit(domain.AgentCreated{Owner: c.Sender, Agent: addr, Config: w.Config()})
	return addr, nil
}

func dedupe(ids []common.Hash) []common.Hash {
	seen := make(map[common.Hash]bool, len(ids))
	out := make([]common.Hash, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// UserAgents returns owner's wallets in creation order.
func (f *Factory) UserAgents(owner common.Address) []common.Address {
	return append([]common.Address(nil), f.st.userAgents[owner]...)
}

// AllAgents returns every wallet in creation order.
func (f *Factory) AllAgents() []common.Address {
	return append([]common.Address(nil), f.st.all...)
}

func (f *Factory) AgentCount() int { return len(f.st.all) }

var (
	_ chain.Contract = (*Factory)(nil)
	_ chain.Stateful = (*Factory)(nil)
)
