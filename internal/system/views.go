package system

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/wallet"
)

// AgentState is the authoritative view of one wallet.
type AgentState struct {
	Address       common.Address            `json:"address"`
	Config        domain.AgentConfig        `json:"config"`
	Metrics       domain.PerformanceMetrics `json:"metrics"`
	Paused        bool                      `json:"paused"`
	Balance       *big.Int                  `json:"ledgerBalance"`
	OpenPositions []domain.Position         `json:"openPositions"`
}

// MarketState is a registered market with its current venue price.
type MarketState struct {
	domain.MarketRecord
	Price *big.Int `json:"price"`
}

// Info summarizes the deployment.
type Info struct {
	Addresses           Addresses                `json:"addresses"`
	Seq                 uint64                   `json:"seq"`
	LastTimestamp       time.Time                `json:"lastTimestamp"`
	FeeBps              uint64                   `json:"feeBps"`
	FeeCollector        common.Address           `json:"feeCollector"`
	Constraints         domain.MarketConstraints `json:"constraints"`
	GlobalTradingPaused bool                     `json:"globalTradingPaused"`
	AgentCount          int                      `json:"agentCount"`
	TotalSupply         *big.Int                 `json:"totalSupply"`
}

// Agent returns the state of the wallet at addr, or ErrNotFound.
func (s *System) Agent(addr common.Address) (AgentState, error) {
	var out AgentState
	err := s.Env.View(func(st chain.State) error {
		ct, ok := st.Contract(addr)
		if !ok {
			return fmt.Errorf("system: agent %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		w, ok := ct.(*wallet.Wallet)
		if !ok {
			return fmt.Errorf("system: %s is a %s: %w", addr.Hex(), ct.Kind(), domain.ErrNotFound)
		}
		out = AgentState{
			Address:       addr,
			Config:        w.Config(),
			Metrics:       w.Metrics(),
			Paused:        w.Paused(),
			Balance:       st.Balance(addr),
			OpenPositions: w.OpenPositions(),
		}
		return nil
	})
	return out, err
}

// Position returns one position of the wallet at agent.
func (s *System) Position(agent common.Address, id uint64) (domain.Position, error) {
	var out domain.Position
	err := s.Env.View(func(st chain.State) error {
		ct, ok := st.Contract(agent)
		if !ok {
			return fmt.Errorf("system: agent %s: %w", agent.Hex(), domain.ErrNotFound)
		}
		w, ok := ct.(*wallet.Wallet)
		if !ok {
			return fmt.Errorf("system: agent %s: %w", agent.Hex(), domain.ErrNotFound)
		}
		p, ok := w.Position(id)
		if !ok {
			return fmt.Errorf("system: position %d: %w", id, domain.ErrNotFound)
		}
		out = p
		return nil
	})
	return out, err
}

// UserAgents lists owner's wallets in creation order.
func (s *System) UserAgents(owner common.Address) []common.Address {
	var out []common.Address
	_ = s.Env.View(func(chain.State) error {
		out = s.Factory.UserAgents(owner)
		return nil
	})
	return out
}

// Markets lists registered markets with their venue prices.
func (s *System) Markets() []MarketState {
	var out []MarketState
	_ = s.Env.View(func(chain.State) error {
		for _, rec := range s.Permissions.Markets() {
			out = append(out, MarketState{MarketRecord: rec, Price: s.Venue.Price(rec.ID)})
		}
		return nil
	})
	return out
}

// Balance is the native balance of addr.
func (s *System) Balance(addr common.Address) *big.Int {
	var out *big.Int
	_ = s.Env.View(func(st chain.State) error {
		out = st.Balance(addr)
		return nil
	})
	return out
}

// Info returns the deployment summary.
func (s *System) Info() Info {
	var out Info
	_ = s.Env.View(func(st chain.State) error {
		out = Info{
			Addresses:           s.Addresses,
			Seq:                 st.Seq(),
			LastTimestamp:       st.LastTimestamp(),
			FeeBps:              s.Adapter.FeeBps(),
			FeeCollector:        s.Adapter.FeeCollector(),
			Constraints:         s.Permissions.GlobalConstraints(),
			GlobalTradingPaused: s.Permissions.GlobalTradingPaused(),
			AgentCount:          s.Factory.AgentCount(),
			TotalSupply:         st.TotalSupply(),
		}
		return nil
	})
	return out
}
