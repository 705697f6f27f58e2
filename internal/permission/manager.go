// Package permission implements the process-wide authority every agent
// wallet consults: the market whitelist, executor authorizations, global
// configuration bounds and the global trading circuit breaker.
package permission

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/chain"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Kind is the contract kind reported to the dispatcher.
const Kind = "PermissionManager"

// Manager is the permission registry. Mutations are owner-only.
type Manager struct {
	addr  common.Address
	owner common.Address
	st    state
}

type state struct {
	markets     map[common.Hash]domain.MarketRecord
	order       []common.Hash
	executors   map[common.Address]bool
	constraints domain.MarketConstraints
	paused      bool
}

func (s state) clone() state {
	out := state{
		markets:     make(map[common.Hash]domain.MarketRecord, len(s.markets)),
		order:       append([]common.Hash(nil), s.order...),
		executors:   make(map[common.Address]bool, len(s.executors)),
		constraints: s.constraints,
		paused:      s.paused,
	}
	for k, v := range s.markets {
		out.markets[k] = v
	}
	for k, v := range s.executors {
		out.executors[k] = v
	}
	return out
}

// New creates a manager owned by owner with the given initial constraints.
func New(addr, owner common.Address, constraints domain.MarketConstraints) *Manager {
	return &Manager{
		addr:  addr,
		owner: owner,
		st: state{
			markets:     make(map[common.Hash]domain.MarketRecord),
			executors:   make(map[common.Address]bool),
			constraints: constraints,
		},
	}
}

func (m *Manager) Address() common.Address { return m.addr }
func (m *Manager) Kind() string            { return Kind }
func (m *Manager) Owner() common.Address   { return m.owner }

func (m *Manager) Snapshot() any    { return m.st.clone() }
func (m *Manager) Restore(snap any) { m.st = snap.(state) }

func (m *Manager) onlyOwner(c *chain.Context) error {
	if c.Sender != m.owner {
		return domain.ErrNotOwner
	}
	return nil
}

// RegisterMarket creates or updates a market record and activates it.
// Re-registering with the same metadata leaves the record unchanged.
func (m *Manager) RegisterMarket(c *chain.Context, id common.Hash, name, region string) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	if id == (common.Hash{}) {
		return domain.ErrInvalidArgs
	}
	c.Touch(m)
	m.register(c, id, name, region)
	return nil
}

// BatchRegisterMarkets registers several markets in one transaction.
func (m *Manager) BatchRegisterMarkets(c *chain.Context, ids []common.Hash, names, regions []string) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	if len(ids) != len(names) || len(ids) != len(regions) {
		return domain.ErrArrayLengthMismatch
	}
	for _, id := range ids {
		if id == (common.Hash{}) {
			return domain.ErrInvalidArgs
		}
	}
	c.Touch(m)
	for i, id := range ids {
		m.register(c, id, names[i], regions[i])
	}
	return nil
}

func (m *Manager) register(c *chain.Context, id common.Hash, name, region string) {
	if _, ok := m.st.markets[id]; !ok {
		m.st.order = append(m.st.order, id)
	}
	m.st.markets[id] = domain.MarketRecord{ID: id, Name: name, Region: region, IsActive: true}
	c.Emit(domain.MarketRegistered{MarketID: id, Name: name, Region: region})
}

// SetMarketActive flips a registered market's active flag.
func (m *Manager) SetMarketActive(c *chain.Context, id common.Hash, active bool) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	rec, ok := m.st.markets[id]
	if !ok {
		return domain.ErrMarketNotFound
	}
	c.Touch(m)
	rec.IsActive = active
	m.st.markets[id] = rec
	c.Emit(domain.MarketStatusChanged{MarketID: id, IsActive: active})
	return nil
}

// AuthorizeExecutor sets the authorization bit for executor.
func (m *Manager) AuthorizeExecutor(c *chain.Context, executor common.Address, authorized bool) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	c.Touch(m)
	if authorized {
		m.st.executors[executor] = true
	} else {
		delete(m.st.executors, executor)
	}
	c.Emit(domain.ExecutorAuthorized{Executor: executor, Authorized: authorized})
	return nil
}

// UpdateGlobalConstraints replaces the global bounds. Existing wallets keep
// their configuration; the bounds apply to agents created afterwards.
func (m *Manager) UpdateGlobalConstraints(c *chain.Context, next domain.MarketConstraints) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	next = domain.MarketConstraints{
		MinTradeSize:      domain.Clone(next.MinTradeSize),
		MaxTradeSize:      domain.Clone(next.MaxTradeSize),
		MinDailyLossLimit: domain.Clone(next.MinDailyLossLimit),
		MaxDailyLossLimit: domain.Clone(next.MaxDailyLossLimit),
	}
	if !next.Valid() {
		return domain.ErrInvalidRange
	}
	c.Touch(m)
	m.st.constraints = next
	c.Emit(domain.GlobalConstraintsUpdated{Constraints: next})
	return nil
}

// PauseGlobalTrading trips the system-wide circuit breaker.
func (m *Manager) PauseGlobalTrading(c *chain.Context) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	c.Touch(m)
	m.st.paused = true
	c.Emit(domain.GlobalTradingPaused{})
	return nil
}

// ResumeGlobalTrading clears the circuit breaker.
func (m *Manager) ResumeGlobalTrading(c *chain.Context) error {
	if err := m.onlyOwner(c); err != nil {
		return err
	}
	c.Touch(m)
	m.st.paused = false
	c.Emit(domain.GlobalTradingResumed{})
	return nil
}

// GetMarket returns the record for id, or the zero record when unknown.
func (m *Manager) GetMarket(id common.Hash) domain.MarketRecord {
	return m.st.markets[id]
}

// Markets lists every record in registration order.
func (m *Manager) Markets() []domain.MarketRecord {
	out := make([]domain.MarketRecord, 0, len(m.st.order))
	for _, id := range m.st.order {
		out = append(out, m.st.markets[id])
	}
	return out
}

func (m *Manager) IsMarketActive(id common.Hash) bool {
	return m.st.markets[id].IsActive
}

func (m *Manager) IsExecutorAuthorized(addr common.Address) bool {
	return m.st.executors[addr]
}

func (m *Manager) GlobalConstraints() domain.MarketConstraints {
	c := m.st.constraints
	return domain.MarketConstraints{
		MinTradeSize:      domain.Clone(c.MinTradeSize),
		MaxTradeSize:      domain.Clone(c.MaxTradeSize),
		MinDailyLossLimit: domain.Clone(c.MinDailyLossLimit),
		MaxDailyLossLimit: domain.Clone(c.MaxDailyLossLimit),
	}
}

func (m *Manager) GlobalTradingPaused() bool {
	return m.st.paused
}

var (
	_ chain.Contract = (*Manager)(nil)
	_ chain.Stateful = (*Manager)(nil)
)
