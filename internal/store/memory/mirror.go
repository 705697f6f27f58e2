package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type positionKey struct {
	agent common.Address
	id    uint64
}

// MirrorStore is an in-memory domain.MirrorStore.
type MirrorStore struct {
	mu         sync.RWMutex
	markets    map[common.Hash]domain.MirrorMarket
	marketIDs  []common.Hash
	agents     map[common.Address]domain.MirrorAgent
	agentOrder []common.Address
	positions  map[positionKey]domain.MirrorPosition
	trades     []domain.MirrorTrade
	tradeKeys  map[string]struct{}
	cursor     uint64
}

func NewMirrorStore() *MirrorStore {
	return &MirrorStore{
		markets:   make(map[common.Hash]domain.MirrorMarket),
		agents:    make(map[common.Address]domain.MirrorAgent),
		positions: make(map[positionKey]domain.MirrorPosition),
		tradeKeys: make(map[string]struct{}),
	}
}

func (s *MirrorStore) UpsertMarket(_ context.Context, m domain.MirrorMarket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; !ok {
		s.marketIDs = append(s.marketIDs, m.ID)
	}
	s.markets[m.ID] = m
	return nil
}

func (s *MirrorStore) GetMarket(_ context.Context, id common.Hash) (domain.MirrorMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.MirrorMarket{}, fmt.Errorf("memory: market %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

func (s *MirrorStore) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.MirrorMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MirrorMarket, 0, len(s.marketIDs))
	for _, id := range s.marketIDs {
		out = append(out, s.markets[id])
	}
	return page(out, opts), nil
}

func (s *MirrorStore) UpsertAgent(_ context.Context, a domain.MirrorAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.Address]; !ok {
		s.agentOrder = append(s.agentOrder, a.Address)
	}
	a.Markets = append([]common.Hash(nil), a.Markets...)
	s.agents[a.Address] = a
	return nil
}

func (s *MirrorStore) GetAgent(_ context.Context, addr common.Address) (domain.MirrorAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[addr]
	if !ok {
		return domain.MirrorAgent{}, fmt.Errorf("memory: agent %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return a, nil
}

func (s *MirrorStore) ListAgents(_ context.Context, owner common.Address) ([]domain.MirrorAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MirrorAgent
	for _, addr := range s.agentOrder {
		a := s.agents[addr]
		if owner != (common.Address{}) && a.Owner != owner {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MirrorStore) UpsertPosition(_ context.Context, p domain.MirrorPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey{p.Agent, p.ID}] = p
	return nil
}

func (s *MirrorStore) GetPosition(_ context.Context, agent common.Address, id uint64) (domain.MirrorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey{agent, id}]
	if !ok {
		return domain.MirrorPosition{}, fmt.Errorf("memory: position %s/%d: %w", agent.Hex(), id, domain.ErrNotFound)
	}
	return p, nil
}

// ListPositions returns an agent's positions ordered by id.
func (s *MirrorStore) ListPositions(_ context.Context, agent common.Address, openOnly bool) ([]domain.MirrorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MirrorPosition
	for k, p := range s.positions {
		if k.agent != agent || (openOnly && !p.IsOpen) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertTrade ignores a trade already recorded for the same position leg.
func (s *MirrorStore) InsertTrade(_ context.Context, t domain.MirrorTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d/%s", t.Agent.Hex(), t.PositionID, t.Kind)
	if _, ok := s.tradeKeys[key]; ok {
		return nil
	}
	s.tradeKeys[key] = struct{}{}
	s.trades = append(s.trades, t)
	return nil
}

func (s *MirrorStore) ListTrades(_ context.Context, agent common.Address, opts domain.ListOpts) ([]domain.MirrorTrade, error) {
	return s.listTrades(opts, func(t domain.MirrorTrade) bool { return t.Agent == agent }), nil
}

func (s *MirrorStore) ListTradesByOwner(_ context.Context, owner common.Address, opts domain.ListOpts) ([]domain.MirrorTrade, error) {
	return s.listTrades(opts, func(t domain.MirrorTrade) bool { return t.Owner == owner }), nil
}

// listTrades returns matching trades newest first.
func (s *MirrorStore) listTrades(opts domain.ListOpts, match func(domain.MirrorTrade) bool) []domain.MirrorTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MirrorTrade
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if !match(t) {
			continue
		}
		if opts.Since != nil && t.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	return page(out, opts)
}

func (s *MirrorStore) Cursor(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *MirrorStore) SetCursor(_ context.Context, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = seq
	return nil
}

var _ domain.MirrorStore = (*MirrorStore)(nil)
