// Package memory implements the domain stores in process memory. It backs
// the simulation mode and the test suite.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// LedgerStore is an in-memory domain.LedgerStore.
type LedgerStore struct {
	mu     sync.RWMutex
	txs    []domain.TxRecord
	events []domain.EventRecord
}

// NewLedgerStore creates an empty log.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// Append records tx and its events. Sequence numbers must be contiguous.
func (s *LedgerStore) Append(_ context.Context, tx domain.TxRecord, events []domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.txs)) + 1; tx.Seq != want {
		return fmt.Errorf("memory: append tx %d: expected seq %d: %w", tx.Seq, want, domain.ErrDuplicate)
	}
	tx.Call.Value = domain.Clone(tx.Call.Value)
	tx.Call.Args = append(json.RawMessage(nil), tx.Call.Args...)
	s.txs = append(s.txs, tx)
	for _, ev := range events {
		ev.Data = append(json.RawMessage(nil), ev.Data...)
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *LedgerStore) LastSeq(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.txs)), nil
}

// ListTransactions returns up to limit records after afterSeq.
func (s *LedgerStore) ListTransactions(_ context.Context, afterSeq uint64, limit int) ([]domain.TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if afterSeq >= uint64(len(s.txs)) {
		return nil, nil
	}
	out := s.txs[afterSeq:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]domain.TxRecord(nil), out...), nil
}

// ListEvents returns events after afterSeq. A page holds at least limit
// events when available and never splits one transaction's events.
func (s *LedgerStore) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EventRecord
	for _, ev := range s.events {
		if ev.Seq <= afterSeq {
			continue
		}
		if limit > 0 && len(out) >= limit && out[len(out)-1].Seq != ev.Seq {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// ListEventsBefore returns events committed strictly before before.
func (s *LedgerStore) ListEventsBefore(_ context.Context, before time.Time) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EventRecord
	for _, ev := range s.events {
		if ev.Timestamp.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
