// Package chain is the single-sequencer execution environment the contracts
// run in. Every mutating call is one all-or-nothing transaction: contract
// state, native balances, deployments and events either commit together or
// not at all.
package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Handler runs the body of a transaction.
type Handler func(c *Context) (any, error)

// TxLog durably records committed transactions. Append runs while the writer
// lock is held; a failed append rolls the transaction back.
type TxLog interface {
	Append(ctx context.Context, tx domain.TxRecord, events []domain.EventRecord) error
}

// Sink receives receipts after commit. Failures are logged and otherwise
// ignored.
type Sink interface {
	Deliver(ctx context.Context, r *Receipt) error
}

// Receipt describes a committed transaction.
type Receipt struct {
	Tx     domain.TxRecord      `json:"tx"`
	Events []domain.EventRecord `json:"events"`
	Return any                  `json:"return,omitempty"`
}

// Option configures an Env.
type Option func(*Env)

// WithClock replaces the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Env) { e.clock = now }
}

// WithTxLog makes commits durable.
func WithTxLog(l TxLog) Option {
	return func(e *Env) { e.txlog = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Env) { e.logger = l }
}

// Env serializes transactions under one writer lock. Views share a read lock
// and always see the last committed state.
type Env struct {
	mu        sync.RWMutex
	ledger    *Ledger
	contracts map[common.Address]Contract
	seq       uint64
	last      time.Time

	clock  func() time.Time
	txlog  TxLog
	sinks  []Sink
	logger *slog.Logger
}

// New creates an empty environment.
func New(opts ...Option) *Env {
	e := &Env{
		ledger:    newLedger(),
		contracts: make(map[common.Address]Contract),
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("component", "chain"))
	return e
}

// AddSink registers a post-commit receiver. Call before serving traffic.
func (e *Env) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Register installs a contract outside of any transaction. It is used for
// the fixed system contracts built at startup.
func (e *Env) Register(ct Contract) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.contracts[ct.Address()]; exists {
		return fmt.Errorf("chain: register %s: address in use", ct.Address().Hex())
	}
	e.contracts[ct.Address()] = ct
	return nil
}

// Execute runs fn as the next transaction. On error nothing is committed and
// the error is returned as produced by fn.
func (e *Env) Execute(ctx context.Context, call domain.Call, fn Handler) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	r, err := e.apply(ctx, call, e.now(), true, nil, fn)
	sinks := e.sinks
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, s := range sinks {
		if serr := s.Deliver(ctx, r); serr != nil {
			e.logger.WarnContext(ctx, "chain: sink delivery failed",
				slog.Uint64("seq", r.Tx.Seq),
				slog.String("error", serr.Error()),
			)
		}
	}
	return r, nil
}

// ErrReplayMismatch is returned when a replayed transaction does not
// reproduce its recorded sequence number or hash.
var ErrReplayMismatch = errors.New("chain: replay mismatch")

// Replay re-executes a recorded transaction at its recorded timestamp
// without appending it to the log or notifying sinks.
func (e *Env) Replay(ctx context.Context, rec domain.TxRecord, fn Handler) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec.Seq != e.seq+1 {
		return nil, fmt.Errorf("%w: want seq %d, got %d", ErrReplayMismatch, e.seq+1, rec.Seq)
	}
	return e.apply(ctx, rec.Call, rec.Timestamp.UTC(), false, &rec, fn)
}

func (e *Env) now() time.Time {
	t := e.clock().UTC().Truncate(time.Second)
	if t.Before(e.last) {
		return e.last
	}
	return t
}

func (e *Env) apply(ctx context.Context, call domain.Call, at time.Time, persist bool, expect *domain.TxRecord, fn Handler) (*Receipt, error) {
	seq := e.seq + 1
	tx := &txState{env: e, seen: make(map[Stateful]bool)}
	c := &Context{
		Sender: call.From,
		Value:  domain.Clone(call.Value),
		Now:    at,
		Self:   call.To,
		Seq:    seq,
		tx:     tx,
	}

	if err := tx.transfer(call.From, call.To, call.Value); err != nil {
		tx.rollback()
		return nil, err
	}
	ret, err := fn(c)
	if err != nil {
		tx.rollback()
		return nil, err
	}

	hash := TxHash(seq, call)
	if expect != nil && expect.Hash != hash {
		tx.rollback()
		return nil, fmt.Errorf("%w: seq %d hash %s, recorded %s", ErrReplayMismatch, seq, hash.Hex(), expect.Hash.Hex())
	}

	rec := domain.TxRecord{Seq: seq, Hash: hash, Call: call, Timestamp: at}
	rec.Call.Value = domain.Clone(call.Value)

	events := make([]domain.EventRecord, 0, len(tx.events))
	for i, em := range tx.events {
		data, err := json.Marshal(em.event)
		if err != nil {
			tx.rollback()
			return nil, fmt.Errorf("chain: encode %s: %w", em.event.EventName(), err)
		}
		events = append(events, domain.EventRecord{
			Seq:       seq,
			Index:     i,
			TxHash:    hash,
			Contract:  em.contract,
			Name:      em.event.EventName(),
			Timestamp: at,
			Data:      data,
		})
	}

	if persist && e.txlog != nil {
		if err := e.txlog.Append(ctx, rec, events); err != nil {
			tx.rollback()
			return nil, fmt.Errorf("chain: append tx %d: %w", seq, err)
		}
	}

	e.seq = seq
	e.last = at
	return &Receipt{Tx: rec, Events: events, Return: ret}, nil
}

// TxHash is keccak256 over the sequence number and the call's fields.
func TxHash(seq uint64, call domain.Call) common.Hash {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	return crypto.Keccak256Hash(
		seqBuf[:],
		call.From.Bytes(),
		call.To.Bytes(),
		crypto.Keccak256([]byte(call.Method)),
		common.LeftPadBytes(domain.Clone(call.Value).Bytes(), 32),
		crypto.Keccak256(call.Args),
	)
}

// State is a read-only view of committed state, valid only inside View.
type State struct {
	env *Env
}

// Balance returns the native balance of addr.
func (s State) Balance(addr common.Address) *big.Int {
	return s.env.ledger.Balance(addr)
}

// Contract looks up a deployed contract.
func (s State) Contract(addr common.Address) (Contract, bool) {
	ct, ok := s.env.contracts[addr]
	return ct, ok
}

// Seq is the sequence number of the last committed transaction.
func (s State) Seq() uint64 { return s.env.seq }

// LastTimestamp is the block time of the last committed transaction.
func (s State) LastTimestamp() time.Time { return s.env.last }

// TotalSupply is the sum of all native balances.
func (s State) TotalSupply() *big.Int { return s.env.ledger.Total() }

// View runs fn under the read lock.
func (e *Env) View(fn func(s State) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(State{env: e})
}
