package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Append writes a transaction and its events in one database transaction.
// The sequence number must follow the last stored one.
func (s *LedgerStore) Append(ctx context.Context, rec domain.TxRecord, events []domain.EventRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var last uint64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transactions`).Scan(&last); err != nil {
		return fmt.Errorf("postgres: last seq: %w", err)
	}
	if rec.Seq != last+1 {
		return fmt.Errorf("postgres: append tx %d after %d: %w", rec.Seq, last, domain.ErrDuplicate)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (seq, hash, from_addr, to_addr, method, value, args, ts)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`,
		rec.Seq, rec.Hash.Hex(), rec.Call.From.Hex(), rec.Call.To.Hex(),
		rec.Call.Method, numeric(rec.Call.Value), []byte(rec.Call.Args), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert tx %d: %w", rec.Seq, err)
	}

	if len(events) > 0 {
		batch := &pgx.Batch{}
		for _, ev := range events {
			data := ev.Data
			if len(data) == 0 {
				data = json.RawMessage("{}")
			}
			batch.Queue(`
				INSERT INTO events (seq, idx, tx_hash, contract, name, ts, data)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				ev.Seq, ev.Index, ev.TxHash.Hex(), ev.Contract.Hex(), ev.Name, ev.Timestamp, []byte(data),
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range events {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert event %d/%d: %w", rec.Seq, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close event batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx %d: %w", rec.Seq, err)
	}
	return nil
}

// LastSeq returns the highest stored sequence number, or 0.
func (s *LedgerStore) LastSeq(ctx context.Context) (uint64, error) {
	var last uint64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transactions`).Scan(&last); err != nil {
		return 0, fmt.Errorf("postgres: last seq: %w", err)
	}
	return last, nil
}

// ListTransactions returns up to limit records after afterSeq in order.
func (s *LedgerStore) ListTransactions(ctx context.Context, afterSeq uint64, limit int) ([]domain.TxRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, hash, from_addr, to_addr, method, value::text, args, ts
		FROM transactions
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`,
		afterSeq, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.TxRecord
	for rows.Next() {
		var (
			rec            domain.TxRecord
			hash, from, to string
			value          *string
			args           []byte
		)
		if err := rows.Scan(&rec.Seq, &hash, &from, &to, &rec.Call.Method, &value, &args, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		if rec.Call.Value, err = parseNumeric(value); err != nil {
			return nil, err
		}
		rec.Hash = common.HexToHash(hash)
		rec.Call.From = common.HexToAddress(from)
		rec.Call.To = common.HexToAddress(to)
		if len(args) > 0 {
			rec.Call.Args = json.RawMessage(args)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return out, nil
}

const eventCols = `seq, idx, tx_hash, contract, name, ts, data`

// ListEvents returns events after afterSeq. The page is cut at a
// transaction boundary so one transaction's events are never split.
func (s *LedgerStore) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]domain.EventRecord, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE seq > $1 ORDER BY seq, idx`
	args := []any{afterSeq}
	if limit > 0 {
		query = `
			SELECT ` + eventCols + `
			FROM events
			WHERE seq > $1 AND seq <= COALESCE((
				SELECT MAX(seq) FROM (
					SELECT seq FROM events WHERE seq > $1 ORDER BY seq, idx LIMIT $2
				) page
			), $1)
			ORDER BY seq, idx`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// ListEventsBefore returns events committed before the given time.
func (s *LedgerStore) ListEventsBefore(ctx context.Context, before time.Time) ([]domain.EventRecord, error) {
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM events WHERE ts < $1 ORDER BY seq, idx`, before)
}

func (s *LedgerStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.EventRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var (
			ev               domain.EventRecord
			txHash, contract string
			data             []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.Index, &txHash, &contract, &ev.Name, &ev.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.TxHash = common.HexToHash(txHash)
		ev.Contract = common.HexToAddress(contract)
		ev.Timestamp = ev.Timestamp.UTC()
		ev.Data = json.RawMessage(data)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
