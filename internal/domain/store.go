package domain

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time

	// Event filters audit entries by name. A trailing "." matches every
	// event under that prefix, so "tx." selects tx.rejected and tx.failed.
	Event string
}

// MatchEvent applies the ListOpts.Event filter to name.
func MatchEvent(filter, name string) bool {
	if filter == "" || filter == name {
		return true
	}
	return strings.HasSuffix(filter, ".") && strings.HasPrefix(name, filter)
}

// LedgerStore is the durable transaction and event log. Append writes a
// transaction and its events atomically.
type LedgerStore interface {
	Append(ctx context.Context, tx TxRecord, events []EventRecord) error
	LastSeq(ctx context.Context) (uint64, error)
	ListTransactions(ctx context.Context, afterSeq uint64, limit int) ([]TxRecord, error)
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]EventRecord, error)
	ListEventsBefore(ctx context.Context, before time.Time) ([]EventRecord, error)
}

// MirrorStore holds the read model rebuilt from events. Every write is an
// absolute upsert so re-applying an event is harmless.
type MirrorStore interface {
	UpsertMarket(ctx context.Context, m MirrorMarket) error
	GetMarket(ctx context.Context, id common.Hash) (MirrorMarket, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]MirrorMarket, error)

	UpsertAgent(ctx context.Context, a MirrorAgent) error
	GetAgent(ctx context.Context, addr common.Address) (MirrorAgent, error)
	// ListAgents returns agents in creation order; a zero owner lists all.
	ListAgents(ctx context.Context, owner common.Address) ([]MirrorAgent, error)

	UpsertPosition(ctx context.Context, p MirrorPosition) error
	GetPosition(ctx context.Context, agent common.Address, id uint64) (MirrorPosition, error)
	ListPositions(ctx context.Context, agent common.Address, openOnly bool) ([]MirrorPosition, error)

	InsertTrade(ctx context.Context, t MirrorTrade) error
	ListTrades(ctx context.Context, agent common.Address, opts ListOpts) ([]MirrorTrade, error)
	ListTradesByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]MirrorTrade, error)

	Cursor(ctx context.Context) (uint64, error)
	SetCursor(ctx context.Context, seq uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
