package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// MirrorStore implements domain.MirrorStore using PostgreSQL.
type MirrorStore struct {
	pool *pgxpool.Pool
}

// NewMirrorStore creates a new MirrorStore backed by the given connection pool.
func NewMirrorStore(pool *pgxpool.Pool) *MirrorStore {
	return &MirrorStore{pool: pool}
}

// UpsertMarket inserts or replaces a market row. Insertion order is kept.
func (s *MirrorStore) UpsertMarket(ctx context.Context, m domain.MirrorMarket) error {
	const query = `
		INSERT INTO markets (id, name, region, is_active, price, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			region     = EXCLUDED.region,
			is_active  = EXCLUDED.is_active,
			price      = COALESCE(EXCLUDED.price, markets.price),
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query, m.ID.Hex(), m.Name, m.Region, m.IsActive, numeric(m.Price), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID.Hex(), err)
	}
	return nil
}

const marketCols = `id, name, region, is_active, price::text, updated_at`

func scanMarket(row pgx.Row) (domain.MirrorMarket, error) {
	var (
		m     domain.MirrorMarket
		id    string
		price *string
	)
	if err := row.Scan(&id, &m.Name, &m.Region, &m.IsActive, &price, &m.UpdatedAt); err != nil {
		return domain.MirrorMarket{}, err
	}
	p, err := parseNumeric(price)
	if err != nil {
		return domain.MirrorMarket{}, err
	}
	m.ID = common.HexToHash(id)
	m.Price = p
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func (s *MirrorStore) GetMarket(ctx context.Context, id common.Hash) (domain.MirrorMarket, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MirrorMarket{}, domain.ErrNotFound
		}
		return domain.MirrorMarket{}, fmt.Errorf("postgres: get market %s: %w", id.Hex(), err)
	}
	return m, nil
}

func (s *MirrorStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MirrorMarket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY first_seen LIMIT $1 OFFSET $2`,
		limitArg(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MirrorMarket
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// UpsertAgent writes the full agent row.
func (s *MirrorStore) UpsertAgent(ctx context.Context, a domain.MirrorAgent) error {
	const query = `
		INSERT INTO agents (
			address, owner, executor, risk_profile,
			max_trade_size, daily_loss_limit, max_open_positions, markets,
			balance, total_deposited, total_withdrawn, pnl,
			total_trades, open_positions, wins, losses, paused,
			created_seq, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7, $8,
			$9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13, $14, $15, $16, $17,
			$18, $19, $20
		)
		ON CONFLICT (address) DO UPDATE SET
			balance         = EXCLUDED.balance,
			total_deposited = EXCLUDED.total_deposited,
			total_withdrawn = EXCLUDED.total_withdrawn,
			pnl             = EXCLUDED.pnl,
			total_trades    = EXCLUDED.total_trades,
			open_positions  = EXCLUDED.open_positions,
			wins            = EXCLUDED.wins,
			losses          = EXCLUDED.losses,
			paused          = EXCLUDED.paused,
			updated_at      = EXCLUDED.updated_at`

	markets := make([]string, len(a.Markets))
	for i, id := range a.Markets {
		markets[i] = id.Hex()
	}
	_, err := s.pool.Exec(ctx, query,
		a.Address.Hex(), a.Owner.Hex(), a.Executor.Hex(), int16(a.RiskProfile),
		numeric(zeroIfNil(a.MaxTradeSize)), numeric(zeroIfNil(a.DailyLossLimit)), a.MaxOpenPositions, markets,
		numeric(zeroIfNil(a.Balance)), numeric(zeroIfNil(a.TotalDeposited)), numeric(zeroIfNil(a.TotalWithdrawn)), numeric(zeroIfNil(a.Pnl)),
		a.TotalTrades, a.OpenPositions, a.Wins, a.Losses, a.Paused,
		a.CreatedSeq, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert agent %s: %w", a.Address.Hex(), err)
	}
	return nil
}

const agentCols = `address, owner, executor, risk_profile,
	max_trade_size::text, daily_loss_limit::text, max_open_positions, markets,
	balance::text, total_deposited::text, total_withdrawn::text, pnl::text,
	total_trades, open_positions, wins, losses, paused,
	created_seq, created_at, updated_at`

func scanAgent(row pgx.Row) (domain.MirrorAgent, error) {
	var (
		a                     domain.MirrorAgent
		addr, owner, executor string
		profile               int16
		markets               []string
		maxTrade, dailyLoss   *string
		balance, deposited    *string
		withdrawn, pnl        *string
	)
	err := row.Scan(
		&addr, &owner, &executor, &profile,
		&maxTrade, &dailyLoss, &a.MaxOpenPositions, &markets,
		&balance, &deposited, &withdrawn, &pnl,
		&a.TotalTrades, &a.OpenPositions, &a.Wins, &a.Losses, &a.Paused,
		&a.CreatedSeq, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.MirrorAgent{}, err
	}
	for _, f := range []struct {
		dst **big.Int
		src *string
	}{
		{&a.MaxTradeSize, maxTrade},
		{&a.DailyLossLimit, dailyLoss},
		{&a.Balance, balance},
		{&a.TotalDeposited, deposited},
		{&a.TotalWithdrawn, withdrawn},
		{&a.Pnl, pnl},
	} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return domain.MirrorAgent{}, err
		}
	}
	a.Address = common.HexToAddress(addr)
	a.Owner = common.HexToAddress(owner)
	a.Executor = common.HexToAddress(executor)
	a.RiskProfile = domain.RiskProfile(profile)
	for _, id := range markets {
		a.Markets = append(a.Markets, common.HexToHash(id))
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (s *MirrorStore) GetAgent(ctx context.Context, addr common.Address) (domain.MirrorAgent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentCols+` FROM agents WHERE address = $1`, addr.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MirrorAgent{}, domain.ErrNotFound
		}
		return domain.MirrorAgent{}, fmt.Errorf("postgres: get agent %s: %w", addr.Hex(), err)
	}
	return a, nil
}

// ListAgents returns agents in creation order. A zero owner lists every agent.
func (s *MirrorStore) ListAgents(ctx context.Context, owner common.Address) ([]domain.MirrorAgent, error) {
	var filter string
	if owner != (common.Address{}) {
		filter = owner.Hex()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentCols+` FROM agents WHERE ($1 = '' OR owner = $1) ORDER BY created_seq, address`,
		filter,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.MirrorAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list agents rows: %w", err)
	}
	return out, nil
}

func (s *MirrorStore) UpsertPosition(ctx context.Context, p domain.MirrorPosition) error {
	const query = `
		INSERT INTO positions (
			agent, id, market_id, direction, entry_amount, entry_price,
			is_open, opened_at, closed_at, payout, realized_pnl
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10::numeric, $11::numeric)
		ON CONFLICT (agent, id) DO UPDATE SET
			is_open      = EXCLUDED.is_open,
			closed_at    = EXCLUDED.closed_at,
			payout       = EXCLUDED.payout,
			realized_pnl = EXCLUDED.realized_pnl`
	_, err := s.pool.Exec(ctx, query,
		p.Agent.Hex(), p.ID, p.MarketID.Hex(), int16(p.Direction),
		numeric(zeroIfNil(p.EntryAmount)), numeric(p.EntryPrice),
		p.IsOpen, p.OpenedAt, p.ClosedAt, numeric(p.Payout), numeric(p.RealizedPnl),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%d: %w", p.Agent.Hex(), p.ID, err)
	}
	return nil
}

const positionCols = `agent, id, market_id, direction, entry_amount::text, entry_price::text,
	is_open, opened_at, closed_at, payout::text, realized_pnl::text`

func scanPosition(row pgx.Row) (domain.MirrorPosition, error) {
	var (
		p             domain.MirrorPosition
		agent, market string
		dir           int16
		entry, price  *string
		payout, pnl   *string
	)
	err := row.Scan(&agent, &p.ID, &market, &dir, &entry, &price, &p.IsOpen, &p.OpenedAt, &p.ClosedAt, &payout, &pnl)
	if err != nil {
		return domain.MirrorPosition{}, err
	}
	if p.EntryAmount, err = parseNumeric(entry); err != nil {
		return domain.MirrorPosition{}, err
	}
	if p.EntryPrice, err = parseNumeric(price); err != nil {
		return domain.MirrorPosition{}, err
	}
	if p.Payout, err = parseNumeric(payout); err != nil {
		return domain.MirrorPosition{}, err
	}
	if p.RealizedPnl, err = parseNumeric(pnl); err != nil {
		return domain.MirrorPosition{}, err
	}
	p.Agent = common.HexToAddress(agent)
	p.MarketID = common.HexToHash(market)
	p.Direction = domain.Direction(dir)
	p.OpenedAt = p.OpenedAt.UTC()
	if p.ClosedAt != nil {
		t := p.ClosedAt.UTC()
		p.ClosedAt = &t
	}
	return p, nil
}

func (s *MirrorStore) GetPosition(ctx context.Context, agent common.Address, id uint64) (domain.MirrorPosition, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE agent = $1 AND id = $2`, agent.Hex(), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MirrorPosition{}, domain.ErrNotFound
		}
		return domain.MirrorPosition{}, fmt.Errorf("postgres: get position %s/%d: %w", agent.Hex(), id, err)
	}
	return p, nil
}

func (s *MirrorStore) ListPositions(ctx context.Context, agent common.Address, openOnly bool) ([]domain.MirrorPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE agent = $1 AND (NOT $2 OR is_open) ORDER BY id`,
		agent.Hex(), openOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.MirrorPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

// InsertTrade records one leg of a position. A repeated leg is ignored.
func (s *MirrorStore) InsertTrade(ctx context.Context, t domain.MirrorTrade) error {
	const query = `
		INSERT INTO trades (
			agent, owner, position_id, kind, market_id, direction,
			amount, price, pnl, tx_hash, seq, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $12)
		ON CONFLICT (agent, position_id, kind) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		t.Agent.Hex(), t.Owner.Hex(), t.PositionID, string(t.Kind), t.MarketID.Hex(), int16(t.Direction),
		numeric(zeroIfNil(t.Amount)), numeric(t.Price), numeric(t.Pnl), t.TxHash.Hex(), t.Seq, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s/%d/%s: %w", t.Agent.Hex(), t.PositionID, t.Kind, err)
	}
	return nil
}

func (s *MirrorStore) ListTrades(ctx context.Context, agent common.Address, opts domain.ListOpts) ([]domain.MirrorTrade, error) {
	return s.listTrades(ctx, "agent", agent.Hex(), opts)
}

func (s *MirrorStore) ListTradesByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.MirrorTrade, error) {
	return s.listTrades(ctx, "owner", owner.Hex(), opts)
}

// listTrades returns trades newest first. column is one of the two indexed
// filter columns.
func (s *MirrorStore) listTrades(ctx context.Context, column, value string, opts domain.ListOpts) ([]domain.MirrorTrade, error) {
	query := `SELECT agent, owner, position_id, kind, market_id, direction,
		amount::text, price::text, pnl::text, tx_hash, seq, ts
		FROM trades WHERE ` + column + ` = $1`
	args := []any{value}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY seq DESC, id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limitArg(opts.Limit), opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.MirrorTrade
	for rows.Next() {
		var (
			t                              domain.MirrorTrade
			agent, owner, kind, market, tx string
			dir                            int16
			amount, price, pnl             *string
		)
		if err := rows.Scan(&agent, &owner, &t.PositionID, &kind, &market, &dir,
			&amount, &price, &pnl, &tx, &t.Seq, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		if t.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if t.Price, err = parseNumeric(price); err != nil {
			return nil, err
		}
		if t.Pnl, err = parseNumeric(pnl); err != nil {
			return nil, err
		}
		t.Agent = common.HexToAddress(agent)
		t.Owner = common.HexToAddress(owner)
		t.Kind = domain.TradeKind(kind)
		t.MarketID = common.HexToHash(market)
		t.Direction = domain.Direction(dir)
		t.TxHash = common.HexToHash(tx)
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return out, nil
}

// Cursor returns the last event sequence applied to the mirror.
func (s *MirrorStore) Cursor(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(ctx, `SELECT seq FROM mirror_cursor WHERE id`).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: mirror cursor: %w", err)
	}
	return seq, nil
}

func (s *MirrorStore) SetCursor(ctx context.Context, seq uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mirror_cursor (id, seq) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET seq = EXCLUDED.seq`, seq)
	if err != nil {
		return fmt.Errorf("postgres: set mirror cursor: %w", err)
	}
	return nil
}

func zeroIfNil(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

var _ domain.MirrorStore = (*MirrorStore)(nil)
