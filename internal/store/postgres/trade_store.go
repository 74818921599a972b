package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curvelabs/launchpad/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, agent_id, trader, side,
	amount_in::text, amount_out::text, fee::text, refund::text,
	tokens_sold_after::text, price_after::text, created_at`

func scanTrade(scanner interface{ Scan(dest ...any) error }) (domain.Trade, error) {
	var t domain.Trade
	var side string
	var amountIn, amountOut, fee, refund, soldAfter, priceAfter string

	err := scanner.Scan(
		&t.ID, &t.AgentID, &t.Trader, &side,
		&amountIn, &amountOut, &fee, &refund,
		&soldAfter, &priceAfter, &t.CreatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.TradeDirection(side)

	if t.AmountIn, err = parseNum(amountIn); err != nil {
		return domain.Trade{}, err
	}
	if t.AmountOut, err = parseNum(amountOut); err != nil {
		return domain.Trade{}, err
	}
	if t.Fee, err = parseNum(fee); err != nil {
		return domain.Trade{}, err
	}
	if t.Refund, err = parseNum(refund); err != nil {
		return domain.Trade{}, err
	}
	if t.TokensSoldAfter, err = parseNum(soldAfter); err != nil {
		return domain.Trade{}, err
	}
	if t.PriceAfter, err = parseNum(priceAfter); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Commit applies one executed trade atomically: the version-guarded agent
// state, the trade row, and the trader's holding adjustment land in a single
// transaction or not at all.
func (s *TradeStore) Commit(ctx context.Context, agent domain.Agent, trade domain.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin trade commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const updateAgent = `
		UPDATE agents SET
			phase = $1, tokens_sold = $2, reserve = $3,
			version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5`

	tag, err := tx.Exec(ctx, updateAgent,
		string(agent.Phase), numStr(agent.TokensSold), numStr(agent.Reserve),
		agent.ID, agent.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: commit trade agent update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}

	const insertTrade = `
		INSERT INTO trades (
			id, agent_id, trader, side,
			amount_in, amount_out, fee, refund,
			tokens_sold_after, price_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, insertTrade,
		trade.ID, trade.AgentID, trade.Trader, string(trade.Side),
		numStr(trade.AmountIn), numStr(trade.AmountOut),
		numStr(trade.Fee), numStr(trade.Refund),
		numStr(trade.TokensSoldAfter), numStr(trade.PriceAfter),
		trade.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}

	// Buys add AmountOut tokens; sells remove AmountIn tokens. The balance
	// check constraint rejects any drift below zero.
	delta := numStr(trade.AmountOut)
	if trade.Side == domain.TradeSell {
		delta = "-" + numStr(trade.AmountIn)
	}

	const upsertHolding = `
		INSERT INTO holdings (agent_id, address, balance, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (agent_id, address) DO UPDATE
		SET balance = holdings.balance + EXCLUDED.balance, updated_at = NOW()`

	if _, err := tx.Exec(ctx, upsertHolding, trade.AgentID, trade.Trader, delta); err != nil {
		return fmt.Errorf("postgres: adjust holding %s/%s: %w", trade.AgentID, trade.Trader, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade %s: %w", trade.ID, err)
	}
	return nil
}

// ListByAgent returns trades for an agent with pagination and optional time
// filtering, newest first.
func (s *TradeStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE agent_id = $1`
	args := []any{agentID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by agent: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by agent: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades created strictly before the given time, oldest
// first, for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE created_at < $1 ORDER BY created_at ASC`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore deletes trades created before the given time. Returns the
// number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
