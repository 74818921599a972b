package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curvelabs/launchpad/internal/domain"
)

// HoldingStore implements domain.HoldingStore using PostgreSQL.
type HoldingStore struct {
	pool *pgxpool.Pool
}

// NewHoldingStore creates a new HoldingStore backed by the given connection pool.
func NewHoldingStore(pool *pgxpool.Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

// ListByAgent returns all strictly positive balances for the agent in
// ascending address order. Snapshot hashes are computed over this enumeration,
// so the ordering must never change.
func (s *HoldingStore) ListByAgent(ctx context.Context, agentID string) ([]domain.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, address, balance::text, updated_at
		 FROM holdings
		 WHERE agent_id = $1 AND balance > 0
		 ORDER BY address ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		var h domain.Holding
		var balance string
		if err := rows.Scan(&h.AgentID, &h.Address, &balance, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan holding: %w", err)
		}
		if h.Balance, err = parseNum(balance); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// Get retrieves one wallet's balance for an agent.
func (s *HoldingStore) Get(ctx context.Context, agentID, address string) (domain.Holding, error) {
	var h domain.Holding
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, address, balance::text, updated_at
		 FROM holdings WHERE agent_id = $1 AND address = $2`,
		agentID, address,
	).Scan(&h.AgentID, &h.Address, &balance, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Holding{}, domain.ErrNotFound
		}
		return domain.Holding{}, fmt.Errorf("postgres: get holding %s/%s: %w", agentID, address, err)
	}
	if h.Balance, err = parseNum(balance); err != nil {
		return domain.Holding{}, err
	}
	return h, nil
}
