package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IndexerOffsetStore implements domain.IndexerOffsetStore using PostgreSQL.
type IndexerOffsetStore struct {
	pool *pgxpool.Pool
}

// NewIndexerOffsetStore creates a new IndexerOffsetStore backed by the given connection pool.
func NewIndexerOffsetStore(pool *pgxpool.Pool) *IndexerOffsetStore {
	return &IndexerOffsetStore{pool: pool}
}

// Get returns the last recorded block for the contract and event type, or 0
// when nothing has been recorded yet.
func (s *IndexerOffsetStore) Get(ctx context.Context, contract, eventType string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_block FROM indexer_offsets WHERE contract = $1 AND event_type = $2`,
		contract, eventType,
	).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get indexer offset %s/%s: %w", contract, eventType, err)
	}
	return uint64(block), nil
}

// Set upserts the last confirmed block. Offsets only move forward so a lagging
// sweep can never rewind a fresher one.
func (s *IndexerOffsetStore) Set(ctx context.Context, contract, eventType string, block uint64) error {
	const query = `
		INSERT INTO indexer_offsets (contract, event_type, last_block, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (contract, event_type) DO UPDATE
		SET last_block = GREATEST(indexer_offsets.last_block, EXCLUDED.last_block),
		    updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, contract, eventType, int64(block)); err != nil {
		return fmt.Errorf("postgres: set indexer offset %s/%s: %w", contract, eventType, err)
	}
	return nil
}
