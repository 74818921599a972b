package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curvelabs/launchpad/internal/domain"
)

// GraduationStore implements domain.GraduationStore using PostgreSQL.
type GraduationStore struct {
	pool *pgxpool.Pool
}

// NewGraduationStore creates a new GraduationStore backed by the given connection pool.
func NewGraduationStore(pool *pgxpool.Pool) *GraduationStore {
	return &GraduationStore{pool: pool}
}

// CreateSnapshot inserts a snapshot and its ordered entries in one
// transaction. The entries must already be in ascending address order with
// contiguous positions from 0.
func (s *GraduationStore) CreateSnapshot(ctx context.Context, snap domain.Snapshot, entries []domain.SnapshotEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin snapshot create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSnap = `
		INSERT INTO graduation_snapshots (
			id, agent_id, sequence, hash, holder_count,
			total_tokens, total_reward, reward_bps,
			submit_status, tx_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, insertSnap,
		snap.ID, snap.AgentID, int64(snap.Sequence), snap.Hash, snap.HolderCount,
		numStr(snap.TotalTokens), numStr(snap.TotalReward), snap.RewardBps,
		string(snap.SubmitStatus), snap.TxRef, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.ID, err)
	}

	batch := &pgx.Batch{}
	const insertEntry = `
		INSERT INTO graduation_snapshot_entries (snapshot_id, position, address, balance, reward)
		VALUES ($1, $2, $3, $4, $5)`
	for _, e := range entries {
		batch.Queue(insertEntry, snap.ID, e.Position, e.Address, numStr(e.Balance), numStr(e.Reward))
	}

	br := tx.SendBatch(ctx, batch)
	for i := range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert snapshot entry %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close snapshot entry batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *GraduationStore) GetSnapshot(ctx context.Context, id string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var seq int64
	var status string
	var totalTokens, totalReward string

	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, sequence, hash, holder_count,
		        total_tokens::text, total_reward::text, reward_bps,
		        submit_status, tx_ref, created_at
		 FROM graduation_snapshots WHERE id = $1`, id,
	).Scan(
		&snap.ID, &snap.AgentID, &seq, &snap.Hash, &snap.HolderCount,
		&totalTokens, &totalReward, &snap.RewardBps,
		&status, &snap.TxRef, &snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: get snapshot %s: %w", id, err)
	}
	snap.Sequence = uint64(seq)
	snap.SubmitStatus = domain.SubmitStatus(status)
	if snap.TotalTokens, err = parseNum(totalTokens); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.TotalReward, err = parseNum(totalReward); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// ListEntries returns a window of snapshot entries ordered by position.
func (s *GraduationStore) ListEntries(ctx context.Context, snapshotID string, from, limit int) ([]domain.SnapshotEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position, address, balance::text, reward::text
		 FROM graduation_snapshot_entries
		 WHERE snapshot_id = $1 AND position >= $2
		 ORDER BY position ASC
		 LIMIT $3`, snapshotID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshot entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.SnapshotEntry
	for rows.Next() {
		var e domain.SnapshotEntry
		var balance, reward string
		if err := rows.Scan(&e.Position, &e.Address, &balance, &reward); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot entry: %w", err)
		}
		if e.Balance, err = parseNum(balance); err != nil {
			return nil, err
		}
		if e.Reward, err = parseNum(reward); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateSnapshotSubmit records the outcome of the snapshot's chain submission.
func (s *GraduationStore) UpdateSnapshotSubmit(ctx context.Context, id string, status domain.SubmitStatus, txRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE graduation_snapshots SET submit_status = $1, tx_ref = $2 WHERE id = $3`,
		string(status), txRef, id)
	if err != nil {
		return fmt.Errorf("postgres: update snapshot submit %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateBatch records the intent to submit one airdrop batch. Re-creating an
// existing (agent, index) pair is a no-op so a resumed orchestrator can replay
// its intent log safely.
func (s *GraduationStore) CreateBatch(ctx context.Context, b domain.Batch) error {
	const query = `
		INSERT INTO graduation_batches (
			agent_id, snapshot_id, batch_index, recipients, tokens,
			status, tx_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id, batch_index) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		b.AgentID, b.SnapshotID, b.Index, b.Recipients, numStr(b.Tokens),
		string(b.Status), b.TxRef, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create batch %s/%d: %w", b.AgentID, b.Index, err)
	}
	return nil
}

// UpdateBatchStatus reconciles one batch's submission outcome. Confirmation
// stamps confirmed_at.
func (s *GraduationStore) UpdateBatchStatus(ctx context.Context, agentID string, index int, status domain.SubmitStatus, txRef string) error {
	var query string
	if status == domain.SubmitConfirmed {
		query = `UPDATE graduation_batches SET status = $1, tx_ref = $2, confirmed_at = NOW()
		         WHERE agent_id = $3 AND batch_index = $4`
	} else {
		query = `UPDATE graduation_batches SET status = $1, tx_ref = $2
		         WHERE agent_id = $3 AND batch_index = $4`
	}

	tag, err := s.pool.Exec(ctx, query, string(status), txRef, agentID, index)
	if err != nil {
		return fmt.Errorf("postgres: update batch %s/%d: %w", agentID, index, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetBatch retrieves one batch by agent and index.
func (s *GraduationStore) GetBatch(ctx context.Context, agentID string, index int) (domain.Batch, error) {
	var b domain.Batch
	var status, tokens string

	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, snapshot_id, batch_index, recipients, tokens::text,
		        status, tx_ref, created_at, confirmed_at
		 FROM graduation_batches WHERE agent_id = $1 AND batch_index = $2`,
		agentID, index,
	).Scan(
		&b.AgentID, &b.SnapshotID, &b.Index, &b.Recipients, &tokens,
		&status, &b.TxRef, &b.CreatedAt, &b.ConfirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Batch{}, domain.ErrNotFound
		}
		return domain.Batch{}, fmt.Errorf("postgres: get batch %s/%d: %w", agentID, index, err)
	}
	b.Status = domain.SubmitStatus(status)
	if b.Tokens, err = parseNum(tokens); err != nil {
		return domain.Batch{}, err
	}
	return b, nil
}

// ListBatches returns all batches for the agent ordered by index.
func (s *GraduationStore) ListBatches(ctx context.Context, agentID string) ([]domain.Batch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, snapshot_id, batch_index, recipients, tokens::text,
		        status, tx_ref, created_at, confirmed_at
		 FROM graduation_batches WHERE agent_id = $1 ORDER BY batch_index ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		var b domain.Batch
		var status, tokens string
		if err := rows.Scan(
			&b.AgentID, &b.SnapshotID, &b.Index, &b.Recipients, &tokens,
			&status, &b.TxRef, &b.CreatedAt, &b.ConfirmedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan batch: %w", err)
		}
		b.Status = domain.SubmitStatus(status)
		if b.Tokens, err = parseNum(tokens); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
