package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curvelabs/launchpad/internal/domain"
)

// AgentStore implements domain.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *pgxpool.Pool
}

// NewAgentStore creates a new AgentStore backed by the given connection pool.
func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

const agentSelectCols = `id, name, symbol, creator,
	start_price::text, end_price::text, max_supply::text, graduation_threshold::text,
	phase, grad_phase, tokens_sold::text, reserve::text,
	snapshot_id, total_batches, confirmed_batches, grad_error,
	version, created_at, updated_at`

func scanAgent(scanner interface{ Scan(dest ...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var phase, gradPhase string
	var startPrice, endPrice, maxSupply, threshold, sold, reserve string

	err := scanner.Scan(
		&a.ID, &a.Name, &a.Symbol, &a.Creator,
		&startPrice, &endPrice, &maxSupply, &threshold,
		&phase, &gradPhase, &sold, &reserve,
		&a.SnapshotID, &a.TotalBatches, &a.ConfirmedBatches, &a.GradError,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Agent{}, err
	}

	a.Phase = domain.CurvePhase(phase)
	a.GradPhase = domain.GraduationPhase(gradPhase)

	if a.Config.StartPrice, err = parseNum(startPrice); err != nil {
		return domain.Agent{}, err
	}
	if a.Config.EndPrice, err = parseNum(endPrice); err != nil {
		return domain.Agent{}, err
	}
	if a.Config.MaxSupply, err = parseNum(maxSupply); err != nil {
		return domain.Agent{}, err
	}
	if a.Config.GraduationThreshold, err = parseNum(threshold); err != nil {
		return domain.Agent{}, err
	}
	if a.TokensSold, err = parseNum(sold); err != nil {
		return domain.Agent{}, err
	}
	if a.Reserve, err = parseNum(reserve); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// Create inserts a new agent with its immutable curve configuration.
func (s *AgentStore) Create(ctx context.Context, a domain.Agent) error {
	const query = `
		INSERT INTO agents (
			id, name, symbol, creator,
			start_price, end_price, max_supply, graduation_threshold,
			phase, grad_phase, tokens_sold, reserve, version
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Name, a.Symbol, a.Creator,
		numStr(a.Config.StartPrice), numStr(a.Config.EndPrice),
		numStr(a.Config.MaxSupply), numStr(a.Config.GraduationThreshold),
		string(a.Phase), string(a.GradPhase),
		numStr(a.TokensSold), numStr(a.Reserve), a.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create agent %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves a single agent by ID.
func (s *AgentStore) GetByID(ctx context.Context, id string) (domain.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Agent{}, domain.ErrNotFound
		}
		return domain.Agent{}, fmt.Errorf("postgres: get agent %s: %w", id, err)
	}
	return a, nil
}

// ListByPhase returns agents in the given curve phase with pagination.
func (s *AgentStore) ListByPhase(ctx context.Context, phase domain.CurvePhase, opts domain.ListOpts) ([]domain.Agent, error) {
	query := `SELECT ` + agentSelectCols + ` FROM agents WHERE phase = $1 ORDER BY created_at DESC`
	args := []any{string(phase)}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list agents by phase: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListPendingGraduation returns agents with unfinished orchestrator work.
func (s *AgentStore) ListPendingGraduation(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentSelectCols+` FROM agents
		 WHERE grad_phase IN ('initializing', 'airdropping')
		 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending graduation: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateState writes the agent's mutable state guarded by the version the
// caller read. A stale version returns ErrConflict; a missing row ErrNotFound.
func (s *AgentStore) UpdateState(ctx context.Context, a domain.Agent) error {
	const query = `
		UPDATE agents SET
			phase = $1, grad_phase = $2, tokens_sold = $3, reserve = $4,
			snapshot_id = $5, total_batches = $6, confirmed_batches = $7,
			grad_error = $8, version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10`

	tag, err := s.pool.Exec(ctx, query,
		string(a.Phase), string(a.GradPhase),
		numStr(a.TokensSold), numStr(a.Reserve),
		a.SnapshotID, a.TotalBatches, a.ConfirmedBatches, a.GradError,
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update agent %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM agents WHERE id = $1)", a.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check agent %s: %w", a.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}
