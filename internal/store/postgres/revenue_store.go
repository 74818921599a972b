package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curvelabs/launchpad/internal/domain"
)

// RevenueStore implements domain.RevenueStore using PostgreSQL.
type RevenueStore struct {
	pool *pgxpool.Pool
}

// NewRevenueStore creates a new RevenueStore backed by the given connection pool.
func NewRevenueStore(pool *pgxpool.Pool) *RevenueStore {
	return &RevenueStore{pool: pool}
}

// CreateDistribution records one fee split.
func (s *RevenueStore) CreateDistribution(ctx context.Context, d domain.Distribution) error {
	const query = `
		INSERT INTO revenue_distributions (
			id, agent_id, trade_id, total_fee, creator_share, platform_share,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.AgentID, d.TradeID,
		numStr(d.TotalFee), numStr(d.CreatorShare), numStr(d.PlatformShare),
		string(d.Status), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create distribution %s: %w", d.ID, err)
	}
	return nil
}

// GetDistribution retrieves a distribution by ID.
func (s *RevenueStore) GetDistribution(ctx context.Context, id string) (domain.Distribution, error) {
	var d domain.Distribution
	var status string
	var totalFee, creatorShare, platformShare string

	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, trade_id, total_fee::text, creator_share::text,
		        platform_share::text, status, created_at, updated_at
		 FROM revenue_distributions WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.AgentID, &d.TradeID, &totalFee, &creatorShare,
		&platformShare, &status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Distribution{}, domain.ErrNotFound
		}
		return domain.Distribution{}, fmt.Errorf("postgres: get distribution %s: %w", id, err)
	}
	d.Status = domain.DistributionStatus(status)
	if d.TotalFee, err = parseNum(totalFee); err != nil {
		return domain.Distribution{}, err
	}
	if d.CreatorShare, err = parseNum(creatorShare); err != nil {
		return domain.Distribution{}, err
	}
	if d.PlatformShare, err = parseNum(platformShare); err != nil {
		return domain.Distribution{}, err
	}
	return d, nil
}

// UpdateDistributionStatus changes a distribution's settlement status.
func (s *RevenueStore) UpdateDistributionStatus(ctx context.Context, id string, status domain.DistributionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE revenue_distributions SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update distribution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const failureSelectCols = `id, distribution_id, agent_id, recipient, address,
	amount::text, reason, retry_count, max_retries, status, created_at, updated_at`

func scanFailure(scanner interface{ Scan(dest ...any) error }) (domain.Failure, error) {
	var f domain.Failure
	var recipient, status, amount string

	err := scanner.Scan(
		&f.ID, &f.DistributionID, &f.AgentID, &recipient, &f.Address,
		&amount, &f.Reason, &f.RetryCount, &f.MaxRetries, &status,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return domain.Failure{}, err
	}
	f.Recipient = domain.RecipientType(recipient)
	f.Status = domain.FailureStatus(status)
	if f.Amount, err = parseNum(amount); err != nil {
		return domain.Failure{}, err
	}
	return f, nil
}

// CreateFailure queues one failed payout for bounded retries.
func (s *RevenueStore) CreateFailure(ctx context.Context, f domain.Failure) error {
	const query = `
		INSERT INTO revenue_failures (
			id, distribution_id, agent_id, recipient, address, amount,
			reason, retry_count, max_retries, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err := s.pool.Exec(ctx, query,
		f.ID, f.DistributionID, f.AgentID, string(f.Recipient), f.Address,
		numStr(f.Amount), f.Reason, f.RetryCount, f.MaxRetries,
		string(f.Status), f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create failure %s: %w", f.ID, err)
	}
	return nil
}

// GetFailure retrieves a failure by ID.
func (s *RevenueStore) GetFailure(ctx context.Context, id string) (domain.Failure, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+failureSelectCols+` FROM revenue_failures WHERE id = $1`, id)

	f, err := scanFailure(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Failure{}, domain.ErrNotFound
		}
		return domain.Failure{}, fmt.Errorf("postgres: get failure %s: %w", id, err)
	}
	return f, nil
}

// UpdateFailure writes the failure's mutable retry state.
func (s *RevenueStore) UpdateFailure(ctx context.Context, f domain.Failure) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE revenue_failures
		 SET reason = $1, retry_count = $2, status = $3, updated_at = NOW()
		 WHERE id = $4`,
		f.Reason, f.RetryCount, string(f.Status), f.ID)
	if err != nil {
		return fmt.Errorf("postgres: update failure %s: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFailures returns failures in any of the given statuses, oldest first.
// An empty status filter matches everything.
func (s *RevenueStore) ListFailures(ctx context.Context, statuses []domain.FailureStatus, opts domain.ListOpts) ([]domain.Failure, error) {
	query := `SELECT ` + failureSelectCols + ` FROM revenue_failures`
	args := []any{}
	argIdx := 1

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(st))
			argIdx++
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("postgres: list failures: %w", err)
	}
	defer rows.Close()

	var failures []domain.Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ListByDistribution returns all failures attached to one distribution.
func (s *RevenueStore) ListByDistribution(ctx context.Context, distributionID string) ([]domain.Failure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+failureSelectCols+` FROM revenue_failures
		 WHERE distribution_id = $1 ORDER BY created_at ASC`, distributionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list failures by distribution: %w", err)
	}
	defer rows.Close()

	var failures []domain.Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan distribution failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
