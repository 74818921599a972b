package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/curvelabs/launchpad/internal/domain"
)

// RevenueConfig carries the payout policy.
type RevenueConfig struct {
	// PlatformAddress receives the platform's share of every fee.
	PlatformAddress string
	// MaxRetries bounds how many times a failed payout may be retried before
	// it is abandoned for manual review.
	MaxRetries int
	// CallTimeout bounds each payout call.
	CallTimeout time.Duration
}

// RevenueService settles trade fees to their beneficiaries and keeps the
// bounded retry ledger for payouts that could not complete.
type RevenueService struct {
	store  domain.RevenueStore
	chain  domain.ChainClient
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
	cfg    RevenueConfig
}

// NewRevenueService creates a RevenueService with all required dependencies.
func NewRevenueService(
	store domain.RevenueStore,
	chain domain.ChainClient,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	cfg RevenueConfig,
) *RevenueService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &RevenueService{
		store:  store,
		chain:  chain,
		bus:    bus,
		audit:  audit,
		logger: logger,
		cfg:    cfg,
	}
}

// Record writes the fee split for an executed trade and attempts both
// payouts. A payout that fails does not fail the distribution; it lands in
// the failure queue with a bounded retry budget.
func (s *RevenueService) Record(ctx context.Context, agent domain.Agent, trade domain.Trade, creatorShare, platformShare *big.Int) error {
	dist := domain.Distribution{
		ID:            uuid.New().String(),
		AgentID:       agent.ID,
		TradeID:       trade.ID,
		TotalFee:      trade.Fee,
		CreatorShare:  creatorShare,
		PlatformShare: platformShare,
		Status:        domain.DistributionPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateDistribution(ctx, dist); err != nil {
		return fmt.Errorf("revenue: record distribution: %w", err)
	}

	payouts := []struct {
		recipient domain.RecipientType
		address   string
		amount    *big.Int
	}{
		{domain.RecipientCreator, agent.Creator, creatorShare},
		{domain.RecipientPlatform, s.cfg.PlatformAddress, platformShare},
	}

	failed := 0
	for _, p := range payouts {
		if p.amount.Sign() == 0 {
			continue
		}
		if err := s.payout(ctx, p.address, p.amount); err != nil {
			failed++
			s.queueFailure(ctx, dist, p.recipient, p.address, p.amount, err)
		}
	}

	status := domain.DistributionCompleted
	if failed == len(payouts) {
		status = domain.DistributionPending
	} else if failed > 0 {
		status = domain.DistributionPartial
	}
	if err := s.store.UpdateDistributionStatus(ctx, dist.ID, status); err != nil {
		return fmt.Errorf("revenue: update distribution %s: %w", dist.ID, err)
	}

	s.publish(ctx, "distribution_recorded", map[string]any{
		"distribution_id": dist.ID,
		"agent_id":        agent.ID,
		"trade_id":        trade.ID,
		"total_fee":       trade.Fee.String(),
		"status":          string(status),
	})
	return nil
}

func (s *RevenueService) payout(ctx context.Context, address string, amount *big.Int) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	_, err := s.chain.Payout(callCtx, address, amount)
	return err
}

func (s *RevenueService) queueFailure(ctx context.Context, dist domain.Distribution, recipient domain.RecipientType, address string, amount *big.Int, cause error) {
	f := domain.Failure{
		ID:             uuid.New().String(),
		DistributionID: dist.ID,
		AgentID:        dist.AgentID,
		Recipient:      recipient,
		Address:        address,
		Amount:         amount,
		Reason:         cause.Error(),
		RetryCount:     0,
		MaxRetries:     s.cfg.MaxRetries,
		Status:         domain.FailurePending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateFailure(ctx, f); err != nil {
		s.logger.ErrorContext(ctx, "revenue: queue failure",
			slog.String("distribution_id", dist.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.WarnContext(ctx, "revenue: payout failed, queued for retry",
		slog.String("failure_id", f.ID),
		slog.String("recipient", string(recipient)),
		slog.String("reason", f.Reason),
	)
}

// RetryOne retries a single queued payout. The retry budget is strict: once
// RetryCount reaches MaxRetries the failure flips to abandoned and further
// retries return ErrRetryExhausted.
func (s *RevenueService) RetryOne(ctx context.Context, failureID string) (domain.Failure, error) {
	f, err := s.store.GetFailure(ctx, failureID)
	if err != nil {
		return domain.Failure{}, fmt.Errorf("revenue: retry %s: %w", failureID, err)
	}

	switch f.Status {
	case domain.FailureResolved:
		return f, nil
	case domain.FailureAbandoned:
		return f, fmt.Errorf("%w: failure %s is abandoned", domain.ErrRetryExhausted, failureID)
	}
	if !f.Retryable() {
		f.Status = domain.FailureAbandoned
		_ = s.store.UpdateFailure(ctx, f)
		return f, fmt.Errorf("%w: failure %s used %d of %d retries",
			domain.ErrRetryExhausted, failureID, f.RetryCount, f.MaxRetries)
	}

	f.RetryCount++
	f.Status = domain.FailureRetrying

	if err := s.payout(ctx, f.Address, f.Amount); err != nil {
		f.Reason = err.Error()
		if f.RetryCount >= f.MaxRetries {
			f.Status = domain.FailureAbandoned
		}
		if updateErr := s.store.UpdateFailure(ctx, f); updateErr != nil {
			return f, fmt.Errorf("revenue: retry %s: %w", failureID, updateErr)
		}
		if f.Status == domain.FailureAbandoned {
			s.logAudit(ctx, "revenue_failure_abandoned", map[string]any{
				"failure_id": f.ID,
				"recipient":  string(f.Recipient),
				"amount":     f.Amount.String(),
			})
			return f, fmt.Errorf("%w: failure %s abandoned after %d retries: %v",
				domain.ErrRetryExhausted, failureID, f.RetryCount, err)
		}
		return f, fmt.Errorf("revenue: retry %s: %w", failureID, err)
	}

	f.Status = domain.FailureResolved
	if err := s.store.UpdateFailure(ctx, f); err != nil {
		return f, fmt.Errorf("revenue: retry %s: %w", failureID, err)
	}
	s.refreshDistributionStatus(ctx, f.DistributionID)

	s.publish(ctx, "revenue_failure_resolved", map[string]any{
		"failure_id":      f.ID,
		"distribution_id": f.DistributionID,
		"retry_count":     f.RetryCount,
	})
	return f, nil
}

// RetryAllPending retries every retryable failure, reporting per-item
// outcomes. One unresolvable recipient never blocks the rest.
func (s *RevenueService) RetryAllPending(ctx context.Context) ([]domain.RetryResult, error) {
	failures, err := s.store.ListFailures(ctx,
		[]domain.FailureStatus{domain.FailurePending, domain.FailureRetrying},
		domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("revenue: retry all: %w", err)
	}

	results := make([]domain.RetryResult, 0, len(failures))
	for _, f := range failures {
		updated, err := s.RetryOne(ctx, f.ID)
		r := domain.RetryResult{FailureID: f.ID, Status: updated.Status}
		if err != nil {
			r.Err = err.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

// ListFailures returns queued payout failures filtered by status.
func (s *RevenueService) ListFailures(ctx context.Context, statuses []domain.FailureStatus, opts domain.ListOpts) ([]domain.Failure, error) {
	failures, err := s.store.ListFailures(ctx, statuses, opts)
	if err != nil {
		return nil, fmt.Errorf("revenue: list failures: %w", err)
	}
	return failures, nil
}

// GetDistribution returns one distribution with its failure rows.
func (s *RevenueService) GetDistribution(ctx context.Context, id string) (domain.Distribution, []domain.Failure, error) {
	d, err := s.store.GetDistribution(ctx, id)
	if err != nil {
		return domain.Distribution{}, nil, fmt.Errorf("revenue: get distribution %s: %w", id, err)
	}
	failures, err := s.store.ListByDistribution(ctx, id)
	if err != nil {
		return domain.Distribution{}, nil, fmt.Errorf("revenue: get distribution %s: %w", id, err)
	}
	return d, failures, nil
}

// refreshDistributionStatus promotes a distribution to completed once none of
// its failures remain open.
func (s *RevenueService) refreshDistributionStatus(ctx context.Context, distributionID string) {
	failures, err := s.store.ListByDistribution(ctx, distributionID)
	if err != nil {
		s.logger.WarnContext(ctx, "revenue: refresh distribution",
			slog.String("distribution_id", distributionID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, f := range failures {
		if f.Status == domain.FailurePending || f.Status == domain.FailureRetrying {
			return
		}
		if f.Status == domain.FailureAbandoned {
			return
		}
	}
	if err := s.store.UpdateDistributionStatus(ctx, distributionID, domain.DistributionCompleted); err != nil {
		s.logger.WarnContext(ctx, "revenue: refresh distribution",
			slog.String("distribution_id", distributionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RevenueService) publish(ctx context.Context, event string, payload map[string]any) {
	payload["event"] = event
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "revenue", evt); err != nil {
		s.logger.WarnContext(ctx, "revenue: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RevenueService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "revenue: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
