// Package scheduler runs the launchpad's background loops: the graduation
// sweep that drives pending graduations to completion, the revenue retry
// sweep that drains the payout failure queue, and the cold-storage archiver.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curvelabs/launchpad/internal/domain"
)

// GraduationRunner drives one agent's graduation as far as it will go.
type GraduationRunner interface {
	Run(ctx context.Context, agentID string) error
}

// RevenueRetrier retries queued payout failures.
type RevenueRetrier interface {
	RetryAllPending(ctx context.Context) ([]domain.RetryResult, error)
}

// Notifier delivers operator alerts for events that need a human.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the scheduler's loop intervals and archival policy.
type Config struct {
	// GraduationInterval is how often the graduation sweep runs.
	GraduationInterval time.Duration
	// RetryInterval is how often the revenue retry sweep runs.
	RetryInterval time.Duration
	// ArchiveCron is a 5-field cron expression for the archive job.
	ArchiveCron string
	// RetentionDays is how long trades stay in the primary store before they
	// are archived to cold storage and deleted.
	RetentionDays int
	// ContractAddress keys the recorded chain head in the offset table.
	ContractAddress string
}

// SweepOutcome summarises one sweep pass so callers and loop logs can tell
// an idle system from one making progress or one needing an operator.
type SweepOutcome string

const (
	SweepIdle           SweepOutcome = "nothing-to-do"
	SweepProgressed     SweepOutcome = "progressed"
	SweepNeedsAttention SweepOutcome = "needs-attention"
)

// Scheduler coordinates all background loops under one errgroup.
type Scheduler struct {
	agents   domain.AgentStore
	grad     GraduationRunner
	revenue  RevenueRetrier
	archiver domain.Archiver
	trades   domain.TradeStore
	offsets  domain.IndexerOffsetStore
	chain    domain.ChainClient
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
}

// New creates a Scheduler. The archiver and notifier may be nil, disabling
// archival and operator alerts respectively.
func New(
	agents domain.AgentStore,
	grad GraduationRunner,
	revenue RevenueRetrier,
	archiver domain.Archiver,
	trades domain.TradeStore,
	offsets domain.IndexerOffsetStore,
	chain domain.ChainClient,
	notifier Notifier,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	if cfg.GraduationInterval == 0 {
		cfg.GraduationInterval = 15 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 90
	}
	return &Scheduler{
		agents:   agents,
		grad:     grad,
		revenue:  revenue,
		archiver: archiver,
		trades:   trades,
		offsets:  offsets,
		chain:    chain,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each
// goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting",
		slog.Duration("graduation_interval", s.cfg.GraduationInterval),
		slog.Duration("retry_interval", s.cfg.RetryInterval),
		slog.String("archive_cron", s.cfg.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.runGraduationSweep(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("graduation sweep: %w", err)
	})

	g.Go(func() error {
		err := s.runRetrySweep(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("retry sweep: %w", err)
	})

	if s.archiver != nil && s.cfg.ArchiveCron != "" {
		g.Go(func() error {
			err := s.runArchiveCron(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}

	s.logger.Info("scheduler stopped cleanly")
	return nil
}

// runGraduationSweep ticks every GraduationInterval, sweeping once
// immediately on start.
func (s *Scheduler) runGraduationSweep(ctx context.Context) error {
	s.SweepGraduations(ctx)

	ticker := time.NewTicker(s.cfg.GraduationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepGraduations(ctx)
		}
	}
}

// SweepGraduations finds every agent with unfinished graduation work and
// drives each one forward. A single agent's failure never blocks the rest;
// hard failures escalate to the operator channel and mark the sweep
// needs-attention. The observed chain head is recorded in the offset table
// after each sweep.
func (s *Scheduler) SweepGraduations(ctx context.Context) SweepOutcome {
	pending, err := s.agents.ListPendingGraduation(ctx)
	if err != nil {
		s.logger.Error("scheduler: list pending graduations",
			slog.String("error", err.Error()),
		)
		return SweepNeedsAttention
	}

	// Agents frozen by a threshold-crossing buy but not yet initialized.
	graduating, err := s.agents.ListByPhase(ctx, domain.CurveGraduating, domain.ListOpts{Limit: 100})
	if err != nil {
		s.logger.Error("scheduler: list graduating agents",
			slog.String("error", err.Error()),
		)
		return SweepNeedsAttention
	}

	seen := make(map[string]bool, len(pending)+len(graduating))
	failed := 0
	for _, a := range append(pending, graduating...) {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true

		if err := s.grad.Run(ctx, a.ID); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue // another worker has it
			}
			failed++
			s.logger.Warn("scheduler: graduation step failed",
				slog.String("agent_id", a.ID),
				slog.String("error", err.Error()),
			)
			s.escalate(ctx, "graduation_failed", "Graduation needs attention",
				fmt.Sprintf("agent %s (%s): %v", a.ID, a.Symbol, err))
		}
	}

	s.recordChainHead(ctx)

	outcome := SweepIdle
	switch {
	case failed > 0:
		outcome = SweepNeedsAttention
	case len(seen) > 0:
		outcome = SweepProgressed
	}
	if outcome != SweepIdle {
		s.logger.Info("scheduler: graduation sweep complete",
			slog.Int("agents", len(seen)),
			slog.Int("failed", failed),
			slog.String("outcome", string(outcome)),
		)
	}
	return outcome
}

// runRetrySweep ticks every RetryInterval, sweeping once immediately on
// start.
func (s *Scheduler) runRetrySweep(ctx context.Context) error {
	s.SweepRetries(ctx)

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepRetries(ctx)
		}
	}
}

// SweepRetries retries every queued payout failure. Failures that exhausted
// their retry budget escalate to the operator channel and mark the sweep
// needs-attention.
func (s *Scheduler) SweepRetries(ctx context.Context) SweepOutcome {
	results, err := s.revenue.RetryAllPending(ctx)
	if err != nil {
		s.logger.Error("scheduler: retry sweep",
			slog.String("error", err.Error()),
		)
		return SweepNeedsAttention
	}
	if len(results) == 0 {
		return SweepIdle
	}

	resolved := 0
	abandoned := 0
	for _, r := range results {
		switch r.Status {
		case domain.FailureResolved:
			resolved++
		case domain.FailureAbandoned:
			abandoned++
			s.escalate(ctx, "revenue_failure_abandoned", "Payout abandoned",
				fmt.Sprintf("failure %s exhausted its retry budget: %s", r.FailureID, r.Err))
		}
	}

	outcome := SweepProgressed
	if abandoned > 0 {
		outcome = SweepNeedsAttention
	}
	s.logger.Info("scheduler: retry sweep complete",
		slog.Int("attempted", len(results)),
		slog.Int("resolved", resolved),
		slog.Int("abandoned", abandoned),
		slog.String("outcome", string(outcome)),
	)
	return outcome
}

// recordChainHead stores the latest confirmed block so restarts and external
// indexers know how far settlement observations have progressed.
func (s *Scheduler) recordChainHead(ctx context.Context) {
	if s.chain == nil || s.offsets == nil {
		return
	}
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		s.logger.Warn("scheduler: chain head unavailable",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.offsets.Set(ctx, s.cfg.ContractAddress, "head", head); err != nil {
		s.logger.Warn("scheduler: record chain head",
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) escalate(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("scheduler: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
