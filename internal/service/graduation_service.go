package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/curvelabs/launchpad/internal/curve"
	"github.com/curvelabs/launchpad/internal/domain"
)

// GraduationConfig carries the orchestrator's batching and locking policy.
type GraduationConfig struct {
	// BatchSize caps recipients per airdrop transaction.
	BatchSize int
	// RewardBps is the holder bonus minted on top of snapshot balances.
	RewardBps int
	LockTTL   time.Duration
	// CallTimeout bounds each external ledger call. A timeout is an unknown
	// outcome, not a failure; the next pass reconciles it.
	CallTimeout time.Duration
}

// GraduationService drives agents through the graduation state machine:
// snapshot, contract initialization, then strictly ordered airdrop batches.
// Every step persists its progress before and after touching the external
// ledger, so a crashed or restarted process resumes exactly where it stopped
// and never double-submits a confirmed step.
type GraduationService struct {
	agents   domain.AgentStore
	grads    domain.GraduationStore
	holdings domain.HoldingStore
	chain    domain.ChainClient
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
	cfg      GraduationConfig
}

// NewGraduationService creates a GraduationService with all required dependencies.
func NewGraduationService(
	agents domain.AgentStore,
	grads domain.GraduationStore,
	holdings domain.HoldingStore,
	chain domain.ChainClient,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	cfg GraduationConfig,
) *GraduationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 90 * time.Second
	}
	return &GraduationService{
		agents:   agents,
		grads:    grads,
		holdings: holdings,
		chain:    chain,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// isUnknownOutcome reports whether a ledger call ended without a definitive
// result. Such calls must be reconciled against chain state, never retried
// blindly.
func isUnknownOutcome(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Initialize moves an eligible agent into the graduation pipeline: captures
// the holder snapshot, persists it, and registers the distribution with the
// settlement contract. The call is idempotent; re-invoking it on an agent
// that already initialized resumes or no-ops as appropriate.
func (s *GraduationService) Initialize(ctx context.Context, agentID string) error {
	unlock, err := s.locks.Acquire(ctx, "agent:"+agentID, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("graduation: initialize %s: %w", agentID, err)
	}
	defer unlock()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("graduation: initialize %s: %w", agentID, err)
	}

	switch agent.GradPhase {
	case domain.GradCompleted, domain.GradAirdropping:
		return nil
	case domain.GradFailed:
		return fmt.Errorf("%w: agent %s graduation failed (%s); operator reset required",
			domain.ErrInvalidCurveState, agentID, agent.GradError)
	case domain.GradInitializing:
		return s.submitInit(ctx, agent)
	}

	// GradNone: check eligibility and take the snapshot.
	if agent.Phase == domain.CurveActive {
		if !curve.CanGraduate(agent.Config, agent.Reserve) {
			return fmt.Errorf("%w: reserve %s below threshold %s",
				domain.ErrThresholdNotMet, agent.Reserve, agent.Config.GraduationThreshold)
		}
		agent.Phase = domain.CurveGraduating
	}
	if agent.Phase != domain.CurveGraduating {
		return fmt.Errorf("%w: agent %s is %s", domain.ErrInvalidCurveState, agentID, agent.Phase)
	}

	sequence, err := s.chain.BlockNumber(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "graduation: block number unavailable, snapshot sequence is 0",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		sequence = 0
	}

	snap, entries, err := buildSnapshot(ctx, s.holdings, agent, sequence, s.cfg.RewardBps)
	if err != nil {
		return fmt.Errorf("graduation: initialize %s: %w", agentID, err)
	}
	if err := s.grads.CreateSnapshot(ctx, snap, entries); err != nil {
		return fmt.Errorf("graduation: initialize %s: %w", agentID, err)
	}

	agent.GradPhase = domain.GradInitializing
	agent.SnapshotID = snap.ID
	agent.TotalBatches = (snap.HolderCount + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	agent.ConfirmedBatches = 0
	agent.GradError = ""
	if err := s.agents.UpdateState(ctx, agent); err != nil {
		return fmt.Errorf("graduation: initialize %s: %w", agentID, err)
	}
	agent.Version++

	s.logAudit(ctx, "graduation_snapshot_taken", map[string]any{
		"agent_id":     agentID,
		"snapshot_id":  snap.ID,
		"holder_count": snap.HolderCount,
		"sequence":     sequence,
	})
	return s.submitInit(ctx, agent)
}

// submitInit drives the snapshot's two-phase contract registration. The
// pending intent row exists before the call; afterwards it is reconciled to
// confirmed or failed. On an unknown outcome it stays pending and the
// contract's own state decides on the next pass.
func (s *GraduationService) submitInit(ctx context.Context, agent domain.Agent) error {
	snap, err := s.grads.GetSnapshot(ctx, agent.SnapshotID)
	if err != nil {
		return fmt.Errorf("graduation: submit init %s: %w", agent.ID, err)
	}

	if snap.SubmitStatus == domain.SubmitConfirmed {
		return s.advanceToAirdrop(ctx, agent)
	}

	if snap.SubmitStatus == domain.SubmitPending && snap.TxRef != "" {
		// A previous attempt timed out mid-flight. Ask the contract.
		progress, err := s.chain.GetAirdropProgress(ctx, agent.ID)
		if err != nil {
			return fmt.Errorf("graduation: reconcile init %s: %w", agent.ID, err)
		}
		if progress.ExpectedTotal.Sign() > 0 {
			if err := s.grads.UpdateSnapshotSubmit(ctx, snap.ID, domain.SubmitConfirmed, snap.TxRef); err != nil {
				return fmt.Errorf("graduation: reconcile init %s: %w", agent.ID, err)
			}
			return s.advanceToAirdrop(ctx, agent)
		}
		// Nothing landed; fall through and submit again.
	}

	var hash [32]byte
	copy(hash[:], snap.Hash)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	txRef, err := s.chain.InitializeGraduation(callCtx, agent.ID,
		snap.TotalTokens, snap.TotalReward, snap.Sequence, hash, agent.Name, agent.Symbol)
	if err != nil {
		if isUnknownOutcome(err) {
			// Record the in-flight tx so the next pass reconciles it.
			_ = s.grads.UpdateSnapshotSubmit(ctx, snap.ID, domain.SubmitPending, txRef)
			return fmt.Errorf("graduation: init submission outcome unknown for %s: %w", agent.ID, err)
		}
		s.markFailed(ctx, agent, fmt.Sprintf("initialize: %v", err))
		return fmt.Errorf("graduation: initialize %s: %w", agent.ID, err)
	}

	if err := s.grads.UpdateSnapshotSubmit(ctx, snap.ID, domain.SubmitConfirmed, txRef); err != nil {
		return fmt.Errorf("graduation: record init %s: %w", agent.ID, err)
	}
	return s.advanceToAirdrop(ctx, agent)
}

func (s *GraduationService) advanceToAirdrop(ctx context.Context, agent domain.Agent) error {
	if agent.GradPhase == domain.GradAirdropping {
		return nil
	}
	agent.GradPhase = domain.GradAirdropping
	if err := s.agents.UpdateState(ctx, agent); err != nil {
		return fmt.Errorf("graduation: advance %s: %w", agent.ID, err)
	}
	s.logAudit(ctx, "graduation_initialized", map[string]any{
		"agent_id":      agent.ID,
		"snapshot_id":   agent.SnapshotID,
		"total_batches": agent.TotalBatches,
	})
	s.publishEvent(ctx, agent.ID, "graduation_initialized", nil)
	return nil
}

// SubmitNextBatch submits the next unconfirmed airdrop batch for the agent,
// or finalizes the graduation when every batch is confirmed. It returns true
// once the agent is fully graduated.
func (s *GraduationService) SubmitNextBatch(ctx context.Context, agentID string) (bool, error) {
	unlock, err := s.locks.Acquire(ctx, "agent:"+agentID, s.cfg.LockTTL)
	if err != nil {
		return false, fmt.Errorf("graduation: batch %s: %w", agentID, err)
	}
	defer unlock()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("graduation: batch %s: %w", agentID, err)
	}
	if agent.GradPhase == domain.GradCompleted {
		return true, nil
	}
	if agent.GradPhase != domain.GradAirdropping {
		return false, fmt.Errorf("%w: agent %s is %s, not airdropping",
			domain.ErrInvalidCurveState, agentID, agent.GradPhase)
	}

	if agent.ConfirmedBatches >= agent.TotalBatches {
		return true, s.finalize(ctx, agent)
	}
	return false, s.submitBatch(ctx, agent, agent.ConfirmedBatches)
}

// SubmitBatch submits one specific batch index. Batches confirm strictly in
// order; skipping ahead of the next unconfirmed index is rejected with
// ErrOutOfOrderBatch. Replaying an index the ledger already confirmed is a
// success and submits nothing.
func (s *GraduationService) SubmitBatch(ctx context.Context, agentID string, index int) error {
	unlock, err := s.locks.Acquire(ctx, "agent:"+agentID, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("graduation: batch %s/%d: %w", agentID, index, err)
	}
	defer unlock()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("graduation: batch %s/%d: %w", agentID, index, err)
	}
	if index >= 0 && index < agent.ConfirmedBatches {
		b, err := s.grads.GetBatch(ctx, agentID, index)
		if err != nil {
			return fmt.Errorf("graduation: batch %s/%d: %w", agentID, index, err)
		}
		if b.Status == domain.SubmitConfirmed {
			return nil
		}
	}
	if agent.GradPhase != domain.GradAirdropping {
		return fmt.Errorf("%w: agent %s is %s, not airdropping",
			domain.ErrInvalidCurveState, agentID, agent.GradPhase)
	}
	if index != agent.ConfirmedBatches {
		return fmt.Errorf("%w: batch %d submitted while next expected is %d",
			domain.ErrOutOfOrderBatch, index, agent.ConfirmedBatches)
	}
	return s.submitBatch(ctx, agent, index)
}

func (s *GraduationService) submitBatch(ctx context.Context, agent domain.Agent, index int) error {
	entries, err := s.grads.ListEntries(ctx, agent.SnapshotID, index*s.cfg.BatchSize, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("graduation: batch %s/%d entries: %w", agent.ID, index, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("graduation: batch %s/%d has no entries", agent.ID, index)
	}

	recipients := make([]string, len(entries))
	amounts := make([]*big.Int, len(entries))
	batchTokens := new(big.Int)
	for i, e := range entries {
		recipients[i] = e.Address
		amounts[i] = new(big.Int).Add(e.Balance, e.Reward)
		batchTokens.Add(batchTokens, amounts[i])
	}

	// Idempotent resume: a batch the chain already confirmed is only counted,
	// never resubmitted.
	existing, err := s.grads.GetBatch(ctx, agent.ID, index)
	switch {
	case err == nil && existing.Status == domain.SubmitConfirmed:
		return s.countConfirmed(ctx, agent, index)
	case err == nil && existing.Status == domain.SubmitPending && existing.TxRef != "":
		landed, err := s.batchLanded(ctx, agent, index, batchTokens)
		if err != nil {
			return err
		}
		if landed {
			if err := s.grads.UpdateBatchStatus(ctx, agent.ID, index, domain.SubmitConfirmed, existing.TxRef); err != nil {
				return fmt.Errorf("graduation: reconcile batch %s/%d: %w", agent.ID, index, err)
			}
			return s.countConfirmed(ctx, agent, index)
		}
		// Not minted; the intent is stale and the batch is submitted again.
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("graduation: batch %s/%d lookup: %w", agent.ID, index, err)
	}

	if err := s.grads.CreateBatch(ctx, domain.Batch{
		AgentID:    agent.ID,
		SnapshotID: agent.SnapshotID,
		Index:      index,
		Recipients: len(entries),
		Tokens:     batchTokens,
		Status:     domain.SubmitPending,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("graduation: batch %s/%d intent: %w", agent.ID, index, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	txRef, err := s.chain.AirdropBatch(callCtx, agent.ID, recipients, amounts)
	if err != nil {
		if isUnknownOutcome(err) {
			_ = s.grads.UpdateBatchStatus(ctx, agent.ID, index, domain.SubmitPending, txRef)
			return fmt.Errorf("graduation: batch %s/%d outcome unknown: %w", agent.ID, index, err)
		}
		_ = s.grads.UpdateBatchStatus(ctx, agent.ID, index, domain.SubmitFailed, txRef)
		s.markFailed(ctx, agent, fmt.Sprintf("batch %d: %v", index, err))
		return fmt.Errorf("graduation: batch %s/%d: %w", agent.ID, index, err)
	}

	if err := s.grads.UpdateBatchStatus(ctx, agent.ID, index, domain.SubmitConfirmed, txRef); err != nil {
		return fmt.Errorf("graduation: record batch %s/%d: %w", agent.ID, index, err)
	}
	return s.countConfirmed(ctx, agent, index)
}

// batchLanded asks the contract whether the minted total covers everything
// through the given batch.
func (s *GraduationService) batchLanded(ctx context.Context, agent domain.Agent, index int, batchTokens *big.Int) (bool, error) {
	progress, err := s.chain.GetAirdropProgress(ctx, agent.ID)
	if err != nil {
		return false, fmt.Errorf("graduation: reconcile batch %s/%d: %w", agent.ID, index, err)
	}

	through := new(big.Int).Set(batchTokens)
	batches, err := s.grads.ListBatches(ctx, agent.ID)
	if err != nil {
		return false, fmt.Errorf("graduation: reconcile batch %s/%d: %w", agent.ID, index, err)
	}
	for _, b := range batches {
		if b.Index < index && b.Status == domain.SubmitConfirmed {
			through.Add(through, b.Tokens)
		}
	}
	return progress.MintedTotal.Cmp(through) >= 0, nil
}

func (s *GraduationService) countConfirmed(ctx context.Context, agent domain.Agent, index int) error {
	if index != agent.ConfirmedBatches {
		return nil
	}
	agent.ConfirmedBatches++
	if err := s.agents.UpdateState(ctx, agent); err != nil {
		return fmt.Errorf("graduation: count batch %s/%d: %w", agent.ID, index, err)
	}
	s.logger.InfoContext(ctx, "graduation: batch confirmed",
		slog.String("agent_id", agent.ID),
		slog.Int("index", index),
		slog.Int("total", agent.TotalBatches),
	)
	return nil
}

// finalize completes the graduation after the last batch confirms, verifying
// the contract's view agrees before flipping the terminal phase.
func (s *GraduationService) finalize(ctx context.Context, agent domain.Agent) error {
	progress, err := s.chain.GetAirdropProgress(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("graduation: finalize %s: %w", agent.ID, err)
	}
	if !progress.Complete {
		return fmt.Errorf("%w: all batches confirmed but contract reports %s of %s minted",
			domain.ErrExternalLedger, progress.MintedTotal, progress.ExpectedTotal)
	}

	agent.Phase = domain.CurveGraduated
	agent.GradPhase = domain.GradCompleted
	agent.GradError = ""
	if err := s.agents.UpdateState(ctx, agent); err != nil {
		return fmt.Errorf("graduation: finalize %s: %w", agent.ID, err)
	}

	s.logAudit(ctx, "graduation_completed", map[string]any{
		"agent_id":    agent.ID,
		"snapshot_id": agent.SnapshotID,
		"batches":     agent.TotalBatches,
	})
	s.publishEvent(ctx, agent.ID, "graduation_completed", nil)
	s.logger.InfoContext(ctx, "graduation: completed",
		slog.String("agent_id", agent.ID),
		slog.Int("batches", agent.TotalBatches),
	)
	return nil
}

// Run drives one agent's graduation to completion: initialization, then
// batches until done. It stops at the first unresolved error so the caller's
// next sweep can resume.
func (s *GraduationService) Run(ctx context.Context, agentID string) error {
	if err := s.Initialize(ctx, agentID); err != nil {
		return err
	}
	for {
		done, err := s.SubmitNextBatch(ctx, agentID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// GetStatus returns the pull-based graduation status for an agent.
func (s *GraduationService) GetStatus(ctx context.Context, agentID string) (domain.GraduationStatus, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return domain.GraduationStatus{}, fmt.Errorf("graduation: status %s: %w", agentID, err)
	}

	status := domain.GraduationStatus{
		AgentID:          agent.ID,
		CurvePhase:       agent.Phase,
		GradPhase:        agent.GradPhase,
		SnapshotID:       agent.SnapshotID,
		TotalBatches:     agent.TotalBatches,
		ConfirmedBatches: agent.ConfirmedBatches,
		LastError:        agent.GradError,
	}
	if agent.SnapshotID != "" {
		if snap, err := s.grads.GetSnapshot(ctx, agent.SnapshotID); err == nil {
			status.HolderCount = snap.HolderCount
		}
	}
	return status, nil
}

// Reset returns a failed graduation to the active phase. Operator action
// only; the next graduation attempt takes a fresh snapshot.
func (s *GraduationService) Reset(ctx context.Context, agentID string) error {
	unlock, err := s.locks.Acquire(ctx, "agent:"+agentID, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("graduation: reset %s: %w", agentID, err)
	}
	defer unlock()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("graduation: reset %s: %w", agentID, err)
	}
	if agent.GradPhase != domain.GradFailed && agent.Phase != domain.CurveGraduationFailed {
		return fmt.Errorf("%w: agent %s is %s/%s, only failed graduations reset",
			domain.ErrInvalidCurveState, agentID, agent.Phase, agent.GradPhase)
	}

	agent.Phase = domain.CurveActive
	agent.GradPhase = domain.GradNone
	agent.SnapshotID = ""
	agent.TotalBatches = 0
	agent.ConfirmedBatches = 0
	agent.GradError = ""
	if err := s.agents.UpdateState(ctx, agent); err != nil {
		return fmt.Errorf("graduation: reset %s: %w", agentID, err)
	}

	s.logAudit(ctx, "graduation_reset", map[string]any{"agent_id": agentID})
	s.logger.InfoContext(ctx, "graduation: reset to active", slog.String("agent_id", agentID))
	return nil
}

// markFailed records a definitive graduation failure. The curve stays frozen
// until an operator resets it.
func (s *GraduationService) markFailed(ctx context.Context, agent domain.Agent, reason string) {
	agent.Phase = domain.CurveGraduationFailed
	agent.GradPhase = domain.GradFailed
	agent.GradError = reason
	if err := s.agents.UpdateState(ctx, agent); err != nil {
		s.logger.ErrorContext(ctx, "graduation: failed to record failure",
			slog.String("agent_id", agent.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logAudit(ctx, "graduation_failed", map[string]any{
		"agent_id": agent.ID,
		"reason":   reason,
	})
	s.publishEvent(ctx, agent.ID, "graduation_failed", map[string]any{"reason": reason})
}

func (s *GraduationService) publishEvent(ctx context.Context, agentID, event string, extra map[string]any) {
	payload := map[string]any{
		"event":     event,
		"agent_id":  agentID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "graduations", evt); err != nil {
		s.logger.WarnContext(ctx, "graduation: publish event failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "stream:graduations", evt); err != nil {
		s.logger.WarnContext(ctx, "graduation: stream event failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GraduationService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "graduation: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
