package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AgentStore persists agents (curve config plus state projection).
//
// UpdateState performs an optimistic-concurrency write: it matches the
// Version the caller read, bumps it by one, and returns ErrConflict when
// another writer got there first.
type AgentStore interface {
	Create(ctx context.Context, agent Agent) error
	GetByID(ctx context.Context, id string) (Agent, error)
	ListByPhase(ctx context.Context, phase CurvePhase, opts ListOpts) ([]Agent, error)
	// ListPendingGraduation returns agents whose graduation phase indicates
	// unfinished orchestrator work (initializing or airdropping).
	ListPendingGraduation(ctx context.Context) ([]Agent, error)
	UpdateState(ctx context.Context, agent Agent) error
}

// TradeStore persists the append-only trade log.
//
// Commit applies one executed trade as a single atomic unit: the agent's new
// curve state (version-guarded), the trade row, and the trader's holding
// adjustment either all become durable or none do. A trade is never
// considered applied until this returns nil.
type TradeStore interface {
	Commit(ctx context.Context, agent Agent, trade Trade) error
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// HoldingStore reads per-wallet curve token balances.
type HoldingStore interface {
	// ListByAgent returns all strictly positive balances for the agent in
	// ascending address order. The ordering is load-bearing: snapshot hashes
	// are computed over this enumeration.
	ListByAgent(ctx context.Context, agentID string) ([]Holding, error)
	Get(ctx context.Context, agentID, address string) (Holding, error)
}

// GraduationStore persists snapshots, their ordered entries, and airdrop
// batch progress.
type GraduationStore interface {
	CreateSnapshot(ctx context.Context, snap Snapshot, entries []SnapshotEntry) error
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)
	ListEntries(ctx context.Context, snapshotID string, from, limit int) ([]SnapshotEntry, error)
	UpdateSnapshotSubmit(ctx context.Context, id string, status SubmitStatus, txRef string) error

	CreateBatch(ctx context.Context, b Batch) error
	UpdateBatchStatus(ctx context.Context, agentID string, index int, status SubmitStatus, txRef string) error
	GetBatch(ctx context.Context, agentID string, index int) (Batch, error)
	ListBatches(ctx context.Context, agentID string) ([]Batch, error)
}

// RevenueStore persists fee distributions and their payout failures.
type RevenueStore interface {
	CreateDistribution(ctx context.Context, d Distribution) error
	GetDistribution(ctx context.Context, id string) (Distribution, error)
	UpdateDistributionStatus(ctx context.Context, id string, status DistributionStatus) error

	CreateFailure(ctx context.Context, f Failure) error
	GetFailure(ctx context.Context, id string) (Failure, error)
	UpdateFailure(ctx context.Context, f Failure) error
	ListFailures(ctx context.Context, statuses []FailureStatus, opts ListOpts) ([]Failure, error)
	ListByDistribution(ctx context.Context, distributionID string) ([]Failure, error)
}

// IndexerOffsetStore records the last externally-confirmed block per
// contract and event type so re-indexing is resumable and idempotent.
type IndexerOffsetStore interface {
	Get(ctx context.Context, contract, eventType string) (uint64, error)
	Set(ctx context.Context, contract, eventType string, block uint64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
