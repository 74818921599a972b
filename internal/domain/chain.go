package domain

import (
	"context"
	"math/big"
)

// ChainClient is the external ledger (blockchain) surface consumed by the
// settlement core. All amounts are fixed-point integers at 18 decimals.
//
// Calls are blocking and must be invoked with a deadline-carrying context.
// A context timeout does NOT imply the underlying transaction failed — it
// may still confirm later. Callers must treat timeouts as unknown outcomes
// and reconcile against GetAirdropProgress before resubmitting anything.
type ChainClient interface {
	// InitializeGraduation registers the distribution totals and the
	// snapshot's content hash with the launchpad contract. Returns the
	// transaction reference once the chain confirms it.
	InitializeGraduation(ctx context.Context, agentID string, totalHolderTokens, totalRewardTokens *big.Int, snapshotRef uint64, snapshotHash [32]byte, name, symbol string) (string, error)

	// AirdropBatch mints/distributes one batch of recipients. Batches for an
	// agent must be submitted strictly in index order; the contract rejects
	// anything else.
	AirdropBatch(ctx context.Context, agentID string, recipients []string, amounts []*big.Int) (string, error)

	// GetAirdropProgress returns the contract's authoritative distribution
	// state for the agent.
	GetAirdropProgress(ctx context.Context, agentID string) (AirdropProgress, error)

	// Payout transfers reserve currency to a fee beneficiary.
	Payout(ctx context.Context, recipient string, amount *big.Int) (string, error)

	// BlockNumber returns the latest confirmed block, recorded per sweep in
	// the indexer offset table.
	BlockNumber(ctx context.Context) (uint64, error)
}
