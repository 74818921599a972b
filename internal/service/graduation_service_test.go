package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/domain"
)

func airdropCalls(env *testEnv) int {
	n := 0
	for _, c := range env.chain.Calls() {
		if c.Method == "AirdropBatch" {
			n++
		}
	}
	return n
}

func initCalls(env *testEnv) int {
	n := 0
	for _, c := range env.chain.Calls() {
		if c.Method == "InitializeGraduation" {
			n++
		}
	}
	return n
}

func TestGraduationHappyPath(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 10)
	ctx := context.Background()

	require.NoError(t, env.grad.Run(ctx, agent.ID))

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CurveGraduated, reloaded.Phase)
	assert.Equal(t, domain.GradCompleted, reloaded.GradPhase)
	assert.Equal(t, 3, reloaded.TotalBatches, "10 holders at batch size 4")
	assert.Equal(t, 3, reloaded.ConfirmedBatches)

	snap, err := env.grads.GetSnapshot(ctx, reloaded.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.HolderCount)
	assert.Equal(t, domain.SubmitConfirmed, snap.SubmitStatus)
	assert.Len(t, snap.Hash, 32)

	// The chain minted exactly the snapshot total plus rewards.
	expected := new(big.Int).Add(snap.TotalTokens, snap.TotalReward)
	assert.Zero(t, env.chain.Minted(agent.ID).Cmp(expected))
	assert.Equal(t, 3, airdropCalls(env))

	// Re-running a completed graduation is a no-op.
	require.NoError(t, env.grad.Run(ctx, agent.ID))
	assert.Equal(t, 3, airdropCalls(env))
	assert.Equal(t, 1, initCalls(env))
}

func TestGraduationSnapshotIsOrderedAndRewarded(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 6)
	ctx := context.Background()

	require.NoError(t, env.grad.Initialize(ctx, agent.ID))

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	entries, err := env.grads.ListEntries(ctx, reloaded.SnapshotID, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	for i, e := range entries {
		assert.Equal(t, i, e.Position)
		if i > 0 {
			assert.True(t, entries[i-1].Address < e.Address, "entries must be address-ordered")
		}
		// reward_bps = 500: reward is 5% of the balance.
		want := new(big.Int).Quo(e.Balance, big.NewInt(20))
		assert.Zero(t, e.Reward.Cmp(want))
	}
}

func TestGraduationBatchTimeoutReconciles(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 10)
	ctx := context.Background()

	// First batch submission times out after the chain applied it.
	env.chain.TimeoutNext["AirdropBatch"] = 1
	err := env.grad.Run(ctx, agent.ID)
	require.Error(t, err)

	mid, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GradAirdropping, mid.GradPhase)
	assert.Equal(t, 0, mid.ConfirmedBatches, "unknown outcome must not count as confirmed")

	// The next sweep reconciles against chain state instead of resubmitting
	// the first batch, then finishes the rest.
	require.NoError(t, env.grad.Run(ctx, agent.ID))

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GradCompleted, reloaded.GradPhase)
	assert.Equal(t, 3, airdropCalls(env), "batch 0 submitted once, never doubled")

	snap, err := env.grads.GetSnapshot(ctx, reloaded.SnapshotID)
	require.NoError(t, err)
	expected := new(big.Int).Add(snap.TotalTokens, snap.TotalReward)
	assert.Zero(t, env.chain.Minted(agent.ID).Cmp(expected), "no double mint")
}

func TestGraduationInitTimeoutReconciles(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 5)
	ctx := context.Background()

	env.chain.TimeoutNext["InitializeGraduation"] = 1
	require.Error(t, env.grad.Run(ctx, agent.ID))

	mid, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GradInitializing, mid.GradPhase)

	require.NoError(t, env.grad.Run(ctx, agent.ID))
	assert.Equal(t, 1, initCalls(env), "initialization reconciled, not resubmitted")

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GradCompleted, reloaded.GradPhase)
}

func TestGraduationHardFailureFreezesUntilReset(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 10)
	ctx := context.Background()

	env.chain.FailNext["AirdropBatch"] = 1
	require.Error(t, env.grad.Run(ctx, agent.ID))

	failed, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CurveGraduationFailed, failed.Phase)
	assert.Equal(t, domain.GradFailed, failed.GradPhase)
	assert.NotEmpty(t, failed.GradError)

	// Failed graduations need an operator reset before anything else runs.
	err = env.grad.Initialize(ctx, agent.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)

	require.NoError(t, env.grad.Reset(ctx, agent.ID))
	reset, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CurveActive, reset.Phase)
	assert.Equal(t, domain.GradNone, reset.GradPhase)
	assert.Empty(t, reset.SnapshotID)

	// A fresh attempt takes a new snapshot and completes.
	require.NoError(t, env.grad.Run(ctx, agent.ID))
	done, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GradCompleted, done.GradPhase)
}

func TestResetRejectsHealthyAgent(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)

	err := env.grad.Reset(context.Background(), agent.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)
}

func TestSubmitBatchOutOfOrder(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 10)
	ctx := context.Background()

	require.NoError(t, env.grad.Initialize(ctx, agent.ID))

	err := env.grad.SubmitBatch(ctx, agent.ID, 2)
	assert.ErrorIs(t, err, domain.ErrOutOfOrderBatch)

	require.NoError(t, env.grad.SubmitBatch(ctx, agent.ID, 0))
	assert.ErrorIs(t, env.grad.SubmitBatch(ctx, agent.ID, 3), domain.ErrOutOfOrderBatch)
}

func TestSubmitBatchReplayOfConfirmedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 10)
	ctx := context.Background()

	require.NoError(t, env.grad.Initialize(ctx, agent.ID))
	require.NoError(t, env.grad.SubmitBatch(ctx, agent.ID, 0))
	submitted := airdropCalls(env)

	// Replaying a confirmed index succeeds without touching the ledger.
	require.NoError(t, env.grad.SubmitBatch(ctx, agent.ID, 0))
	assert.Equal(t, submitted, airdropCalls(env))

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ConfirmedBatches, "replay confirms nothing twice")

	// Still idempotent after the whole distribution lands.
	require.NoError(t, env.grad.Run(ctx, agent.ID))
	done := airdropCalls(env)
	require.NoError(t, env.grad.SubmitBatch(ctx, agent.ID, 0))
	assert.Equal(t, done, airdropCalls(env))
}

func TestInitializeBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)

	err := env.grad.Initialize(context.Background(), agent.ID)
	assert.ErrorIs(t, err, domain.ErrThresholdNotMet)
}

func TestInitializeWithNoHolders(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	agent.Phase = domain.CurveGraduating
	agent.Reserve = whole(60)
	require.NoError(t, env.agents.UpdateState(ctx, agent))

	err := env.grad.Initialize(ctx, agent.ID)
	assert.ErrorIs(t, err, domain.ErrNoHolders)
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedGraduatingAgent(t, 10)
	ctx := context.Background()

	require.NoError(t, env.grad.Initialize(ctx, agent.ID))

	status, err := env.grad.GetStatus(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GradAirdropping, status.GradPhase)
	assert.Equal(t, 10, status.HolderCount)
	assert.Equal(t, 3, status.TotalBatches)
	assert.Equal(t, 0, status.ConfirmedBatches)
}
