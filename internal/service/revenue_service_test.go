package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/domain"
)

func recordFeeSplit(t *testing.T, env *testEnv, agent domain.Agent) domain.Distribution {
	t.Helper()
	ctx := context.Background()

	trade := domain.Trade{
		ID:      "trade-1",
		AgentID: agent.ID,
		Trader:  trader,
		Side:    domain.TradeBuy,
		Fee:     whole(1),
	}
	creator := new(big.Int).Quo(whole(7), big.NewInt(10))
	platform := new(big.Int).Sub(trade.Fee, creator)
	require.NoError(t, env.revenue.Record(ctx, agent, trade, creator, platform))

	dists := env.revStore.Distributions()
	require.Len(t, dists, 1)
	return dists[0]
}

func TestRecordPaysBothShares(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)

	dist := recordFeeSplit(t, env, agent)
	assert.Equal(t, domain.DistributionCompleted, dist.Status)

	payouts := 0
	for _, c := range env.chain.Calls() {
		if c.Method == "Payout" {
			payouts++
		}
	}
	assert.Equal(t, 2, payouts)
	assert.Equal(t, 1, env.bus.count("revenue"))
}

func TestRecordQueuesFailedPayout(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	// First payout (creator) fails; platform still gets paid.
	env.chain.FailNext["Payout"] = 1
	dist := recordFeeSplit(t, env, agent)
	assert.Equal(t, domain.DistributionPartial, dist.Status)

	failures, err := env.revenue.ListFailures(ctx,
		[]domain.FailureStatus{domain.FailurePending}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, domain.RecipientCreator, failures[0].Recipient)
	assert.Equal(t, agent.Creator, failures[0].Address)
	assert.Equal(t, 0, failures[0].RetryCount)
	assert.NotEmpty(t, failures[0].Reason)
}

func TestRetryOneResolvesAndCompletesDistribution(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	env.chain.FailNext["Payout"] = 1
	dist := recordFeeSplit(t, env, agent)

	failures, err := env.revenue.ListFailures(ctx,
		[]domain.FailureStatus{domain.FailurePending}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, failures, 1)

	resolved, err := env.revenue.RetryOne(ctx, failures[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureResolved, resolved.Status)
	assert.Equal(t, 1, resolved.RetryCount)

	updated, rows, err := env.revenue.GetDistribution(ctx, dist.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionCompleted, updated.Status)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.FailureResolved, rows[0].Status)

	// Retrying a resolved failure is a no-op.
	again, err := env.revenue.RetryOne(ctx, failures[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FailureResolved, again.Status)
	assert.Equal(t, 1, again.RetryCount)
}

func TestRetryBudgetExhausts(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	env.chain.FailNext["Payout"] = 1
	recordFeeSplit(t, env, agent)

	failures, err := env.revenue.ListFailures(ctx,
		[]domain.FailureStatus{domain.FailurePending}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	id := failures[0].ID

	// MaxRetries is 3 in the test config; burn the whole budget.
	for i := 1; i <= 3; i++ {
		env.chain.FailNext["Payout"] = 1
		f, err := env.revenue.RetryOne(ctx, id)
		require.Error(t, err)
		assert.Equal(t, i, f.RetryCount)
		if i < 3 {
			assert.Equal(t, domain.FailureRetrying, f.Status)
		} else {
			assert.Equal(t, domain.FailureAbandoned, f.Status)
			assert.ErrorIs(t, err, domain.ErrRetryExhausted)
		}
	}

	// Abandoned failures stay abandoned even when the chain recovers.
	f, err := env.revenue.RetryOne(ctx, id)
	assert.ErrorIs(t, err, domain.ErrRetryExhausted)
	assert.Equal(t, domain.FailureAbandoned, f.Status)
	assert.Equal(t, 3, f.RetryCount)
}

func TestRetryAllPendingReportsPerItem(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	// Both payouts fail: creator and platform each land in the queue.
	env.chain.FailNext["Payout"] = 2
	recordFeeSplit(t, env, agent)

	failures, err := env.revenue.ListFailures(ctx,
		[]domain.FailureStatus{domain.FailurePending}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, failures, 2)

	// One retry succeeds, the other fails again.
	env.chain.FailNext["Payout"] = 1
	results, err := env.revenue.RetryAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	resolved, open := 0, 0
	for _, r := range results {
		switch r.Status {
		case domain.FailureResolved:
			assert.Empty(t, r.Err)
			resolved++
		case domain.FailureRetrying:
			assert.NotEmpty(t, r.Err)
			open++
		default:
			t.Fatalf("unexpected status %q", r.Status)
		}
	}
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, open)

	// A clean sweep drains the queue.
	results, err = env.revenue.RetryAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.FailureResolved, results[0].Status)

	results, err = env.revenue.RetryAllPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}
