package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotHashIsContentAddressed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createAgent(t)
	b := env.createAgent(t)
	c := env.createAgent(t)

	for i := 0; i < 5; i++ {
		balance := whole(int64(100 * (i + 1)))
		env.holdings.Seed(a.ID, testAddr(i), balance)
		env.holdings.Seed(b.ID, testAddr(i), balance)
		env.holdings.Seed(c.ID, testAddr(i), balance)
	}
	// One wei of difference on one holder.
	env.holdings.Seed(c.ID, testAddr(2), new(big.Int).Add(whole(300), big.NewInt(1)))

	snapA, entriesA, err := buildSnapshot(ctx, env.holdings, a, 100, 500)
	require.NoError(t, err)
	snapB, entriesB, err := buildSnapshot(ctx, env.holdings, b, 9999, 500)
	require.NoError(t, err)
	snapC, _, err := buildSnapshot(ctx, env.holdings, c, 100, 500)
	require.NoError(t, err)

	assert.Equal(t, snapA.Hash, snapB.Hash,
		"identical holdings hash identically regardless of agent or sequence")
	assert.NotEqual(t, snapA.Hash, snapC.Hash,
		"a one-unit balance change must change the hash")

	require.Len(t, entriesA, len(entriesB))
	for i := range entriesA {
		assert.Equal(t, entriesA[i].Address, entriesB[i].Address)
		assert.Zero(t, entriesA[i].Balance.Cmp(entriesB[i].Balance))
	}
}
