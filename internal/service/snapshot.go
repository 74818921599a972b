package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/curvelabs/launchpad/internal/domain"
)

// buildSnapshot captures a deterministic enumeration of the agent's positive
// holder balances at the given chain sequence. Entries are ordered ascending
// by address; the content hash is keccak256 over the concatenated
// (20-byte address, 32-byte balance) pairs in that order, so two snapshots of
// identical holdings always hash identically.
func buildSnapshot(ctx context.Context, holdings domain.HoldingStore, agent domain.Agent, sequence uint64, rewardBps int) (domain.Snapshot, []domain.SnapshotEntry, error) {
	list, err := holdings.ListByAgent(ctx, agent.ID)
	if err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("snapshot: list holdings %s: %w", agent.ID, err)
	}
	if len(list) == 0 {
		return domain.Snapshot{}, nil, fmt.Errorf("%w: agent %s has no positive balances", domain.ErrNoHolders, agent.ID)
	}

	entries := make([]domain.SnapshotEntry, 0, len(list))
	totalTokens := new(big.Int)
	totalReward := new(big.Int)
	preimage := make([]byte, 0, len(list)*52)

	for i, h := range list {
		reward := new(big.Int).Mul(h.Balance, big.NewInt(int64(rewardBps)))
		reward.Quo(reward, big.NewInt(10_000))

		entries = append(entries, domain.SnapshotEntry{
			Position: i,
			Address:  h.Address,
			Balance:  h.Balance,
			Reward:   reward,
		})
		totalTokens.Add(totalTokens, h.Balance)
		totalReward.Add(totalReward, reward)

		addr := common.HexToAddress(h.Address)
		var balanceWord [32]byte
		h.Balance.FillBytes(balanceWord[:])
		preimage = append(preimage, addr.Bytes()...)
		preimage = append(preimage, balanceWord[:]...)
	}

	snap := domain.Snapshot{
		ID:           uuid.New().String(),
		AgentID:      agent.ID,
		Sequence:     sequence,
		Hash:         ethcrypto.Keccak256(preimage),
		HolderCount:  len(entries),
		TotalTokens:  totalTokens,
		TotalReward:  totalReward,
		RewardBps:    rewardBps,
		SubmitStatus: domain.SubmitPending,
		CreatedAt:    time.Now().UTC(),
	}
	return snap, entries, nil
}
