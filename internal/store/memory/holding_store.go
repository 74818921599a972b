package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// HoldingStore is an in-memory implementation of domain.HoldingStore.
type HoldingStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*domain.Holding // agentID -> address -> holding
}

// NewHoldingStore creates a new in-memory holding store.
func NewHoldingStore() *HoldingStore {
	return &HoldingStore{data: make(map[string]map[string]*domain.Holding)}
}

// ListByAgent returns strictly positive balances in ascending address order.
func (s *HoldingStore) ListByAgent(_ context.Context, agentID string) ([]domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Holding
	for _, h := range s.data[agentID] {
		if h.Balance != nil && h.Balance.Sign() > 0 {
			result = append(result, *h)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})
	return result, nil
}

// Get retrieves one wallet's balance for an agent.
func (s *HoldingStore) Get(_ context.Context, agentID, address string) (domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.data[agentID][address]
	if !exists {
		return domain.Holding{}, domain.ErrNotFound
	}
	return *h, nil
}

// Seed installs a balance directly, bypassing the trade path. Test setup only.
func (s *HoldingStore) Seed(agentID, address string, balance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(agentID, address, new(big.Int).Set(balance), true)
}

func (s *HoldingStore) applyLocked(agentID, address string, delta *big.Int, replace bool) {
	byAgent, ok := s.data[agentID]
	if !ok {
		byAgent = make(map[string]*domain.Holding)
		s.data[agentID] = byAgent
	}
	h, ok := byAgent[address]
	if !ok {
		h = &domain.Holding{AgentID: agentID, Address: address, Balance: new(big.Int)}
		byAgent[address] = h
	}
	if replace {
		h.Balance = new(big.Int).Set(delta)
	} else {
		h.Balance = new(big.Int).Add(h.Balance, delta)
	}
	h.UpdatedAt = time.Now().UTC()
}

func (s *HoldingStore) adjust(agentID, address string, delta *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(agentID, address, delta, false)
}
