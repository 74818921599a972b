package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// TradeStore is an in-memory implementation of domain.TradeStore. Commit
// spans the agent and holding stores the same way the postgres transaction
// does, so service tests exercise the real coupling.
type TradeStore struct {
	mu       sync.RWMutex
	trades   []domain.Trade
	agents   *AgentStore
	holdings *HoldingStore
}

// NewTradeStore creates a new in-memory trade store bound to the agent and
// holding stores it must keep consistent.
func NewTradeStore(agents *AgentStore, holdings *HoldingStore) *TradeStore {
	return &TradeStore{agents: agents, holdings: holdings}
}

// Commit applies the version-guarded agent update, appends the trade, and
// adjusts the trader's holding as one unit.
func (s *TradeStore) Commit(_ context.Context, agent domain.Agent, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents.mu.Lock()
	err := s.agents.updateLocked(agent)
	s.agents.mu.Unlock()
	if err != nil {
		return err
	}

	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	s.trades = append(s.trades, trade)

	delta := trade.AmountOut
	if trade.Side == domain.TradeSell {
		delta = new(big.Int).Neg(trade.AmountIn)
	}
	s.holdings.adjust(trade.AgentID, trade.Trader, delta)
	return nil
}

// ListByAgent returns trades for an agent, newest first.
func (s *TradeStore) ListByAgent(_ context.Context, agentID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Trade
	for _, t := range s.trades {
		if t.AgentID != agentID {
			continue
		}
		if opts.Since != nil && t.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.CreatedAt.After(*opts.Until) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, opts), nil
}

// ListBefore returns trades created strictly before the given time, oldest first.
func (s *TradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Trade
	for _, t := range s.trades {
		if t.CreatedAt.Before(before) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteBefore removes trades created before the given time.
func (s *TradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []domain.Trade
	var deleted int64
	for _, t := range s.trades {
		if t.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.trades = kept
	return deleted, nil
}
