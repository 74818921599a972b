// Package memory provides in-memory store implementations used by tests and
// paper mode. Semantics mirror the postgres package, including version-guarded
// agent updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// AgentStore is an in-memory implementation of domain.AgentStore.
type AgentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Agent
}

// NewAgentStore creates a new in-memory agent store.
func NewAgentStore() *AgentStore {
	return &AgentStore{data: make(map[string]*domain.Agent)}
}

// Create adds a new agent. Returns ErrAlreadyExists on duplicate IDs.
func (s *AgentStore) Create(_ context.Context, a domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	cp := a
	s.data[a.ID] = &cp
	return nil
}

// GetByID retrieves an agent by ID.
func (s *AgentStore) GetByID(_ context.Context, id string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[id]
	if !exists {
		return domain.Agent{}, domain.ErrNotFound
	}
	return *a, nil
}

// ListByPhase returns agents in the given curve phase, newest first.
func (s *AgentStore) ListByPhase(_ context.Context, phase domain.CurvePhase, opts domain.ListOpts) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Agent
	for _, a := range s.data {
		if a.Phase == phase {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, opts), nil
}

// ListPendingGraduation returns agents with unfinished orchestrator work.
func (s *AgentStore) ListPendingGraduation(_ context.Context) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Agent
	for _, a := range s.data {
		if a.GradPhase == domain.GradInitializing || a.GradPhase == domain.GradAirdropping {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// UpdateState writes the agent's mutable state guarded by the caller's version.
func (s *AgentStore) UpdateState(_ context.Context, a domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(a)
}

func (s *AgentStore) updateLocked(a domain.Agent) error {
	cur, exists := s.data[a.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if cur.Version != a.Version {
		return domain.ErrConflict
	}
	a.Version++
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	cp := a
	s.data[a.ID] = &cp
	return nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
