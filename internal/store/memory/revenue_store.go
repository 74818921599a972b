package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// RevenueStore is an in-memory implementation of domain.RevenueStore.
type RevenueStore struct {
	mu            sync.RWMutex
	distributions map[string]*domain.Distribution
	failures      map[string]*domain.Failure
}

// NewRevenueStore creates a new in-memory revenue store.
func NewRevenueStore() *RevenueStore {
	return &RevenueStore{
		distributions: make(map[string]*domain.Distribution),
		failures:      make(map[string]*domain.Failure),
	}
}

// CreateDistribution records one fee split.
func (s *RevenueStore) CreateDistribution(_ context.Context, d domain.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.distributions[d.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	cp := d
	s.distributions[d.ID] = &cp
	return nil
}

// GetDistribution retrieves a distribution by ID.
func (s *RevenueStore) GetDistribution(_ context.Context, id string) (domain.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.distributions[id]
	if !exists {
		return domain.Distribution{}, domain.ErrNotFound
	}
	return *d, nil
}

// UpdateDistributionStatus changes a distribution's settlement status.
func (s *RevenueStore) UpdateDistributionStatus(_ context.Context, id string, status domain.DistributionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.distributions[id]
	if !exists {
		return domain.ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateFailure queues one failed payout.
func (s *RevenueStore) CreateFailure(_ context.Context, f domain.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.failures[f.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.UpdatedAt = f.CreatedAt
	cp := f
	s.failures[f.ID] = &cp
	return nil
}

// GetFailure retrieves a failure by ID.
func (s *RevenueStore) GetFailure(_ context.Context, id string) (domain.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, exists := s.failures[id]
	if !exists {
		return domain.Failure{}, domain.ErrNotFound
	}
	return *f, nil
}

// UpdateFailure writes the failure's mutable retry state.
func (s *RevenueStore) UpdateFailure(_ context.Context, f domain.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.failures[f.ID]
	if !exists {
		return domain.ErrNotFound
	}
	cur.Reason = f.Reason
	cur.RetryCount = f.RetryCount
	cur.Status = f.Status
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// ListFailures returns failures in any of the given statuses, oldest first.
func (s *RevenueStore) ListFailures(_ context.Context, statuses []domain.FailureStatus, opts domain.ListOpts) ([]domain.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := func(st domain.FailureStatus) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, want := range statuses {
			if st == want {
				return true
			}
		}
		return false
	}

	var result []domain.Failure
	for _, f := range s.failures {
		if match(f.Status) {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, opts), nil
}

// Distributions returns every recorded distribution, oldest first.
func (s *RevenueStore) Distributions() []domain.Distribution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Distribution, 0, len(s.distributions))
	for _, d := range s.distributions {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ListByDistribution returns all failures attached to one distribution.
func (s *RevenueStore) ListByDistribution(_ context.Context, distributionID string) ([]domain.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Failure
	for _, f := range s.failures {
		if f.DistributionID == distributionID {
			result = append(result, *f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
