package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

type batchKey struct {
	agentID string
	index   int
}

// GraduationStore is an in-memory implementation of domain.GraduationStore.
type GraduationStore struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.Snapshot
	entries   map[string][]domain.SnapshotEntry
	batches   map[batchKey]*domain.Batch
}

// NewGraduationStore creates a new in-memory graduation store.
func NewGraduationStore() *GraduationStore {
	return &GraduationStore{
		snapshots: make(map[string]*domain.Snapshot),
		entries:   make(map[string][]domain.SnapshotEntry),
		batches:   make(map[batchKey]*domain.Batch),
	}
}

// CreateSnapshot stores a snapshot and its ordered entries.
func (s *GraduationStore) CreateSnapshot(_ context.Context, snap domain.Snapshot, entries []domain.SnapshotEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[snap.ID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := snap
	s.snapshots[snap.ID] = &cp
	s.entries[snap.ID] = append([]domain.SnapshotEntry(nil), entries...)
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (s *GraduationStore) GetSnapshot(_ context.Context, id string) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.snapshots[id]
	if !exists {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *snap, nil
}

// ListEntries returns a window of entries ordered by position.
func (s *GraduationStore) ListEntries(_ context.Context, snapshotID string, from, limit int) ([]domain.SnapshotEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[snapshotID]
	var result []domain.SnapshotEntry
	for _, e := range all {
		if e.Position >= from {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Position < result[j].Position
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// UpdateSnapshotSubmit records the snapshot's chain submission outcome.
func (s *GraduationStore) UpdateSnapshotSubmit(_ context.Context, id string, status domain.SubmitStatus, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, exists := s.snapshots[id]
	if !exists {
		return domain.ErrNotFound
	}
	snap.SubmitStatus = status
	snap.TxRef = txRef
	return nil
}

// CreateBatch records a batch intent; existing (agent, index) pairs are kept.
func (s *GraduationStore) CreateBatch(_ context.Context, b domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey{b.AgentID, b.Index}
	if _, exists := s.batches[key]; exists {
		return nil
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	cp := b
	s.batches[key] = &cp
	return nil
}

// UpdateBatchStatus reconciles one batch's submission outcome.
func (s *GraduationStore) UpdateBatchStatus(_ context.Context, agentID string, index int, status domain.SubmitStatus, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.batches[batchKey{agentID, index}]
	if !exists {
		return domain.ErrNotFound
	}
	b.Status = status
	b.TxRef = txRef
	if status == domain.SubmitConfirmed {
		now := time.Now().UTC()
		b.ConfirmedAt = &now
	}
	return nil
}

// GetBatch retrieves one batch by agent and index.
func (s *GraduationStore) GetBatch(_ context.Context, agentID string, index int) (domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.batches[batchKey{agentID, index}]
	if !exists {
		return domain.Batch{}, domain.ErrNotFound
	}
	return *b, nil
}

// ListBatches returns all batches for the agent ordered by index.
func (s *GraduationStore) ListBatches(_ context.Context, agentID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Batch
	for key, b := range s.batches {
		if key.agentID == agentID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}
