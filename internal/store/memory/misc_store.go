package memory

import (
	"context"
	"sync"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// IndexerOffsetStore is an in-memory implementation of domain.IndexerOffsetStore.
type IndexerOffsetStore struct {
	mu   sync.RWMutex
	data map[string]uint64
}

// NewIndexerOffsetStore creates a new in-memory indexer offset store.
func NewIndexerOffsetStore() *IndexerOffsetStore {
	return &IndexerOffsetStore{data: make(map[string]uint64)}
}

// Get returns the last recorded block, or 0 when nothing has been recorded.
func (s *IndexerOffsetStore) Get(_ context.Context, contract, eventType string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[contract+"/"+eventType], nil
}

// Set records the last confirmed block; offsets only move forward.
func (s *IndexerOffsetStore) Set(_ context.Context, contract, eventType string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contract + "/" + eventType
	if block > s.data[key] {
		s.data[key] = block
	}
	return nil
}

// AuditStore is an in-memory implementation of domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends a new audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		result = append(result, e)
	}
	return paginate(result, opts), nil
}
