package txstate

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*models.TransactionState
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty store. A zero retention uses DefaultPendingRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultPendingRetention
	}
	return &MemoryStore{
		records:   make(map[string]*models.TransactionState),
		retention: retention,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Upsert(_ context.Context, id string, patch models.Patch) (*models.TransactionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, changed, err := merge(s.records[id], id, patch, s.now())
	if err != nil {
		return nil, err
	}
	if changed {
		s.records[id] = rec
	}
	return clone(rec), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.TransactionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.TransactionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]*models.TransactionState, 0)
	for _, rec := range s.records {
		if matches(rec, filter, now, s.retention) {
			out = append(out, clone(rec))
		}
	}
	sortNewestFirst(out)
	return out, nil
}
