// Package pending caches the deferred deposit leg of two-phase cross-chain deposits.
package pending

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
)

// ErrNotFound is returned when no intent is cached for a transaction id
var ErrNotFound = errors.New("pending intent not found")

// Store is the PendingIntentStore. Entries must survive process restarts in production backends.
type Store interface {
	Put(ctx context.Context, intent *models.PendingLocalIntent) error
	Get(ctx context.Context, txID string) (*models.PendingLocalIntent, error)
	Delete(ctx context.Context, txID string) error
	ListByOwner(ctx context.Context, owner common.Address) ([]*models.PendingLocalIntent, error)
}

func ownerKey(owner common.Address) string {
	return strings.ToLower(owner.Hex())
}

func sortOldestFirst(intents []*models.PendingLocalIntent) {
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].CreatedAt.Before(intents[j].CreatedAt)
	})
}

// MemoryStore keeps intents in process memory. It does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]models.PendingLocalIntent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]models.PendingLocalIntent)}
}

func (s *MemoryStore) Put(_ context.Context, intent *models.PendingLocalIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.TransactionID] = *intent
	return nil
}

func (s *MemoryStore) Get(_ context.Context, txID string) (*models.PendingLocalIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[txID]
	if !ok {
		return nil, ErrNotFound
	}
	return &intent, nil
}

func (s *MemoryStore) Delete(_ context.Context, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, txID)
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner common.Address) ([]*models.PendingLocalIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PendingLocalIntent, 0)
	for _, intent := range s.intents {
		if ownerKey(intent.Owner) == ownerKey(owner) {
			intent := intent
			out = append(out, &intent)
		}
	}
	sortOldestFirst(out)
	return out, nil
}
