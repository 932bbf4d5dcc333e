package customers

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory mapping store for demo/development mode.
type MemoryStore struct {
	byUser map[string]*Mapping
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory mapping store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string]*Mapping),
	}
}

func (m *MemoryStore) Create(ctx context.Context, mapping *Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mapping
	m.byUser[mapping.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetByUserID(ctx context.Context, userID string) (*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mapping, ok := m.byUser[userID]
	if !ok {
		return nil, ErrMappingNotFound
	}
	cp := *mapping
	return &cp, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
