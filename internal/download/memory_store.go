package download

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory token store for demo/development mode.
type MemoryStore struct {
	tokens map[string]*Token
	mu     sync.Mutex
	now    func() time.Time // injectable for tests
}

// NewMemoryStore creates a new in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, token string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Redeem(ctx context.Context, token string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if m.now().After(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if t.Redemptions >= t.MaxRedemptions {
		return nil, ErrTokenExhausted
	}
	t.Redemptions++

	cp := *t
	return &cp, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
