package purchase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fiscalfm/commerce/internal/pagination"
)

// MemoryStore is an in-memory purchase store for demo/development mode.
type MemoryStore struct {
	purchases map[string]*Purchase
	bySession map[string]string // session ID -> purchase ID
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory purchase store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases: make(map[string]*Purchase),
		bySession: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.purchases[p.ID] = &cp
	if p.StripeSessionID != "" {
		m.bySession[p.StripeSessionID] = p.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.purchases[id]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	return copyPurchase(p), nil
}

func (m *MemoryStore) GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySession[sessionID]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	return copyPurchase(m.purchases[id]), nil
}

func (m *MemoryStore) GetByPaymentIntent(ctx context.Context, intentID string) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.purchases {
		if p.PaymentIntentID != "" && p.PaymentIntentID == intentID {
			return copyPurchase(p), nil
		}
	}
	return nil, ErrPurchaseNotFound
}

func (m *MemoryStore) Update(ctx context.Context, p *Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.purchases[p.ID]; !ok {
		return ErrPurchaseNotFound
	}
	cp := *p
	m.purchases[p.ID] = &cp
	if p.StripeSessionID != "" {
		m.bySession[p.StripeSessionID] = p.ID
	}
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Purchase
	for _, p := range m.purchases {
		if p.UserID != userID {
			continue
		}
		if after != nil {
			// Newest-first order: keep only rows strictly past the cursor.
			if p.CreatedAt.After(after.CreatedAt) {
				continue
			}
			if p.CreatedAt.Equal(after.CreatedAt) && p.ID >= after.ID {
				continue
			}
		}
		result = append(result, copyPurchase(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) FindCompleted(ctx context.Context, userID, itemID string) (*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.purchases {
		if p.UserID == userID && p.ItemID == itemID && p.Status == StatusCompleted {
			return copyPurchase(p), nil
		}
	}
	return nil, ErrPurchaseNotFound
}

func (m *MemoryStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Purchase
	for _, p := range m.purchases {
		if p.Status == StatusPending && p.CreatedAt.Before(before) {
			result = append(result, copyPurchase(p))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func copyPurchase(p *Purchase) *Purchase {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
