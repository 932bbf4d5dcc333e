package customers

import (
	"context"
	"errors"
	"testing"
)

type mockCreator struct {
	calls int
	fail  bool
}

func (m *mockCreator) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	m.calls++
	if m.fail {
		return "", errors.New("provider unavailable")
	}
	return "cus_mock123", nil
}

func TestResolver_CreatesOnFirstUse(t *testing.T) {
	store := NewMemoryStore()
	creator := &mockCreator{}
	r := NewResolver(store, creator)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "user-1", "listener@example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id != "cus_mock123" {
		t.Errorf("Expected cus_mock123, got %s", id)
	}
	if creator.calls != 1 {
		t.Errorf("Expected 1 provider call, got %d", creator.calls)
	}

	m, err := store.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("Mapping not persisted: %v", err)
	}
	if m.Email != "listener@example.com" {
		t.Errorf("Expected email persisted, got %s", m.Email)
	}
}

func TestResolver_ReusesExistingMapping(t *testing.T) {
	store := NewMemoryStore()
	creator := &mockCreator{}
	r := NewResolver(store, creator)
	ctx := context.Background()

	r.Resolve(ctx, "user-1", "listener@example.com")
	id, err := r.Resolve(ctx, "user-1", "listener@example.com")
	if err != nil {
		t.Fatalf("Second Resolve failed: %v", err)
	}
	if id != "cus_mock123" {
		t.Errorf("Expected cus_mock123, got %s", id)
	}
	if creator.calls != 1 {
		t.Errorf("Expected provider called once, got %d calls", creator.calls)
	}
}

func TestResolver_ProviderFailure(t *testing.T) {
	store := NewMemoryStore()
	creator := &mockCreator{fail: true}
	r := NewResolver(store, creator)

	_, err := r.Resolve(context.Background(), "user-1", "listener@example.com")
	if err == nil {
		t.Fatal("Expected error when provider fails")
	}

	if _, err := store.GetByUserID(context.Background(), "user-1"); err != ErrMappingNotFound {
		t.Errorf("Expected no mapping after provider failure, got %v", err)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetByUserID(context.Background(), "nobody")
	if err != ErrMappingNotFound {
		t.Errorf("Expected ErrMappingNotFound, got %v", err)
	}
}
