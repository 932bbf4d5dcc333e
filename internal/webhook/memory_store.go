package webhook

import (
	"context"
	"sync"
)

// MemoryEventStore is an in-memory EventStore for development and tests.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*Event
}

var _ EventStore = (*MemoryEventStore)(nil)

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]*Event)}
}

func (s *MemoryEventStore) Record(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return ErrEventExists
	}
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *MemoryEventStore) Get(ctx context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}
