package memory

import (
	"context"
	"sync"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

type MemorySessionClockStore struct {
	mu     sync.Mutex
	clocks map[domain.RoomID]domain.SessionClock
	marks  map[domain.RoomID]map[string]bool
}

func NewMemorySessionClockStore() ports.SessionClockStore {
	return &MemorySessionClockStore{
		clocks: make(map[domain.RoomID]domain.SessionClock),
		marks:  make(map[domain.RoomID]map[string]bool),
	}
}

func (s *MemorySessionClockStore) StartIfAbsent(_ context.Context, clock domain.SessionClock) (domain.SessionClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.clocks[clock.RoomID]; ok {
		return existing, nil
	}
	s.clocks[clock.RoomID] = clock
	return clock, nil
}

func (s *MemorySessionClockStore) Get(_ context.Context, room domain.RoomID) (*domain.SessionClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clock, ok := s.clocks[room]
	if !ok {
		return nil, nil
	}
	return &clock, nil
}

func (s *MemorySessionClockStore) Delete(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clocks, room)
	delete(s.marks, room)
	return nil
}

func (s *MemorySessionClockStore) MarkOnce(_ context.Context, room domain.RoomID, marker string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marks, ok := s.marks[room]
	if !ok {
		marks = make(map[string]bool)
		s.marks[room] = marks
	}
	if marks[marker] {
		return false, nil
	}
	marks[marker] = true
	return true, nil
}
