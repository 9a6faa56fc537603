package memory

import (
	"context"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

// MemoryAssignmentStore ignores TTLs; assignments are dropped with ClearRoom.
type MemoryAssignmentStore struct {
	mu          sync.Mutex
	assignments map[domain.RoomID]map[domain.ParticipantID]domain.BreakoutID
}

func NewMemoryAssignmentStore() ports.AssignmentStore {
	return &MemoryAssignmentStore{
		assignments: make(map[domain.RoomID]map[domain.ParticipantID]domain.BreakoutID),
	}
}

func (s *MemoryAssignmentStore) Assign(_ context.Context, room domain.RoomID, assignments []domain.Assignment, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.assignments[room]
	if !ok {
		m = make(map[domain.ParticipantID]domain.BreakoutID)
		s.assignments[room] = m
	}
	for _, a := range assignments {
		m[a.ParticipantID] = a.BreakoutID
	}
	return nil
}

func (s *MemoryAssignmentStore) Lookup(_ context.Context, room domain.RoomID, p domain.ParticipantID) (domain.BreakoutID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignments[room][p], nil
}

func (s *MemoryAssignmentStore) Clear(_ context.Context, room domain.RoomID, p domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments[room], p)
	return nil
}

func (s *MemoryAssignmentStore) ClearRoom(_ context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, room)
	return nil
}
