package memory

import (
	"context"
	"sync"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
)

type approvalKey struct {
	room        domain.RoomID
	participant domain.ParticipantID
}

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryApprovalStore expires entries lazily on read.
type MemoryApprovalStore struct {
	mu        sync.Mutex
	requests  map[approvalKey]expiring[domain.JoinRequest]
	approvals map[approvalKey]expiring[domain.PendingApproval]
	now       func() time.Time
}

func NewMemoryApprovalStore() ports.ApprovalStore {
	return newMemoryApprovalStore(time.Now)
}

func newMemoryApprovalStore(now func() time.Time) *MemoryApprovalStore {
	return &MemoryApprovalStore{
		requests:  make(map[approvalKey]expiring[domain.JoinRequest]),
		approvals: make(map[approvalKey]expiring[domain.PendingApproval]),
		now:       now,
	}
}

func (s *MemoryApprovalStore) PutRequest(_ context.Context, req domain.JoinRequest, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[approvalKey{req.RoomID, req.ParticipantID}] = expiring[domain.JoinRequest]{req, s.now().Add(ttl)}
	return nil
}

func (s *MemoryApprovalStore) TakeRequest(_ context.Context, room domain.RoomID, p domain.ParticipantID) (*domain.JoinRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return take(s.requests, approvalKey{room, p}, s.now()), nil
}

func (s *MemoryApprovalStore) WithdrawRequest(_ context.Context, room domain.RoomID, p domain.ParticipantID, conn domain.ConnectionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := approvalKey{room, p}
	entry, ok := s.requests[key]
	if !ok || entry.value.ConnectionID != conn {
		return false, nil
	}
	delete(s.requests, key)
	return s.now().Before(entry.expiresAt), nil
}

func (s *MemoryApprovalStore) PutApproval(_ context.Context, approval domain.PendingApproval, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approvalKey{approval.RoomID, approval.ParticipantID}] = expiring[domain.PendingApproval]{approval, s.now().Add(ttl)}
	return nil
}

func (s *MemoryApprovalStore) TakeApproval(_ context.Context, room domain.RoomID, p domain.ParticipantID) (*domain.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return take(s.approvals, approvalKey{room, p}, s.now()), nil
}

func take[T any](m map[approvalKey]expiring[T], key approvalKey, now time.Time) *T {
	entry, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	if !now.Before(entry.expiresAt) {
		return nil
	}
	return &entry.value
}
