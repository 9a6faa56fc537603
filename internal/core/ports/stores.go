package ports

import (
	"context"
	"time"

	"meetsignal/internal/core/domain"
)

// PresenceCounter is the shared per-room occupancy counter.
type PresenceCounter interface {
	Increment(ctx context.Context, room domain.RoomID) (int64, error)
	Decrement(ctx context.Context, room domain.RoomID) (int64, error)
	Count(ctx context.Context, room domain.RoomID) (int64, error)
}

type SessionClockStore interface {
	// StartIfAbsent stores clock unless one exists and returns the stored clock.
	StartIfAbsent(ctx context.Context, clock domain.SessionClock) (domain.SessionClock, error)
	// Get returns nil without error when the room has no clock.
	Get(ctx context.Context, room domain.RoomID) (*domain.SessionClock, error)
	Delete(ctx context.Context, room domain.RoomID) error
	// MarkOnce returns true for the first caller per room and marker until Delete.
	MarkOnce(ctx context.Context, room domain.RoomID, marker string) (bool, error)
}

// ApprovalStore holds join requests and pending approvals. Take* calls are
// atomic get-and-delete and return nil without error when nothing is stored.
type ApprovalStore interface {
	PutRequest(ctx context.Context, req domain.JoinRequest, ttl time.Duration) error
	TakeRequest(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) (*domain.JoinRequest, error)
	// WithdrawRequest deletes the request only when conn created it.
	WithdrawRequest(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, conn domain.ConnectionID) (bool, error)
	PutApproval(ctx context.Context, approval domain.PendingApproval, ttl time.Duration) error
	TakeApproval(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) (*domain.PendingApproval, error)
}

// AssignmentStore maps participants to breakouts. Lookup returns "" when unassigned.
type AssignmentStore interface {
	Assign(ctx context.Context, room domain.RoomID, assignments []domain.Assignment, ttl time.Duration) error
	Lookup(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) (domain.BreakoutID, error)
	Clear(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) error
	ClearRoom(ctx context.Context, room domain.RoomID) error
}

// Roster lists the live connections of a room across instances.
type Roster interface {
	Add(ctx context.Context, room domain.RoomID, p domain.Participant, ttl time.Duration) error
	Remove(ctx context.Context, room domain.RoomID, conn domain.ConnectionID) error
	List(ctx context.Context, room domain.RoomID) ([]domain.Participant, error)
}
