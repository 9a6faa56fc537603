package ports

import (
	"context"

	"meetsignal/internal/core/domain"
)

// AdmitRequest identifies a connection asking to enter a room.
type AdmitRequest struct {
	RoomID        domain.RoomID
	ParticipantID domain.ParticipantID
	LinkToken     string
}

type AdmissionService interface {
	Admit(ctx context.Context, req AdmitRequest) (*domain.Admission, error)
	Presence(ctx context.Context, room domain.RoomID) (int64, error)
}

type ApprovalService interface {
	RequestJoin(ctx context.Context, req domain.JoinRequest) error
	Decide(ctx context.Context, room domain.RoomID, actor domain.Actor, participant domain.ParticipantID, approved bool) error
	Confirm(ctx context.Context, room domain.RoomID, participant domain.ParticipantID) error
	Withdraw(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, conn domain.ConnectionID) error
}

type BreakoutService interface {
	Create(ctx context.Context, room domain.RoomID, actor domain.Actor, names []string) ([]*domain.Breakout, error)
	Assign(ctx context.Context, room domain.RoomID, actor domain.Actor, assignments []domain.Assignment) error
	Join(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, breakout domain.BreakoutID, conn domain.ConnectionID) (*domain.Breakout, error)
	Leave(ctx context.Context, room domain.RoomID, participant domain.ParticipantID, breakout domain.BreakoutID, conn domain.ConnectionID) error
	Broadcast(ctx context.Context, room domain.RoomID, actor domain.Actor, message string) error
	CloseAll(ctx context.Context, room domain.RoomID, actor domain.Actor) ([]*domain.Breakout, error)
	List(ctx context.Context, room domain.RoomID) ([]*domain.Breakout, error)
}

type ModerationService interface {
	Kick(ctx context.Context, room domain.RoomID, actor domain.Actor, target domain.ParticipantID) error
	MuteAll(ctx context.Context, room domain.RoomID, actor domain.Actor) error
	EndMeeting(ctx context.Context, room domain.RoomID, actor domain.Actor) error
	SetRecording(ctx context.Context, room domain.RoomID, actor domain.Actor, started bool) error
	Broadcast(ctx context.Context, room domain.RoomID, actor domain.Actor, ev domain.Event) error
}

// WatchdogManager runs one duration watchdog per room hosted on this instance.
type WatchdogManager interface {
	Track(room domain.RoomID, clock domain.SessionClock)
	Untrack(room domain.RoomID)
}
