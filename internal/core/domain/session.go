package domain

import "time"

// SessionClock tracks the time budget of one room. A zero DurationLimit is unlimited.
type SessionClock struct {
	RoomID        RoomID        `json:"room_id"`
	StartedAt     time.Time     `json:"started_at"`
	DurationLimit time.Duration `json:"duration_limit"`
}

func (c SessionClock) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.StartedAt)
}

// Remaining returns the time left before the limit, never negative.
func (c SessionClock) Remaining(now time.Time) time.Duration {
	left := c.DurationLimit - c.Elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}

// JoinRequest is a waiting participant asking a moderator for access to a locked room.
type JoinRequest struct {
	RoomID        RoomID        `json:"room_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	ConnectionID  ConnectionID  `json:"connection_id"`
	RequestedAt   time.Time     `json:"requested_at"`
}

// PendingApproval proves a moderator admitted a participant; consumed once on confirmation.
type PendingApproval struct {
	RoomID        RoomID        `json:"room_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	ApprovedBy    ParticipantID `json:"approved_by"`
	ApprovedAt    time.Time     `json:"approved_at"`
}

// AccessGrant is the durable record of an authenticated user allowed into a room.
type AccessGrant struct {
	RoomID      RoomID
	UserID      ParticipantID
	AuthorID    ParticipantID
	MeetingName string
	GrantedAt   time.Time
}
