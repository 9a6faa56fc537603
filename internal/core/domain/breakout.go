package domain

import "time"

// Breakout is a sub-room nested under one parent room.
type Breakout struct {
	ID           BreakoutID    `json:"breakout_id"`
	ParentRoomID RoomID        `json:"room_id"`
	Name         string        `json:"name"`
	IsActive     bool          `json:"is_active"`
	CreatedBy    ParticipantID `json:"created_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
}

// Assignment maps one participant to the breakout it may join.
type Assignment struct {
	ParticipantID ParticipantID `json:"participant_id"`
	BreakoutID    BreakoutID    `json:"breakout_id"`
}
