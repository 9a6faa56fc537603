package domain

import (
	"encoding/json"
	"fmt"
)

// EventType is the "type" field of a signaling frame.
type EventType string

// Inbound event types.
const (
	EventPing             EventType = "ping"
	EventRegister         EventType = "register"
	EventJoinRoom         EventType = "join-room"
	EventVideoOff         EventType = "video-off"
	EventVideoOn          EventType = "on-the-video"
	EventScreenShareOff   EventType = "screen-share-off"
	EventNewChat          EventType = "new-chat"
	EventWhiteboardShared EventType = "whiteboardshared"
	EventWhiteboardClosed EventType = "whiteboardclosed"
	EventMouseUp          EventType = "mouseup"
	EventMouseDown        EventType = "mousedown"
	EventMouseMove        EventType = "mousemove"
	EventColorChange      EventType = "colorchange"
	EventRecordingStarted EventType = "recording-started"
	EventRecordingStopped EventType = "recording-stopped"
	EventAlert            EventType = "alert"
	EventAlertResponse    EventType = "alert-response"
	EventMuteAll          EventType = "mute-all"
	EventMuteStatus       EventType = "mute-status"
	EventKickUser         EventType = "kick-user"
	EventShareInfo        EventType = "share-info"
	EventRequestInfo      EventType = "request-info"
	EventEndMeeting       EventType = "end-meeting"

	EventBreakoutCreate    EventType = "breakout-create"
	EventBreakoutAssign    EventType = "breakout-assign"
	EventBreakoutJoin      EventType = "breakout-join"
	EventBreakoutLeave     EventType = "breakout-leave"
	EventBreakoutBroadcast EventType = "breakout-broadcast"
	EventBreakoutClose     EventType = "breakout-close"
)

// Outbound event types that differ from their inbound trigger.
const (
	EventPong             EventType = "pong"
	EventRegistered       EventType = "registered"
	EventGuestSession     EventType = "guest-session"
	EventUserJoined       EventType = "newuserjoined"
	EventUserDisconnected EventType = "user-disconnected"
	EventVideoOffNotice   EventType = "off-the-video"
	EventChatMessage      EventType = "newmessage"
	EventKicked           EventType = "kicked"
	EventUserKicked       EventType = "user-kicked"
	EventMeetingEnded     EventType = "meeting-ended"
	EventDurationWarning  EventType = "duration-warning"
	EventDurationExceeded EventType = "duration-exceeded"
	EventError            EventType = "error"

	EventBreakoutCreated  EventType = "breakout-created"
	EventBreakoutAssigned EventType = "breakout-assigned"
	EventBreakoutJoined   EventType = "breakout-joined"
	EventBreakoutReturned EventType = "breakout-returned"
	EventBreakoutClosed   EventType = "breakout-closed"
	EventBreakoutMessage  EventType = "breakout-message"
)

// Inbound is a decoded client frame: {"type": ..., "data": {...}}.
type Inbound struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// UserID is read from the top level of "register" frames.
	UserID string `json:"user_id,omitempty"`
}

// Event is an outbound frame ready for delivery. Frame holds the full JSON
// object with payload fields flattened next to "type".
type Event struct {
	Type  EventType       `json:"type"`
	Frame json.RawMessage `json:"frame"`
}

// NewEvent encodes payload (a struct or map encoding to a JSON object, or nil)
// into a flat frame.
func NewEvent(t EventType, payload any) (Event, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return Event{}, fmt.Errorf("%s payload is not an object: %w", t, err)
		}
	}
	typ, _ := json.Marshal(t)
	fields["type"] = typ

	frame, err := json.Marshal(fields)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s frame: %w", t, err)
	}
	return Event{Type: t, Frame: frame}, nil
}

// Payloads of outbound events.

type UserPayload struct {
	UserID ParticipantID `json:"user_id"`
}

// GuestSessionPayload hands a guest the token that lets it reconnect under
// the same id.
type GuestSessionPayload struct {
	UserID     ParticipantID `json:"user_id"`
	GuestToken string        `json:"guest_token"`
}

type JoinedPayload struct {
	UserID      ParticipantID `json:"user_id"`
	Username    string        `json:"username"`
	IsModerator bool          `json:"is_moderator"`
}

type ChatPayload struct {
	UserID  ParticipantID `json:"user_id"`
	Message string        `json:"message"`
}

type StrokePayload struct {
	Data json.RawMessage `json:"data"`
}

type ColorPayload struct {
	Color string `json:"color"`
}

type ModeratorPayload struct {
	ModeratorID ParticipantID `json:"moderator_id"`
}

type MuteStatusPayload struct {
	UserID ParticipantID `json:"user_id"`
	Muted  bool          `json:"muted"`
}

type UserKickedPayload struct {
	TargetUserID ParticipantID `json:"targetUserId"`
	ModeratorID  ParticipantID `json:"moderator_id"`
}

type JoinRequestPayload struct {
	UserID   ParticipantID `json:"user_id"`
	Username string        `json:"username"`
	RoomID   RoomID        `json:"room_id"`
}

type DecisionPayload struct {
	UserID   ParticipantID `json:"user_id"`
	Approved bool          `json:"approved"`
	RoomID   RoomID        `json:"room_id"`
	Reason   string        `json:"reason,omitempty"`
}

type DurationWarningPayload struct {
	RoomID           RoomID `json:"room_id"`
	MinutesRemaining int    `json:"minutes_remaining"`
}

type DurationExceededPayload struct {
	RoomID       RoomID `json:"room_id"`
	LimitMinutes int    `json:"limit_minutes"`
}

type BreakoutsPayload struct {
	RoomID    RoomID      `json:"room_id"`
	Breakouts []*Breakout `json:"breakouts"`
}

type BreakoutAssignedPayload struct {
	RoomID     RoomID     `json:"room_id"`
	BreakoutID BreakoutID `json:"breakout_id"`
	Name       string     `json:"name"`
}

type BreakoutMemberPayload struct {
	BreakoutID BreakoutID    `json:"breakout_id"`
	UserID     ParticipantID `json:"user_id"`
}

type BreakoutClosedPayload struct {
	RoomID     RoomID     `json:"room_id"`
	BreakoutID BreakoutID `json:"breakout_id"`
}

type BreakoutMessagePayload struct {
	ModeratorID ParticipantID `json:"moderator_id"`
	Message     string        `json:"message"`
}

type ErrorPayload struct {
	Event   EventType `json:"event"`
	Message string    `json:"message"`
}
