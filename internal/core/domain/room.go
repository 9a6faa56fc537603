package domain

import (
	"crypto/subtle"
	"strings"
	"time"
)

type RoomID string
type TenantID string
type ParticipantID string
type ConnectionID string
type BreakoutID string

// IsGuest reports whether the id was issued to an unauthenticated participant.
func (p ParticipantID) IsGuest() bool {
	return strings.HasPrefix(string(p), "guest_")
}

// Room is the durable view of a meeting or persistent room, read from the directory.
type Room struct {
	ID             RoomID
	TenantID       TenantID
	ModeratorID    ParticipantID
	Name           string
	ModeratorToken string
	AttendeeToken  string
	Locked         bool
	Persistent     bool
}

// LinkClass distinguishes moderator and attendee join links.
type LinkClass string

const (
	LinkNone      LinkClass = ""
	LinkAttendee  LinkClass = "attendee"
	LinkModerator LinkClass = "moderator"
)

// ClassifyToken resolves a join-link token against the room. An empty token is
// LinkNone; a token matching neither link is ErrAccessDenied.
func (r *Room) ClassifyToken(token string) (LinkClass, error) {
	if token == "" {
		return LinkNone, nil
	}
	if r.ModeratorToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(r.ModeratorToken)) == 1 {
		return LinkModerator, nil
	}
	if r.AttendeeToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(r.AttendeeToken)) == 1 {
		return LinkAttendee, nil
	}
	return LinkNone, ErrAccessDenied
}

// Actor is whoever asks for a privileged action: an identity plus the join-link
// token it presented, if any.
type Actor struct {
	ParticipantID ParticipantID
	LinkToken     string
	ConnectionID  ConnectionID // empty for HTTP callers
}

// IsModerator checks the actor against the persisted room owner and moderator link.
func (r *Room) IsModerator(a Actor) bool {
	if a.ParticipantID != "" && !a.ParticipantID.IsGuest() && a.ParticipantID == r.ModeratorID {
		return true
	}
	class, err := r.ClassifyToken(a.LinkToken)
	return err == nil && class == LinkModerator
}

// Participant is one roster entry: a live room connection.
type Participant struct {
	ConnectionID  ConnectionID  `json:"connection_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name,omitempty"`
	IsModerator   bool          `json:"is_moderator"`
	JoinedAt      time.Time     `json:"joined_at"`
	Instance      string        `json:"instance"`
}
