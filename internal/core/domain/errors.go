package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrCapacityExceeded    = errors.New("room capacity exceeded")
	ErrRateLimited         = errors.New("rate limited")
	ErrOriginNotAllowed    = errors.New("origin not allowed")
	ErrNotModerator        = errors.New("moderator privileges required")
	ErrFeatureNotEnabled   = errors.New("feature not enabled for plan")
	ErrBreakoutNotFound    = errors.New("breakout not found")
	ErrBreakoutNotAssigned = errors.New("participant not assigned to breakout")
	ErrTooManyBreakouts    = errors.New("too many breakout rooms")
	ErrDuplicateBreakout   = errors.New("breakout id already taken")
	ErrNoPendingRequest    = errors.New("no pending join request")
	ErrInvalidEvent        = errors.New("invalid event")
)

// FeatureError names the plan feature an action needed. It matches
// ErrFeatureNotEnabled.
type FeatureError struct {
	Feature string
	Cause   error
}

func (e *FeatureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: plan unavailable: %v", ErrFeatureNotEnabled, e.Feature, e.Cause)
	}
	return fmt.Sprintf("%v: %s", ErrFeatureNotEnabled, e.Feature)
}

func (e *FeatureError) Unwrap() error { return ErrFeatureNotEnabled }

// Close codes sent to rejected sockets.
const (
	CloseRoomNotFound     = 4004
	CloseOriginNotAllowed = 4003
	CloseCapacityExceeded = 4029
)

// CloseCodeFor maps an admission error to its websocket close code. Unknown
// errors get 1011 (internal error).
func CloseCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrAccessDenied):
		return CloseRoomNotFound
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrRateLimited):
		return CloseCapacityExceeded
	case errors.Is(err, ErrOriginNotAllowed):
		return CloseOriginNotAllowed
	default:
		return 1011
	}
}
