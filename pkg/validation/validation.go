package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomCodeRegex accepts xxx-xxxx-xxx with an optional -br-<6 hex> or -<3 digit> suffix.
	RoomCodeRegex = regexp.MustCompile(`^([a-z]{3}-[a-z]{4}-[a-z]{3})(?:-(br-[a-f0-9]{6}|\d{3}))?$`)

	// GuestIDRegex validates server-issued guest identifiers.
	GuestIDRegex = regexp.MustCompile(`^guest_[0-9a-f]{8}$`)

	// BreakoutIDRegex validates breakout identifiers.
	BreakoutIDRegex = regexp.MustCompile(`^br-[a-f0-9]{6}$`)

	// UserIDRegex validates authenticated participant identifiers.
	UserIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// RoomCode is a parsed room identifier.
type RoomCode struct {
	Base       string // xxx-xxxx-xxx
	BreakoutID string // br-xxxxxx, empty when absent
	Sequence   string // three-digit numeric variant, empty when absent
}

// ParseRoomCode validates and splits a room identifier taken from a URL path.
func ParseRoomCode(code string) (RoomCode, error) {
	m := RoomCodeRegex.FindStringSubmatch(code)
	if m == nil {
		return RoomCode{}, fmt.Errorf("invalid room code %q", code)
	}
	rc := RoomCode{Base: m[1]}
	switch {
	case strings.HasPrefix(m[2], "br-"):
		rc.BreakoutID = m[2]
	case m[2] != "":
		rc.Sequence = m[2]
	}
	return rc, nil
}

// ValidateRoomCode validates a room identifier.
func ValidateRoomCode(code string) error {
	_, err := ParseRoomCode(code)
	return err
}

// ValidateGuestID checks the shape of a guest identifier.
func ValidateGuestID(id string) error {
	if !GuestIDRegex.MatchString(id) {
		return fmt.Errorf("invalid guest id")
	}
	return nil
}

// ValidateParticipantID accepts either a guest id or a user id.
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant id is required")
	}
	if strings.HasPrefix(id, "guest_") {
		return ValidateGuestID(id)
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant id")
	}
	return nil
}

// ValidateBreakoutID validates a breakout identifier.
func ValidateBreakoutID(id string) error {
	if !BreakoutIDRegex.MatchString(id) {
		return fmt.Errorf("invalid breakout id %q", id)
	}
	return nil
}

// ValidateBreakoutNames checks a batch of breakout names against the per-room cap.
func ValidateBreakoutNames(names []string, max int) error {
	if len(names) == 0 {
		return fmt.Errorf("at least one breakout name is required")
	}
	if len(names) > max {
		return fmt.Errorf("too many breakout rooms (max %d)", max)
	}
	for i, name := range names {
		if err := ValidateStringLength(strings.TrimSpace(name), 1, 100, fmt.Sprintf("names[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDisplayName validates a participant display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 1, 100, "display name")
}

// ValidateOrigin reports whether origin is allowed. A missing Origin header is
// accepted; an empty allow-list only admits same-host origins.
func ValidateOrigin(origin, host string, allowed []string) error {
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid origin %q", origin)
	}
	if len(allowed) == 0 {
		if strings.EqualFold(u.Host, host) {
			return nil
		}
		return fmt.Errorf("origin %q not allowed", origin)
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" || strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return nil
		}
	}
	return fmt.Errorf("origin %q not allowed", origin)
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
