package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable; fall back to uuid entropy.
		u := uuid.New()
		copy(b, u[:])
	}
	return hex.EncodeToString(b)
}

// GenerateGuestID returns guest_<8 hex>.
func GenerateGuestID() string {
	return "guest_" + randomHex(4)
}

// GenerateBreakoutID returns br-<6 hex>.
func GenerateBreakoutID() string {
	return "br-" + randomHex(3)
}

// GenerateConnectionID returns a unique id for one socket.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateRequestID returns a unique id for one HTTP request.
func GenerateRequestID() string {
	return "req_" + randomHex(8)
}
