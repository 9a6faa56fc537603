package middleware

import (
	"net/http"
	"strings"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/services"
	"meetsignal/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	ContextParticipantID = "participant_id"
	ContextUsername      = "username"

	HeaderGuestToken = "X-Guest-Token"
)

// BearerToken returns the token from the Authorization header, or from the
// access_token query parameter for browser websocket clients that cannot set
// headers.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// GuestToken returns the server-issued guest session token, from the
// X-Guest-Token header or the guest_token query parameter.
func GuestToken(r *http.Request) string {
	if token := r.Header.Get(HeaderGuestToken); token != "" {
		return token
	}
	return r.URL.Query().Get("guest_token")
}

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			unauthorized(c, "authorization required")
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Set(ContextParticipantID, claims.Participant())
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	appErr := errors.NewUnauthorizedError(message)
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

// OptionalAuthMiddleware sets the identity when a valid account or guest
// token is present and lets anonymous requests through.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := BearerToken(c.Request); token != "" {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(ContextParticipantID, claims.Participant())
				c.Set(ContextUsername, claims.Username)
			}
		} else if token := GuestToken(c.Request); token != "" {
			if id, err := authService.ValidateGuestToken(token); err == nil {
				c.Set(ContextParticipantID, id)
			}
		}
		c.Next()
	}
}

// Participant returns the authenticated identity of the request, if any.
func Participant(c *gin.Context) (domain.ParticipantID, bool) {
	v, ok := c.Get(ContextParticipantID)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.ParticipantID)
	return id, ok && id != ""
}
