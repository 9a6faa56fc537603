package services

import (
	"errors"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// GuestTokenTTL bounds how long a guest may come back under the same id.
const GuestTokenTTL = 12 * time.Hour

const guestAudience = "meetsignal-guest"

// AuthService validates identity tokens issued by the account service and
// signs the guest sessions this server hands out itself.
type AuthService interface {
	ValidateToken(tokenString string) (*Claims, error)
	// IssueGuest creates a fresh guest id and the token that proves it.
	IssueGuest() (domain.ParticipantID, string, error)
	// RenewGuest signs a new token for an id the caller already holds.
	RenewGuest(id domain.ParticipantID) (string, error)
	ValidateGuestToken(tokenString string) (domain.ParticipantID, error)
}

type Claims struct {
	UserID   domain.ParticipantID `json:"user_id"`
	Username string               `json:"username"`
	jwt.RegisteredClaims
}

// Participant returns the identity carried by the token, falling back to the
// subject claim.
func (c *Claims) Participant() domain.ParticipantID {
	if c.UserID != "" {
		return c.UserID
	}
	return domain.ParticipantID(c.Subject)
}

type authService struct {
	jwtSecret []byte
}

func NewAuthService(jwtSecret string) AuthService {
	return &authService{jwtSecret: []byte(jwtSecret)}
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	// guest ids only travel in guest tokens
	if id := claims.Participant(); id == "" || id.IsGuest() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) IssueGuest() (domain.ParticipantID, string, error) {
	id := domain.ParticipantID(utils.GenerateGuestID())
	token, err := s.RenewGuest(id)
	if err != nil {
		return "", "", err
	}
	return id, token, nil
}

func (s *authService) RenewGuest(id domain.ParticipantID) (string, error) {
	if !id.IsGuest() {
		return "", ErrInvalidToken
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(id),
		Audience:  jwt.ClaimStrings{guestAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(GuestTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *authService) ValidateGuestToken(tokenString string) (domain.ParticipantID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithAudience(guestAudience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	id := domain.ParticipantID(claims.Subject)
	if !token.Valid || !id.IsGuest() {
		return "", ErrInvalidToken
	}
	return id, nil
}
