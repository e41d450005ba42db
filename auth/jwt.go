// Package auth issues and checks the resume tokens handed to players when
// they create or join a room. A token lets a reconnecting socket take over
// the same seat.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"impostor-draw-server/roomerrors"
)

const issuer = "impostor-draw"

// PlayerClaims identifies one seat in one room.
type PlayerClaims struct {
	RoomID   string `json:"room"`
	PlayerID string `json:"player"`
	jwt.RegisteredClaims
}

// TokenManager signs player tokens with an HMAC secret.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager returns a manager whose tokens expire after ttl.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// IssuePlayerToken returns a signed token for playerID in roomID.
func (m *TokenManager) IssuePlayerToken(roomID, playerID string) (string, error) {
	now := m.now()
	claims := PlayerClaims{
		RoomID:   roomID,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing player token: %w", err)
	}
	return signed, nil
}

// ParsePlayerToken verifies token and returns its room and player ids. Any
// failure is reported as roomerrors.ErrInvalidToken.
func (m *TokenManager) ParsePlayerToken(token string) (roomID, playerID string, err error) {
	claims := &PlayerClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", roomerrors.ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.RoomID == "" || claims.PlayerID == "" {
		return "", "", roomerrors.ErrInvalidToken
	}
	return claims.RoomID, claims.PlayerID, nil
}
