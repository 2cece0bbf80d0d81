package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned for missing, expired or forged player tokens.
var ErrInvalidToken = errors.New("invalid or expired player token")

// PlayerClaims binds a realtime session to one player of one room.
type PlayerClaims struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	jwt.RegisteredClaims
}

// TokenService issues and checks player session tokens. A zero-value secret
// disables tokens entirely.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. An empty secret yields a disabled service.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Enabled reports whether tokens are issued and required.
func (s *TokenService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue signs a token for the player.
func (s *TokenService) Issue(roomID, playerID string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, PlayerClaims{
		RoomID:   roomID,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its claims.
func (s *TokenService) Verify(tokenString string) (*PlayerClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &PlayerClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.RoomID == "" || claims.PlayerID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
