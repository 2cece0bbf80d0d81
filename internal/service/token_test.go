package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplayer-life/internal/service"
)

func TestTokenService_IssueAndVerify(t *testing.T) {
	tokens := service.NewTokenService("very-secret-key", time.Hour)
	require.True(t, tokens.Enabled())

	signed, err := tokens.Issue("room-1", "alice")
	require.NoError(t, err)

	claims, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "room-1", claims.RoomID)
	assert.Equal(t, "alice", claims.PlayerID)
}

func TestTokenService_RejectsForeignAndExpiredTokens(t *testing.T) {
	tokens := service.NewTokenService("very-secret-key", time.Hour)
	other := service.NewTokenService("another-key", time.Hour)
	signed, err := other.Issue("room-1", "alice")
	require.NoError(t, err)

	_, err = tokens.Verify(signed)
	assert.ErrorIs(t, err, service.ErrInvalidToken)

	_, err = tokens.Verify("")
	assert.ErrorIs(t, err, service.ErrInvalidToken)

	short := service.NewTokenService("very-secret-key", time.Nanosecond)
	signed, err = short.Issue("room-1", "alice")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = tokens.Verify(signed)
	assert.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestTokenService_DisabledWithoutSecret(t *testing.T) {
	tokens := service.NewTokenService("", time.Hour)
	assert.False(t, tokens.Enabled())
	signed, err := tokens.Issue("room-1", "alice")
	require.NoError(t, err)
	assert.Empty(t, signed)
}
