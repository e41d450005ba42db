package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impostor-draw-server/roomerrors"
)

func TestPlayerTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.IssuePlayerToken("room-1", "player-1")
	require.NoError(t, err)

	roomID, playerID, err := m.ParsePlayerToken(token)
	require.NoError(t, err)
	assert.Equal(t, "room-1", roomID)
	assert.Equal(t, "player-1", playerID)
}

func TestParsePlayerToken_Rejects(t *testing.T) {
	m, err := NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)
	token, err := m.IssuePlayerToken("room-1", "player-1")
	require.NoError(t, err)

	other, err := NewTokenManager("other-secret", time.Hour)
	require.NoError(t, err)
	_, _, err = other.ParsePlayerToken(token)
	assert.ErrorIs(t, err, roomerrors.ErrInvalidToken)

	_, _, err = m.ParsePlayerToken(token + "x")
	assert.ErrorIs(t, err, roomerrors.ErrInvalidToken)

	parts := strings.Split(token, ".")
	noneAlg := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + "."
	_, _, err = m.ParsePlayerToken(noneAlg)
	assert.ErrorIs(t, err, roomerrors.ErrInvalidToken)

	_, _, err = m.ParsePlayerToken("garbage")
	assert.ErrorIs(t, err, roomerrors.ErrInvalidToken)
}

func TestParsePlayerToken_Expired(t *testing.T) {
	m, err := NewTokenManager("test-secret", time.Minute)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.IssuePlayerToken("room-1", "player-1")
	require.NoError(t, err)

	m.now = time.Now
	_, _, err = m.ParsePlayerToken(token)
	assert.ErrorIs(t, err, roomerrors.ErrInvalidToken)
}

func TestNewTokenManager_EmptySecret(t *testing.T) {
	_, err := NewTokenManager("", time.Hour)
	assert.Error(t, err)
}
