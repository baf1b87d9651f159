package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	memberID := uuid.New()
	orgID := uuid.New()

	token, expiresAt, err := svc.IssueToken(memberID, orgID, "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, memberID, claims.MemberID)
	assert.Equal(t, orgID, claims.OrgID)
	assert.Equal(t, "session-1", claims.SessionID)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	token, _, err := svc.IssueToken(uuid.New(), uuid.New(), "session-1")
	require.NoError(t, err)

	other := NewTokenService("different-secret", time.Hour)
	_, err = other.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_Expired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)
	token, _, err := svc.IssueToken(uuid.New(), uuid.New(), "session-1")
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyToken_Garbage(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	_, err := svc.VerifyToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
