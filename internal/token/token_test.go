package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(Config{
		Secret:   "test-secret",
		Issuer:   "auth-api",
		Audience: []string{"auth-api"},
		TTL:      ttl,
	})
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	mgr := newTestManager(time.Hour)

	signed, expiresAt, err := mgr.Issue("u1", "user@example.com", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := mgr.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "u1", claims.Subject)
}

func TestVerifyExpired(t *testing.T) {
	mgr := newTestManager(time.Minute)

	signed, _, err := mgr.Issue("u1", "user@example.com", time.Now().Add(-2*time.Minute))
	require.NoError(t, err)

	_, err = mgr.Verify(signed)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	mgr := newTestManager(time.Hour)
	other := NewManager(Config{Secret: "other-secret", Issuer: "auth-api", TTL: time.Hour})

	signed, _, err := other.Issue("u1", "user@example.com", time.Now())
	require.NoError(t, err)

	_, err = mgr.Verify(signed)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyMalformed(t *testing.T) {
	mgr := newTestManager(time.Hour)

	_, err := mgr.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformed)
}
