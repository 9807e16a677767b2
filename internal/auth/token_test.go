package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(clock *fakeClock) *TokenService {
	return NewTokenService("test-secret", 24*time.Hour).WithClock(clock.Now)
}

func TestTokenService_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)

	testCases := []struct {
		name     string
		subject  string
		role     Role
		deviceID string
	}{
		{name: "admin token", subject: "admin-001", role: RoleAdmin},
		{name: "device token", subject: "admin-001", role: RoleDevice, deviceID: "device-42"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := svc.IssueToken(tc.subject, tc.role, tc.deviceID)
			require.NoError(t, err)

			claims, err := svc.VerifyToken(token)
			require.NoError(t, err)
			assert.Equal(t, tc.subject, claims.SubjectID())
			assert.Equal(t, tc.role, claims.Role)
			assert.Equal(t, tc.deviceID, claims.DeviceID)
			assert.True(t, clock.t.Add(24*time.Hour).Equal(claims.ExpiresAt.Time))
		})
	}
}

func TestTokenService_IssueValidation(t *testing.T) {
	svc := NewTokenService("s", 0)
	_, err := svc.IssueToken("", RoleAdmin, "")
	assert.Error(t, err)
	_, err = svc.IssueToken("x", Role("guest"), "")
	assert.Error(t, err)
}

func TestTokenService_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)

	token, err := svc.IssueToken("admin-001", RoleAdmin, "")
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	assert.False(t, svc.IsExpired(token))

	clock.Advance(2 * time.Hour)
	claims, err := svc.VerifyToken(token)
	assert.Nil(t, claims, "expired tokens are rejected, never degraded")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, svc.IsExpired(token))
}

func TestTokenService_RejectsTampering(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	svc := newTestService(clock)
	token, err := svc.IssueToken("admin-001", RoleAdmin, "")
	require.NoError(t, err)

	other := NewTokenService("other-secret", time.Hour).WithClock(clock.Now)
	foreign, err := other.IssueToken("admin-001", RoleAdmin, "")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tamperedPayload, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-999", Issuer: tokenIssuer, ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour))},
	}).SigningString()
	require.NoError(t, err)
	spliced := tamperedPayload + "." + parts[2]

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-001", Issuer: tokenIssuer, ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, bad := range map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"wrong secret":   foreign,
		"spliced claims": spliced,
		"alg none":       none,
		"truncated":      token[:len(token)-4],
	} {
		t.Run(name, func(t *testing.T) {
			claims, err := svc.VerifyToken(bad)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenService_RefreshIfNearExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(clock)

	token, err := svc.IssueToken("admin-001", RoleAdmin, "")
	require.NoError(t, err)

	same, err := svc.RefreshIfNearExpiry(token, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, token, same, "tokens far from expiry are returned unchanged")

	clock.Advance(23 * time.Hour)
	renewed, err := svc.RefreshIfNearExpiry(token, 2*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, token, renewed)

	claims, err := svc.VerifyToken(renewed)
	require.NoError(t, err)
	assert.True(t, clock.t.Add(24*time.Hour).Equal(claims.ExpiresAt.Time))

	// No revocation: the old token stays valid until it expires.
	assert.False(t, svc.IsExpired(token))

	clock.Advance(2 * time.Hour)
	_, err = svc.RefreshIfNearExpiry(token, 2*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
