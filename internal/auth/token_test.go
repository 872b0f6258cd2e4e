package auth

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestTokens(t *testing.T) *TokenService {
	t.Helper()
	s, err := NewTokenService(testSecret, 7*24*time.Hour, "chillspot-api")
	require.NoError(t, err)
	return s
}

func TestNewTokenService_Validation(t *testing.T) {
	_, err := NewTokenService("", time.Hour, "")
	assert.Error(t, err)

	_, err = NewTokenService("s", 0, "")
	assert.Error(t, err)
}

func TestTokenService_RoundTrip(t *testing.T) {
	s := newTestTokens(t)

	token, err := s.Issue(Identity{ID: "65f0c0ffee0000000000abcd", Email: "jonny@example.com"})
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "65f0c0ffee0000000000abcd", claims.UserID)
	assert.Equal(t, "jonny@example.com", claims.Email)
	assert.Equal(t, "65f0c0ffee0000000000abcd", claims.Subject)
	assert.Equal(t, "chillspot-api", claims.Issuer)
}

func TestTokenService_ExpiryIsFixedAtIssuance(t *testing.T) {
	issuedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newTestTokens(t).WithClock(func() time.Time { return issuedAt })

	token, err := s.Issue(Identity{ID: "u1", Email: "a@b.c"})
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(7*24*time.Hour).Unix(), claims.ExpiresAt.Unix())

	stillValid := s.WithClock(func() time.Time { return issuedAt.Add(6 * 24 * time.Hour) })
	_, err = stillValid.Verify(token)
	assert.NoError(t, err)

	expired := s.WithClock(func() time.Time { return issuedAt.Add(8 * 24 * time.Hour) })
	_, err = expired.Verify(token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestTokenService_RejectsTampering(t *testing.T) {
	s := newTestTokens(t)
	token, err := s.Issue(Identity{ID: "u1", Email: "a@b.c"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = s.Verify(tampered)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestTokenService_RejectsOtherSecret(t *testing.T) {
	other, err := NewTokenService("another-secret", time.Hour, "chillspot-api")
	require.NoError(t, err)
	token, err := other.Issue(Identity{ID: "u1", Email: "a@b.c"})
	require.NoError(t, err)

	_, err = newTestTokens(t).Verify(token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestTokenService_RejectsMalformedAndUnsigned(t *testing.T) {
	s := newTestTokens(t)

	_, err := s.Verify("not.a.token")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(raw)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestTokenService_RequiresExpiry(t *testing.T) {
	s := newTestTokens(t)
	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "chillspot-api"},
	})
	raw, err := noExp.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = s.Verify(raw)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}
