package auth

import (
	"strings"
	"testing"

	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestNewHasher_RejectsCostOutOfRange(t *testing.T) {
	_, err := NewHasher(bcrypt.MinCost - 1)
	assert.Error(t, err)

	_, err = NewHasher(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestHasher_RoundTrip(t *testing.T) {
	h := newTestHasher(t)

	for _, pw := range []string{"password", "", "p@ss wörd", strings.Repeat("x", 72)} {
		digest, err := h.Hash(pw)
		require.NoError(t, err)
		assert.NotEqual(t, pw, digest)

		ok, err := h.Verify(pw, digest)
		require.NoError(t, err)
		assert.True(t, ok, "password %q", pw)
	}
}

func TestHasher_SaltsEveryDigest(t *testing.T) {
	h := newTestHasher(t)

	a, err := h.Hash("password")
	require.NoError(t, err)
	b, err := h.Hash("password")
	require.NoError(t, err)
	c, err := h.Hash("different")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHasher_WrongPasswordIsNotAnError(t *testing.T) {
	h := newTestHasher(t)
	digest, err := h.Hash("password")
	require.NoError(t, err)

	ok, err := h.Verify("Password", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_UsesConfiguredCost(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost + 1)
	require.NoError(t, err)

	digest, err := h.Hash("password")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
}

func TestHasher_Failures(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Hash(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, apperrors.ErrHashing)

	_, err = h.Verify("password", "not-a-digest")
	assert.ErrorIs(t, err, apperrors.ErrHashing)
}
