package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"
	"github.com/chillspot/chillspot-api/internal/store/memory"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCounter struct{ err error }

func (f failingCounter) Count(context.Context, store.Condition) (int64, error) { return 0, f.err }

func seedNamesakes(t *testing.T, users *store.Repository[models.User], n int, first, last string) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := users.Create(context.Background(), models.NewUser(first, last, "", "", "", models.Image{}))
		require.NoError(t, err)
	}
}

func TestUsernameAllocator_Allocate(t *testing.T) {
	cases := []struct {
		name     string
		existing int
		want     string
	}{
		{name: "no namesakes", existing: 0, want: "Derek-Thompson"},
		{name: "one namesake", existing: 1, want: "Derek-Thompson-1"},
		{name: "two namesakes", existing: 2, want: "Derek-Thompson-2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := store.NewRepository[models.User](memory.New().Collection("users"))
			seedNamesakes(t, users, tc.existing, "Derek", "Thompson")
			seedNamesakes(t, users, 3, "Derek", "Other")

			got, err := NewUsernameAllocator(users).Allocate(context.Background(), "Derek", "Thompson")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUsernameAllocator_MatchesNamesExactly(t *testing.T) {
	users := store.NewRepository[models.User](memory.New().Collection("users"))
	seedNamesakes(t, users, 2, "derek", "thompson")

	got, err := NewUsernameAllocator(users).Allocate(context.Background(), "Derek", "Thompson")
	require.NoError(t, err)
	assert.Equal(t, "Derek-Thompson", got)
}

func TestUsernameAllocator_MissingParts(t *testing.T) {
	a := NewUsernameAllocator(failingCounter{})

	for _, names := range [][2]string{{"", "Thompson"}, {"Derek", ""}, {"", ""}} {
		_, err := a.Allocate(context.Background(), names[0], names[1])
		assert.ErrorIs(t, err, apperrors.ErrMissingParameter)
	}
}

func TestUsernameAllocator_PropagatesStorageErrors(t *testing.T) {
	boom := errors.New("connection refused")

	_, err := NewUsernameAllocator(failingCounter{err: boom}).Allocate(context.Background(), "Derek", "Thompson")
	assert.ErrorIs(t, err, boom)
}
