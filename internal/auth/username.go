package auth

import (
	"context"
	"fmt"

	"github.com/chillspot/chillspot-api/internal/store"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"
)

// UserCounter counts users matching a condition.
type UserCounter interface {
	Count(ctx context.Context, cond store.Condition) (int64, error)
}

// UsernameAllocator derives a handle from a person's name.
//
// The handle is "first-last" for the first holder of a name and
// "first-last-N" once N users already share it. Two concurrent signups for
// the same name can compute the same handle, and deleting a user can make a
// later signup reuse an existing suffix. The unique index on username turns
// both cases into a CONFLICT at insert time.
type UsernameAllocator struct {
	users UserCounter
}

// NewUsernameAllocator creates an allocator over users.
func NewUsernameAllocator(users UserCounter) *UsernameAllocator {
	return &UsernameAllocator{users: users}
}

// Allocate returns the handle for firstname and lastname.
func (a *UsernameAllocator) Allocate(ctx context.Context, firstname, lastname string) (string, error) {
	if firstname == "" || lastname == "" {
		return "", apperrors.NewAppError(apperrors.CodeMissingParameter, "firstname and lastname are required", nil)
	}

	n, err := a.users.Count(ctx, store.And(
		store.Eq("firstname", firstname),
		store.Eq("lastname", lastname),
	))
	if err != nil {
		return "", fmt.Errorf("count users named %s %s: %w", firstname, lastname, err)
	}

	base := firstname + "-" + lastname
	if n == 0 {
		return base, nil
	}
	return fmt.Sprintf("%s-%d", base, n), nil
}
