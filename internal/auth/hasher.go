// Package auth holds credential hashing, bearer token handling and the
// signup/login flows built on them.
package auth

import (
	"errors"
	"fmt"

	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks bcrypt password digests.
type Hasher struct {
	cost int
}

// NewHasher returns a hasher using the given bcrypt cost.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a salted digest of plaintext. Each call uses a fresh salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", apperrors.NewAppError(apperrors.CodeHashing, "failed to hash password", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A mismatch is not an
// error; a digest that cannot be parsed is.
func (h *Hasher) Verify(plaintext, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, apperrors.NewAppError(apperrors.CodeHashing, "failed to verify password", err)
	}
}
