package auth

import (
	"context"
	"fmt"

	"github.com/chillspot/chillspot-api/internal/models"
	"github.com/chillspot/chillspot-api/internal/store"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"
)

// SignupInput carries a new account's details.
type SignupInput struct {
	Firstname string
	Lastname  string
	Email     string
	Password  string
	Avatar    models.Image
}

// Session is a user together with a freshly issued token.
type Session struct {
	User  *models.User
	Token string
}

// Service runs the account flows over the user repository.
type Service struct {
	users     *store.Repository[models.User]
	hasher    *Hasher
	tokens    *TokenService
	usernames *UsernameAllocator
}

// NewService wires the auth flows.
func NewService(users *store.Repository[models.User], hasher *Hasher, tokens *TokenService) *Service {
	return &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		usernames: NewUsernameAllocator(users),
	}
}

// Tokens exposes the token service for request authentication.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Hasher exposes the password hasher.
func (s *Service) Hasher() *Hasher { return s.hasher }

// Signup creates an account and signs the new user in.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	if in.Firstname == "" || in.Lastname == "" || in.Email == "" || in.Password == "" {
		return nil, apperrors.NewAppError(apperrors.CodeMissingParameter, "missing/malformed field(s) in request body", nil)
	}

	existing, err := s.users.FindOne(ctx, store.Eq("email", in.Email), store.FindOptions{Projection: store.Include("_id")})
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return nil, apperrors.ErrConflict
	}

	username, err := s.usernames.Allocate(ctx, in.Firstname, in.Lastname)
	if err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, models.NewUser(in.Firstname, in.Lastname, username, in.Email, digest, in.Avatar))
	if err != nil {
		if store.IsDuplicateKey(err) {
			return nil, apperrors.NewAppError(apperrors.CodeConflict, apperrors.ErrConflict.Message, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.session(user)
}

// Login checks credentials and issues a token. Unknown email and wrong
// password fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.NewAppError(apperrors.CodeMissingParameter, "missing/malformed field(s) in request body", nil)
	}

	user, err := s.users.FindOne(ctx, store.Eq("email", email), store.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if user == nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.Hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrInvalidCredentials
	}

	return s.session(user)
}

// Authenticate re-checks the password of an already identified user.
func (s *Service) Authenticate(ctx context.Context, userID, password string) (*models.User, error) {
	if password == "" {
		return nil, apperrors.NewAppError(apperrors.CodeMissingParameter, "password is required", nil)
	}

	user, err := s.users.FindByID(ctx, userID, store.FindOptions{})
	if err != nil {
		if store.IsInvalidID(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, apperrors.ErrNotFound
	}

	ok, err := s.hasher.Verify(password, user.Hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrInvalidCredentials
	}
	user.Hash = ""
	return user, nil
}

// ChangePassword replaces the digest after verifying the current password.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperrors.NewAppError(apperrors.CodeMissingParameter, "oldPassword and password are required", nil)
	}

	user, err := s.Authenticate(ctx, userID, oldPassword)
	if err != nil {
		return err
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	updated, err := s.users.UpdateOne(ctx, store.Eq("_id", user.ID), store.NewUpdate().Set("hash", digest),
		store.UpdateOptions{Projection: store.Include("_id")})
	if err != nil {
		return fmt.Errorf("update hash: %w", err)
	}
	if updated == nil {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *Service) session(user *models.User) (*Session, error) {
	token, err := s.tokens.Issue(Identity{ID: user.ID.Hex(), Email: user.Email})
	if err != nil {
		return nil, err
	}
	user.Hash = ""
	return &Session{User: user, Token: token}, nil
}
