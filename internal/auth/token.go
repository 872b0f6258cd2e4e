package auth

import (
	"errors"
	"time"

	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what a token asserts about its bearer.
type Identity struct {
	ID    string
	Email string
}

// Claims is the token payload.
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenService creates a token service. The secret must not be empty.
func NewTokenService(secret string, ttl time.Duration, issuer string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock returns a copy of s that reads time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

// TTL is the lifetime given to issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for id that expires after the configured ttl.
func (s *TokenService) Issue(id Identity) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: id.ID,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperrors.NewAppError(apperrors.CodeInternalError, "failed to sign token", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
// Every failure maps to INVALID_TOKEN.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.CodeInvalidToken, apperrors.ErrInvalidToken.Message, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}
