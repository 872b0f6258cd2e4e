package middleware

import (
	"strings"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/metrics"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	localUserID = "user_id"
	localEmail  = "email"
	localClaims = "user_claims"
)

type AuthMiddleware struct {
	tokens *auth.TokenService
	logger *logrus.Logger
}

func NewAuthMiddleware(tokens *auth.TokenService, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// Authenticate requires a valid bearer token on every path not listed in
// exemptPaths and stores the caller's identity in the request locals.
func (a *AuthMiddleware) Authenticate(exemptPaths []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, exemptPath := range exemptPaths {
			if strings.HasPrefix(path, exemptPath) {
				return c.Next()
			}
		}

		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			metrics.RecordAuthEvent("verify", apperrors.ErrInvalidToken)
			return apperrors.ErrInvalidToken
		}

		claims, err := a.tokens.Verify(tokenString)
		if err != nil {
			a.logger.WithError(err).WithField("path", path).Debug("Token validation failed")
			metrics.RecordAuthEvent("verify", err)
			return err
		}
		metrics.RecordAuthEvent("verify", nil)

		c.Locals(localClaims, claims)
		c.Locals(localUserID, claims.UserID)
		c.Locals(localEmail, claims.Email)

		return c.Next()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	const bearerPrefix = "Bearer "
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// GetEmail extracts the caller's email from context
func GetEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals(localEmail).(string); ok {
		return email
	}
	return ""
}

// GetUserClaims extracts user claims from context
func GetUserClaims(c *fiber.Ctx) *auth.Claims {
	if claims, ok := c.Locals(localClaims).(*auth.Claims); ok {
		return claims
	}
	return nil
}
