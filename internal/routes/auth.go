package routes

import (
	"strings"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/images"
	"github.com/chillspot/chillspot-api/internal/metrics"
	"github.com/chillspot/chillspot-api/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth    *auth.Service
	avatars []string
	logger  *logrus.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service, avatars []string, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		auth:    authService,
		avatars: avatars,
		logger:  logger,
	}
}

// Login handles user login
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.Response{data=models.AuthResponse}
// @Failure 401 {object} errors.ErrorResponse "Invalid credentials"
// @Failure 412 {object} errors.ErrorResponse "Missing fields"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	session, err := h.auth.Login(c.UserContext(), strings.TrimSpace(req.Email), req.Password)
	metrics.RecordAuthEvent("login", err)
	if err != nil {
		h.logger.WithError(err).Debug("Login rejected")
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  session.User.ID.Hex(),
		"username": session.User.Username,
	}).Info("User logged in successfully")

	return respond(c, fiber.StatusOK, "login successful.", models.AuthResponse{
		User:  session.User,
		Token: session.Token,
	})
}

// Signup handles user registration
// @Summary User registration
// @Description Register a new user; the username is derived from the name
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body models.SignupRequest true "Registration data"
// @Success 201 {object} models.Response{data=models.AuthResponse}
// @Failure 409 {object} errors.ErrorResponse "Email already exists"
// @Failure 412 {object} errors.ErrorResponse "Missing fields"
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req models.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return errInvalidBody
	}

	session, err := h.auth.Signup(c.UserContext(), auth.SignupInput{
		Firstname: strings.TrimSpace(req.Firstname),
		Lastname:  strings.TrimSpace(req.Lastname),
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		Avatar:    images.RandomAvatar(h.avatars),
	})
	metrics.RecordAuthEvent("signup", err)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  session.User.ID.Hex(),
		"username": session.User.Username,
	}).Info("User registered successfully")

	return respond(c, fiber.StatusCreated, "resource created", models.AuthResponse{
		User:  session.User,
		Token: session.Token,
	})
}
