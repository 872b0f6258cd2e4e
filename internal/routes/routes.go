package routes

import (
	"context"
	"time"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/images"
	"github.com/chillspot/chillspot-api/internal/logging"
	"github.com/chillspot/chillspot-api/internal/metrics"
	"github.com/chillspot/chillspot-api/internal/middleware"
	"github.com/chillspot/chillspot-api/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/sirupsen/logrus"
)

// Build information, set with -ldflags at release time.
var (
	Commit    = "unknown"
	BuildTime = "unknown"
)

// readinessTimeout bounds each dependency ping of /readyz.
const readinessTimeout = 2 * time.Second

// Dependencies are the services the handlers are built from.
type Dependencies struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Middleware *middleware.Manager
	Repos      *repository.Repositories
	Auth       *auth.Service
	Images     images.Store
}

// Setup configures all API routes
func Setup(app *fiber.App, deps Dependencies) {
	cfg, logger, mw := deps.Config, deps.Logger, deps.Middleware

	authHandler := NewAuthHandler(deps.Auth, cfg.Images.DefaultAvatars, logger)
	storyHandler := NewStoryHandler(deps.Repos, logger)
	userHandler := NewUserHandler(deps.Repos, deps.Auth, deps.Images, cfg.Images.DefaultAvatars, logger)
	commentHandler := NewCommentHandler(deps.Repos, logger)
	imageHandler := NewImageHandler(deps.Images, &cfg.Images, logger)

	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(deps.Repos, mw))
	app.Get("/version", versionHandler)

	// Metrics endpoint (no auth required)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	// Swagger documentation endpoint (no auth required)
	app.Get("/swagger/*", swagger.HandlerDefault)

	api := app.Group("/api/v1")
	api.Use(metrics.HTTPMetricsMiddleware())
	api.Use(mw.ErrorLogger.Handle())
	// Authentication runs first so authenticated callers are rate limited per user
	api.Use(mw.Auth.Authenticate([]string{"/api/v1/auth"}))
	api.Use(mw.RateLimit.Handle())
	api.Use(mw.Idempotency.Handle())
	api.Use(mw.Idempotency.ResponseCapture())

	// Auth routes (public)
	authRoutes := api.Group("/auth")
	authRoutes.Post("/signup", authHandler.Signup)
	authRoutes.Post("/login", authHandler.Login)

	// Everything below requires a bearer token
	protected := api.Group("")

	// Static segments are registered before /:id so they are not taken as ids
	stories := protected.Group("/stories")
	stories.Get("/feed", storyHandler.Feed)
	stories.Get("/search", storyHandler.Search)
	stories.Get("/tag", storyHandler.ByTag)
	stories.Get("/tags", storyHandler.TrendingTags)
	stories.Get("/slug", storyHandler.GetBySlug)
	stories.Post("/", storyHandler.Create)
	stories.Get("/:id", storyHandler.Get)
	stories.Get("/:id/comments", storyHandler.Comments)
	stories.Patch("/:id/like", storyHandler.Like)
	stories.Patch("/:id/unlike", storyHandler.Unlike)
	stories.Patch("/:id/save", storyHandler.Save)
	stories.Patch("/:id/unsave", storyHandler.Unsave)
	stories.Patch("/:id/archive", storyHandler.Archive)
	stories.Delete("/:id", storyHandler.Delete)

	users := protected.Group("/users")
	users.Get("/me", userHandler.Me)
	users.Get("/search", userHandler.Search)
	users.Get("/:id", userHandler.Get)
	users.Get("/:id/followers", userHandler.Followers)
	users.Get("/:id/following", userHandler.Following)
	users.Get("/:id/liked-stories", userHandler.LikedStories)
	users.Get("/:id/collection", userHandler.Collection)
	users.Get("/:id/stories", userHandler.Stories)
	users.Get("/:id/archive", userHandler.Archive)
	users.Patch("/:id/follow", userHandler.Follow)
	users.Patch("/:id/unfollow", userHandler.Unfollow)
	users.Patch("/:id/password", userHandler.ChangePassword)
	users.Patch("/:id", userHandler.UpdateProfile)
	users.Delete("/:id/avatar", userHandler.DeleteAvatar)
	users.Delete("/:id", userHandler.Delete)

	comments := protected.Group("/comments")
	comments.Get("/", commentHandler.List)
	comments.Post("/", commentHandler.Create)
	comments.Get("/:id", commentHandler.Get)
	comments.Patch("/:id", commentHandler.Edit)
	comments.Patch("/:id/like", commentHandler.Like)
	comments.Patch("/:id/unlike", commentHandler.Unlike)
	comments.Patch("/:id/dislike", commentHandler.Dislike)
	comments.Patch("/:id/undo-dislike", commentHandler.UndoDislike)
	comments.Delete("/:id", commentHandler.Delete)

	imageRoutes := protected.Group("/images")
	imageRoutes.Post("/", imageHandler.Upload)
	imageRoutes.Delete("/", imageHandler.Delete)

	// 404 handler
	app.Use(notFoundHandler)
}

// healthCheck returns the health status of the service
// @Summary Health check
// @Description Check if the service is healthy
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Router /healthz [get]
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   logging.ServiceName,
	})
}

// readinessCheck checks if the service is ready to accept traffic
// @Summary Readiness check
// @Description Check that the document store and Redis respond
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Ready"
// @Failure 503 {object} map[string]interface{} "Not ready"
// @Router /readyz [get]
func readinessCheck(repos *repository.Repositories, mw *middleware.Manager) fiber.Handler {
	notReady := func(c *fiber.Ctx, reason string, err error) error {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":    "not ready",
			"reason":    reason,
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
	}

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		if err := repos.DB.Ping(ctx); err != nil {
			return notReady(c, "store unavailable", err)
		}
		if err := mw.HealthCheck(ctx); err != nil {
			return notReady(c, "redis unavailable", err)
		}

		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   logging.ServiceName,
			"store":     repos.Driver,
		})
	}
}

// versionHandler returns version information
// @Summary Version information
// @Description Get service version and build information
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Version info"
// @Router /version [get]
func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": logging.ServiceName,
		"version": logging.Version(),
		"commit":  Commit,
		"built":   BuildTime,
	})
}
