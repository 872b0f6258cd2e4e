package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/chillspot/chillspot-api/docs" // Swagger docs
	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/images"
	"github.com/chillspot/chillspot-api/internal/logging"
	"github.com/chillspot/chillspot-api/internal/metrics"
	"github.com/chillspot/chillspot-api/internal/middleware"
	"github.com/chillspot/chillspot-api/internal/repository"
	"github.com/chillspot/chillspot-api/internal/routes"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// @title Chillspot API
// @version 1.0
// @description Story sharing backend: accounts, stories, comments, follows and image uploads

// @contact.name API Support
// @contact.email support@chillspot.dev

// @host localhost:8000
// @BasePath /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logging.New(cfg)

	ctx := context.Background()

	// Pull secrets before anything uses them
	if err := config.ResolveSecrets(ctx, cfg, config.AWSSecretFetcher(cfg.AWS), logger); err != nil {
		logger.WithError(err).Fatal("Failed to resolve secrets")
	}

	// Initialize metrics
	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	// Initialize tracing
	tracingShutdown, err := middleware.InitTracing(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	// Set global text map propagator for distributed tracing
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Document store
	repos, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open document store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := repos.Close(closeCtx); err != nil {
			logger.WithError(err).Error("Failed to close document store")
		}
	}()

	// Accounts
	hasher, err := auth.NewHasher(cfg.Hashing.Cost)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create password hasher")
	}
	tokens, err := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL, cfg.JWT.Issuer)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create token service")
	}
	authService := auth.NewService(repos.Users, hasher, tokens)

	// Initialize middleware manager
	middlewareManager, err := middleware.NewManager(ctx, cfg, tokens, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer middlewareManager.Close()

	// Image bucket
	imageStore, err := images.New(ctx, &cfg.S3, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize image storage")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Chillspot API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: routes.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Requested-With,Idempotency-Key,X-Request-ID",
		MaxAge:       86400,
	}))
	// OTEL use
	app.Use(otelfiber.Middleware())

	// pprof is only mounted for local profiling (/debug/pprof/)
	if cfg.IsDevelopment() {
		app.Use(pprof.New())
	}

	// Setup routes
	routes.Setup(app, routes.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Middleware: middlewareManager,
		Repos:      repos,
		Auth:       authService,
		Images:     imageStore,
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logger.WithFields(logrus.Fields{
		"port":  cfg.Server.Port,
		"store": cfg.Store.Driver,
	}).Info("Starting Chillspot API server")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
