package middleware

import (
	"context"
	"fmt"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Manager holds all middleware instances
type Manager struct {
	Auth        *AuthMiddleware
	Idempotency *IdempotencyMiddleware
	RateLimit   *RateLimitMiddleware
	ErrorLogger *ErrorLoggerMiddleware
	Breaker     *CircuitBreaker
	RedisClient redis.UniversalClient
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager connects to Redis when it is enabled and builds every middleware.
// Without Redis, rate limiting and response replay are switched off.
func NewManager(ctx context.Context, cfg *config.Config, tokens *auth.TokenService, logger *logrus.Logger) (*Manager, error) {
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := NewRedisClient(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		redisClient = client
	} else {
		logger.Info("Redis is disabled; rate limiting and idempotent replay are off")
	}

	return NewManagerWithClient(cfg, tokens, redisClient, logger), nil
}

// NewManagerWithClient builds the middleware around an existing client, which
// may be nil.
func NewManagerWithClient(cfg *config.Config, tokens *auth.TokenService, redisClient redis.UniversalClient, logger *logrus.Logger) *Manager {
	breaker := NewCircuitBreaker("redis", logger)

	var (
		limiter Limiter
		records IdempotencyStore
	)
	if redisClient != nil {
		limiter = NewRedisLimiter(redisClient, breaker, &cfg.RateLimit)
		records = NewRedisIdempotencyStore(redisClient, breaker)
	}

	return &Manager{
		Auth:        NewAuthMiddleware(tokens, logger),
		Idempotency: NewIdempotencyMiddleware(records, &cfg.Idempotency, logger),
		RateLimit:   NewRateLimitMiddleware(&cfg.RateLimit, limiter, logger),
		ErrorLogger: NewErrorLoggerMiddleware(logger),
		Breaker:     breaker,
		RedisClient: redisClient,
		Config:      cfg,
		Logger:      logger,
	}
}

// HealthCheck pings Redis when it is configured.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return RedisHealthCheck(m.RedisClient, m.Logger)(ctx)
}

// Close closes all middleware resources
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
