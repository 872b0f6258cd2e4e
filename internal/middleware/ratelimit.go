package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/metrics"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Token bucket kept in a Redis hash, refilled from the server clock.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local tokens = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local current_tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or 0

local now = redis.call("TIME")
local now_ms = now[1] * 1000 + math.floor(now[2] / 1000)

if last_refill > 0 then
    local elapsed = now_ms - last_refill
    local tokens_to_add = math.floor(elapsed / interval_ms * tokens)
    current_tokens = math.min(capacity, current_tokens + tokens_to_add)
end

local allowed = 0
if current_tokens >= requested then
    current_tokens = current_tokens - requested
    allowed = 1
end

redis.call("HMSET", key, "tokens", current_tokens, "last_refill", now_ms)
redis.call("EXPIRE", key, 3600)

return {allowed, current_tokens, capacity}`)

// RateDecision is the outcome of one limiter check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}

// RedisLimiter is a token bucket limiter shared by all replicas.
type RedisLimiter struct {
	client  redis.UniversalClient
	breaker *CircuitBreaker
	config  *config.RateLimitConfig
}

func NewRedisLimiter(client redis.UniversalClient, breaker *CircuitBreaker, cfg *config.RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, breaker: breaker, config: cfg}
}

// Allow takes one token from the bucket at key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	var result interface{}
	start := time.Now()
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = tokenBucket.Run(ctx, l.client, []string{key},
			l.config.Burst, l.config.RPS, l.config.WindowSize.Milliseconds(), 1).Result()
		return err
	})
	metrics.RecordRedisOperation("ratelimit", redisStatus(err), time.Since(start))
	if err != nil {
		return RateDecision{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return RateDecision{}, fmt.Errorf("unexpected script result format")
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return RateDecision{}, fmt.Errorf("failed to parse allowed result")
	}
	remaining, ok := values[1].(int64)
	if !ok {
		return RateDecision{}, fmt.Errorf("failed to parse remaining result")
	}

	return RateDecision{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetAt:   time.Now().Add(l.config.WindowSize).Truncate(time.Second),
	}, nil
}

type RateLimitMiddleware struct {
	config  *config.RateLimitConfig
	limiter Limiter
	logger  *logrus.Logger
}

// NewRateLimitMiddleware creates the middleware. A nil limiter disables it.
func NewRateLimitMiddleware(cfg *config.RateLimitConfig, limiter Limiter, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Handle rate limiting middleware
func (r *RateLimitMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !r.config.Enabled || r.limiter == nil {
			return c.Next()
		}

		path := c.Path()
		for _, exemptPath := range r.config.ExemptPaths {
			if strings.HasPrefix(path, exemptPath) {
				return c.Next()
			}
		}

		key, keyType := r.generateKey(c)

		decision, err := r.limiter.Allow(c.UserContext(), key)
		if err != nil {
			// Fail open so a Redis outage does not take the API down.
			r.logger.WithError(err).Warn("Rate limit check failed")
			return c.Next()
		}

		r.setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			r.logger.WithFields(logrus.Fields{
				"key":     key,
				"path":    path,
				"method":  c.Method(),
				"user_id": GetUserID(c),
			}).Warn("Rate limit exceeded")
			metrics.RecordRateLimitDrop(keyType)

			return apperrors.NewAppError(apperrors.CodeRateLimited, "Rate limit exceeded. Please try again later.", nil)
		}

		return c.Next()
	}
}

// generateKey keys the bucket by user when authenticated, by client IP otherwise.
func (r *RateLimitMiddleware) generateKey(c *fiber.Ctx) (string, string) {
	if userID := GetUserID(c); userID != "" {
		return "ratelimit:user:" + userID, "user"
	}
	return "ratelimit:ip:" + getClientIP(c), "ip"
}

// getClientIP extracts the real client IP
func getClientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return c.IP()
}

// setRateLimitHeaders sets standard rate limit headers
func (r *RateLimitMiddleware) setRateLimitHeaders(c *fiber.Ctx, d RateDecision) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(r.config.RPS))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	c.Set("X-RateLimit-Window", r.config.WindowSize.String())

	if !d.Allowed {
		retryAfter := int(time.Until(d.ResetAt).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
	}
}
