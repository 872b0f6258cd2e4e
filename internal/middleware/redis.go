package middleware

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewRedisClient connects to the Redis instance that backs rate limiting and
// idempotency. The password is expected to be resolved already.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *logrus.Logger) (redis.UniversalClient, error) {
	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		tlsConfig = &tls.Config{
			ServerName: extractHostname(cfg.Address),
			MinVersion: tls.VersionTLS12,
		}
		logger.WithField("address", cfg.Address).Info("Redis TLS encryption enabled")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.Address},
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,

		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnMaxLifetime: cfg.MaxConnAge,

		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,

		TLSConfig: tlsConfig,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"db":      cfg.Database,
	}).Info("Connected to Redis")

	return client, nil
}

// RedisHealthCheck returns a health check that pings Redis. A nil client is healthy.
func RedisHealthCheck(redisClient redis.UniversalClient, logger *logrus.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		if redisClient == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		start := time.Now()
		err := redisClient.Ping(ctx).Err()
		metrics.RecordRedisOperation("ping", redisStatus(err), time.Since(start))
		if err != nil {
			logger.WithError(err).Error("Redis health check failed")
			return fmt.Errorf("redis unavailable: %w", err)
		}

		return nil
	}
}

func redisStatus(err error) string {
	switch {
	case err == nil || err == redis.Nil:
		return "success"
	case err == ErrCircuitOpen:
		return "rejected"
	default:
		return "error"
	}
}

// extractHostname extracts hostname from address (host:port -> host)
func extractHostname(address string) string {
	if idx := strings.LastIndex(address, ":"); idx != -1 {
		return address[:idx]
	}
	return address
}
