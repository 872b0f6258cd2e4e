package config

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Hashing.Cost)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, DevelopmentSecret, cfg.JWT.Secret)
	assert.Equal(t, []string{"/healthz", "/readyz", "/metrics"}, cfg.RateLimit.ExemptPaths)
	assert.Len(t, cfg.Images.DefaultAvatars, 4)
	assert.True(t, cfg.IsDevelopment())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("HASHING_COST", "12")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("RATE_LIMIT_EXEMPT_PATHS", " /healthz , /version ")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, 12, cfg.Hashing.Cost)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, []string{"/healthz", "/version"}, cfg.RateLimit.ExemptPaths)
}

func TestFromEnv_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":          {"SERVER_PORT": "70000"},
		"unknown driver":    {"STORE_DRIVER": "postgres"},
		"cost too low":      {"HASHING_COST": "2"},
		"cost too high":     {"HASHING_COST": "40"},
		"sample rate":       {"OBSERVABILITY_SAMPLE_RATE": "1.5"},
		"default secret":    {"SERVER_ENVIRONMENT": "production"},
		"empty secret":      {"JWT_SECRET": ""},
		"non positive ttl":  {"JWT_TTL": "0s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_ProductionWithSecret(t *testing.T) {
	t.Setenv("SERVER_ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "a-real-secret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestResolveSecrets(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		cfg := &Config{}
		called := false
		err := ResolveSecrets(ctx, cfg, func(context.Context, string) (string, error) {
			called = true
			return "", nil
		}, quietLogger())
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("json payload", func(t *testing.T) {
		cfg := &Config{}
		cfg.AWS.SecretName = "chillspot/prod"
		cfg.JWT.SecretFromSecrets = true
		cfg.Redis.PasswordFromSecrets = true

		err := ResolveSecrets(ctx, cfg, func(_ context.Context, name string) (string, error) {
			assert.Equal(t, "chillspot/prod", name)
			return `{"jwt_secret":"s3cret","redis_password":"pw"}`, nil
		}, quietLogger())
		require.NoError(t, err)
		assert.Equal(t, "s3cret", cfg.JWT.Secret)
		assert.Equal(t, "pw", cfg.Redis.Password)
	})

	t.Run("plain payload", func(t *testing.T) {
		cfg := &Config{}
		cfg.AWS.SecretName = "redis"
		cfg.Redis.PasswordFromSecrets = true

		err := ResolveSecrets(ctx, cfg, func(context.Context, string) (string, error) {
			return "plain-password", nil
		}, quietLogger())
		require.NoError(t, err)
		assert.Equal(t, "plain-password", cfg.Redis.Password)
	})

	t.Run("fetch error", func(t *testing.T) {
		cfg := &Config{}
		cfg.AWS.SecretName = "x"
		cfg.JWT.SecretFromSecrets = true
		boom := errors.New("denied")

		err := ResolveSecrets(ctx, cfg, func(context.Context, string) (string, error) {
			return "", boom
		}, quietLogger())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("missing name", func(t *testing.T) {
		cfg := &Config{}
		cfg.JWT.SecretFromSecrets = true
		assert.Error(t, ResolveSecrets(ctx, cfg, nil, quietLogger()))
	})
}
