package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chillspot/chillspot-api/internal/auth"
	"github.com/chillspot/chillspot-api/internal/config"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestApp renders AppErrors the way the API does.
func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if appErr, ok := apperrors.As(err); ok {
				return c.Status(appErr.HTTPStatus()).JSON(appErr.ToErrorResponse(""))
			}
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		},
	})
}

func decodeError(t *testing.T, body io.Reader) apperrors.ErrorResponse {
	t.Helper()
	var out apperrors.ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("redis", quietLogger())
	cb.now = func() time.Time { return now }

	ctx := context.Background()
	boom := errors.New("connection refused")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	now = now.Add(11 * time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, ok))
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "CLOSED", cb.GetStats()["state"])
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("redis", quietLogger())
	ctx := context.Background()
	boom := errors.New("timeout")

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return boom })
	}
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	_ = cb.Execute(ctx, func(context.Context) error { return boom })

	assert.Equal(t, StateClosed, cb.GetState())
}

func newAuthApp(t *testing.T) (*fiber.App, *auth.TokenService) {
	t.Helper()
	tokens, err := auth.NewTokenService("secret", time.Hour, "chillspot-api")
	require.NoError(t, err)

	app := newTestApp()
	app.Use(NewAuthMiddleware(tokens, quietLogger()).Authenticate([]string{"/public"}))
	app.Get("/public", func(c *fiber.Ctx) error { return c.SendString("open") })
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": GetUserID(c), "email": GetEmail(c), "sub": GetUserClaims(c).Subject})
	})
	return app, tokens
}

func TestAuthenticate(t *testing.T) {
	app, tokens := newAuthApp(t)
	token, err := tokens.Issue(auth.Identity{ID: "u1", Email: "jonny@example.com"})
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "u1", body["id"])
		assert.Equal(t, "jonny@example.com", body["email"])
		assert.Equal(t, "u1", body["sub"])
	})

	t.Run("exempt path", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/public", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	rejected := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + token,
		"empty token":    "Bearer ",
		"garbage":        "Bearer not-a-token",
	}
	for name, header := range rejected {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set(fiber.HeaderAuthorization, header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, apperrors.CodeInvalidToken, decodeError(t, resp.Body).Code)
		})
	}
}

func TestBearerToken_CaseInsensitiveScheme(t *testing.T) {
	token, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)
}

type fakeLimiter struct {
	decision RateDecision
	err      error
	keys     []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (RateDecision, error) {
	f.keys = append(f.keys, key)
	return f.decision, f.err
}

func rateLimitConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		RPS:         5,
		Burst:       10,
		WindowSize:  time.Second,
		Enabled:     true,
		ExemptPaths: []string{"/healthz"},
	}
}

func TestRateLimit(t *testing.T) {
	newApp := func(l Limiter) *fiber.App {
		app := newTestApp()
		app.Use(NewRateLimitMiddleware(rateLimitConfig(), l, quietLogger()).Handle())
		app.Get("/*", func(c *fiber.Ctx) error { return c.SendString("ok") })
		return app
	}

	t.Run("denied", func(t *testing.T) {
		limiter := &fakeLimiter{decision: RateDecision{Allowed: false, ResetAt: time.Now().Add(time.Second)}}
		req := httptest.NewRequest(fiber.MethodGet, "/stories", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

		resp, err := newApp(limiter).Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
		assert.Equal(t, apperrors.CodeRateLimited, decodeError(t, resp.Body).Code)
		assert.Equal(t, []string{"ratelimit:ip:10.0.0.1"}, limiter.keys)
	})

	t.Run("allowed", func(t *testing.T) {
		limiter := &fakeLimiter{decision: RateDecision{Allowed: true, Remaining: 9, ResetAt: time.Now()}}
		resp, err := newApp(limiter).Test(httptest.NewRequest(fiber.MethodGet, "/stories", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		limiter := &fakeLimiter{err: ErrCircuitOpen}
		resp, err := newApp(limiter).Test(httptest.NewRequest(fiber.MethodGet, "/stories", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("exempt path", func(t *testing.T) {
		limiter := &fakeLimiter{}
		resp, err := newApp(limiter).Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Empty(t, limiter.keys)
	})

	t.Run("no limiter", func(t *testing.T) {
		resp, err := newApp(nil).Test(httptest.NewRequest(fiber.MethodGet, "/stories", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})
}

type memoryIdempotencyStore struct {
	mu           sync.Mutex
	fingerprints map[string]string
	records      map[string]*IdempotencyRecord
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{
		fingerprints: map[string]string{},
		records:      map[string]*IdempotencyRecord{},
	}
}

func (m *memoryIdempotencyStore) Fingerprint(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.fingerprints[key]; ok {
		return f, nil
	}
	return "", ErrRecordNotFound
}

func (m *memoryIdempotencyStore) Record(_ context.Context, key string) (*IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[key]; ok {
		return r, nil
	}
	return nil, ErrRecordNotFound
}

func (m *memoryIdempotencyStore) SaveFingerprint(_ context.Context, key, fingerprint string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[key] = fingerprint
	return nil
}

func (m *memoryIdempotencyStore) SaveRecord(_ context.Context, key string, record *IdempotencyRecord, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = record
	return nil
}

func newIdempotencyApp(store IdempotencyStore, required bool) (*fiber.App, *int) {
	calls := 0
	mw := NewIdempotencyMiddleware(store, &config.IdempotencyConfig{Required: required, TTL: time.Minute}, quietLogger())

	app := newTestApp()
	app.Use(mw.Handle())
	app.Use(mw.ResponseCapture())
	app.Post("/stories", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"n": calls})
	})
	app.Get("/stories", func(c *fiber.Ctx) error { return c.SendString("list") })
	return app, &calls
}

func TestIdempotency_Replay(t *testing.T) {
	app, calls := newIdempotencyApp(newMemoryIdempotencyStore(), false)
	key := uuid.NewString()

	send := func(body string) (int, string, string) {
		req := httptest.NewRequest(fiber.MethodPost, "/stories", strings.NewReader(body))
		req.Header.Set(HeaderIdempotencyKey, key)
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(data), resp.Header.Get(HeaderIdempotencyCached)
	}

	status, body, cached := send(`{"title":"a"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.JSONEq(t, `{"n":1}`, body)
	assert.Empty(t, cached)

	status, body, cached = send(`{"title":"a"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.JSONEq(t, `{"n":1}`, body)
	assert.Equal(t, "true", cached)
	assert.Equal(t, 1, *calls)

	status, _, _ = send(`{"title":"b"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, 1, *calls)
}

func TestIdempotency_KeyValidation(t *testing.T) {
	t.Run("optional key", func(t *testing.T) {
		app, calls := newIdempotencyApp(newMemoryIdempotencyStore(), false)
		for i := 0; i < 2; i++ {
			resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/stories", nil))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		}
		assert.Equal(t, 2, *calls)
	})

	t.Run("required key", func(t *testing.T) {
		app, _ := newIdempotencyApp(newMemoryIdempotencyStore(), true)
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/stories", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/stories", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("malformed key", func(t *testing.T) {
		app, _ := newIdempotencyApp(newMemoryIdempotencyStore(), false)
		req := httptest.NewRequest(fiber.MethodPost, "/stories", nil)
		req.Header.Set(HeaderIdempotencyKey, "not-a-uuid")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no store", func(t *testing.T) {
		app, calls := newIdempotencyApp(nil, false)
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(fiber.MethodPost, "/stories", nil)
			req.Header.Set(HeaderIdempotencyKey, "0b9c3c4e-8d0c-4a7e-9a55-1d2f3c4b5a69")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
		}
		assert.Equal(t, 2, *calls)
	})
}

func TestErrorLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	app := newTestApp()
	app.Use(NewErrorLoggerMiddleware(logger).Handle())
	app.Post("/api/v1/auth/login", func(c *fiber.Ctx) error { return apperrors.ErrInvalidCredentials })
	app.Post("/api/v1/stories", func(c *fiber.Ctx) error { return apperrors.ErrMissingParameter })
	app.Get("/api/v1/boom", func(c *fiber.Ctx) error { return errors.New("kaput") })

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"password":"hunter2"}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.Contains(t, buf.String(), `"level":"warning"`)

	buf.Reset()
	req = httptest.NewRequest(fiber.MethodPost, "/api/v1/stories", strings.NewReader(`{"title":"x"}`))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusPreconditionFailed, resp.StatusCode)
	assert.Contains(t, buf.String(), `{\"title\":\"x\"}`)

	buf.Reset()
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestErrorLogger_RedactedPaths(t *testing.T) {
	e := NewErrorLoggerMiddleware(quietLogger())
	assert.True(t, e.redacted("/api/v1/auth/signup"))
	assert.True(t, e.redacted("/api/v1/users/65f0c0ffee0000000000abcd/password"))
	assert.True(t, e.redacted("/api/v1/users/65f0c0ffee0000000000abcd"))
	assert.False(t, e.redacted("/api/v1/users/65f0c0ffee0000000000abcd/follow"))
	assert.False(t, e.redacted("/api/v1/stories"))
}

func TestManager_WithoutRedis(t *testing.T) {
	tokens, err := auth.NewTokenService("secret", time.Hour, "")
	require.NoError(t, err)

	cfg := &config.Config{}
	m := NewManagerWithClient(cfg, tokens, nil, quietLogger())

	assert.NoError(t, m.HealthCheck(context.Background()))
	assert.NoError(t, m.Close())
	assert.Nil(t, m.RateLimit.limiter)
	assert.Nil(t, m.Idempotency.store)
}
