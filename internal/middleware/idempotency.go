package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/metrics"
	apperrors "github.com/chillspot/chillspot-api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderIdempotencyCached = "X-Idempotency-Cached"

	localIdempotencyKey = "idempotency_key"
)

// ErrRecordNotFound is returned by an IdempotencyStore on a miss.
var ErrRecordNotFound = errors.New("idempotency record not found")

type IdempotencyRecord struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
}

// IdempotencyStore persists request fingerprints and captured responses.
type IdempotencyStore interface {
	Fingerprint(ctx context.Context, key string) (string, error)
	Record(ctx context.Context, key string) (*IdempotencyRecord, error)
	SaveFingerprint(ctx context.Context, key, fingerprint string, ttl time.Duration) error
	SaveRecord(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error
}

// RedisIdempotencyStore keeps records under "idempotency:{key}".
type RedisIdempotencyStore struct {
	client  redis.UniversalClient
	breaker *CircuitBreaker
}

func NewRedisIdempotencyStore(client redis.UniversalClient, breaker *CircuitBreaker) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, breaker: breaker}
}

func (s *RedisIdempotencyStore) get(ctx context.Context, key string) (string, error) {
	var value string
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		value, err = s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		return err
	})
	metrics.RecordRedisOperation("idempotency_get", redisStatus(err), time.Since(start))
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", ErrRecordNotFound
	}
	return value, nil
}

func (s *RedisIdempotencyStore) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
	metrics.RecordRedisOperation("idempotency_set", redisStatus(err), time.Since(start))
	return err
}

func (s *RedisIdempotencyStore) Fingerprint(ctx context.Context, key string) (string, error) {
	return s.get(ctx, "idempotency:"+key+":fingerprint")
}

func (s *RedisIdempotencyStore) Record(ctx context.Context, key string) (*IdempotencyRecord, error) {
	data, err := s.get(ctx, "idempotency:"+key)
	if err != nil {
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

func (s *RedisIdempotencyStore) SaveFingerprint(ctx context.Context, key, fingerprint string, ttl time.Duration) error {
	return s.set(ctx, "idempotency:"+key+":fingerprint", fingerprint, ttl)
}

func (s *RedisIdempotencyStore) SaveRecord(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	return s.set(ctx, "idempotency:"+key, data, ttl)
}

type IdempotencyMiddleware struct {
	store  IdempotencyStore
	config *config.IdempotencyConfig
	logger *logrus.Logger
}

// NewIdempotencyMiddleware creates the middleware. A nil store disables replay
// but a required key is still enforced.
func NewIdempotencyMiddleware(store IdempotencyStore, cfg *config.IdempotencyConfig, logger *logrus.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Handle replays the stored response for a repeated POST or PATCH carrying
// the same Idempotency-Key, and rejects a reused key with a different body.
func (i *IdempotencyMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := c.Method()
		if isIdempotentMethod(method) {
			return c.Next()
		}

		idempotencyKey := c.Get(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			if i.config.Required {
				return apperrors.NewAppError(apperrors.CodeBadRequest, "Idempotency-Key header is required for "+method+" requests", nil)
			}
			return c.Next()
		}

		if _, err := uuid.Parse(idempotencyKey); err != nil {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "Idempotency-Key must be a valid UUID", err)
		}

		if i.store == nil {
			return c.Next()
		}

		ctx := c.UserContext()
		fingerprint := i.generateFingerprint(c)

		existing, err := i.store.Record(ctx, idempotencyKey)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			i.logger.WithError(err).Warn("Failed to get idempotency record")
		}

		if existing != nil {
			stored, err := i.store.Fingerprint(ctx, idempotencyKey)
			if err != nil && !errors.Is(err, ErrRecordNotFound) {
				i.logger.WithError(err).Warn("Failed to get fingerprint")
			}
			if stored != "" && stored != fingerprint {
				metrics.RecordIdempotencyHit("conflict")
				return apperrors.NewAppError(apperrors.CodeIdempotencyConflict, "Request body differs from original request with same Idempotency-Key", nil)
			}

			metrics.RecordIdempotencyHit("replay")
			return i.returnCachedResponse(c, existing)
		}

		if err := i.store.SaveFingerprint(ctx, idempotencyKey, fingerprint, i.config.TTL); err != nil {
			i.logger.WithError(err).Warn("Failed to store fingerprint")
		}
		metrics.RecordIdempotencyHit("miss")

		c.Locals(localIdempotencyKey, idempotencyKey)
		return c.Next()
	}
}

// ResponseCapture caches successful responses of requests accepted by Handle.
func (i *IdempotencyMiddleware) ResponseCapture() fiber.Handler {
	return func(c *fiber.Ctx) error {
		idempotencyKey, ok := c.Locals(localIdempotencyKey).(string)
		if !ok || i.store == nil {
			return c.Next()
		}

		err := c.Next()

		statusCode := c.Response().StatusCode()
		if err != nil || statusCode < 200 || statusCode >= 300 {
			return err
		}

		record := IdempotencyRecord{
			StatusCode: statusCode,
			Headers:    make(map[string]string),
			Body:       string(c.Response().Body()),
			CreatedAt:  time.Now().UTC(),
		}
		c.Response().Header.VisitAll(func(key, value []byte) {
			if shouldCacheHeader(string(key)) {
				record.Headers[string(key)] = string(value)
			}
		})

		if err := i.store.SaveRecord(c.UserContext(), idempotencyKey, &record, i.config.TTL); err != nil {
			i.logger.WithError(err).WithField("idempotency_key", idempotencyKey).Warn("Failed to store idempotency record")
		} else {
			i.logger.WithFields(logrus.Fields{
				"idempotency_key": idempotencyKey,
				"status_code":     statusCode,
			}).Debug("Stored idempotency record")
		}

		return nil
	}
}

// generateFingerprint hashes method, path, query, body and caller
func (i *IdempotencyMiddleware) generateFingerprint(c *fiber.Ctx) string {
	h := sha256.New()

	h.Write([]byte(c.Method()))
	h.Write([]byte(":"))
	h.Write([]byte(c.Path()))
	h.Write([]byte(":"))
	h.Write(c.Request().URI().QueryString())
	h.Write([]byte(":"))
	h.Write(c.Body())
	h.Write([]byte(":"))
	h.Write([]byte(c.Get(fiber.HeaderAuthorization)))

	return hex.EncodeToString(h.Sum(nil))
}

// returnCachedResponse returns a previously cached response
func (i *IdempotencyMiddleware) returnCachedResponse(c *fiber.Ctx, record *IdempotencyRecord) error {
	for key, value := range record.Headers {
		c.Set(key, value)
	}
	c.Set(HeaderIdempotencyCached, "true")

	return c.Status(record.StatusCode).SendString(record.Body)
}

// shouldCacheHeader determines if a header should be cached
func shouldCacheHeader(header string) bool {
	switch strings.ToLower(header) {
	case "content-type", "location", "x-request-id":
		return true
	}
	return false
}

// isIdempotentMethod checks if the HTTP method is naturally idempotent
func isIdempotentMethod(method string) bool {
	switch method {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodPut, fiber.MethodDelete:
		return true
	}
	return false
}
