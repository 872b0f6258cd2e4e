package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const maxLoggedBody = 500

type ErrorLoggerMiddleware struct {
	logger         *logrus.Logger
	redactPrefixes []string
	redactSuffixes []string
}

// NewErrorLoggerMiddleware logs failed requests. Bodies of credential-bearing
// routes are never written to the log.
func NewErrorLoggerMiddleware(logger *logrus.Logger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger:         logger,
		redactPrefixes: []string{"/api/v1/auth"},
		redactSuffixes: []string{"/password"},
	}
}

// Handle logs 4xx and 5xx responses with detailed context
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()

		// Render chain errors here so the logged status is the one sent.
		err := c.Next()
		if err != nil {
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		statusCode := c.Response().StatusCode()
		if statusCode < fiber.StatusBadRequest {
			return nil
		}

		logFields := logrus.Fields{
			"status_code":   statusCode,
			"method":        c.Method(),
			"path":          c.Path(),
			"ip":            c.IP(),
			"user_agent":    c.Get(fiber.HeaderUserAgent),
			"request_id":    c.GetRespHeader(fiber.HeaderXRequestID),
			"duration_ms":   time.Since(startTime).Milliseconds(),
			"response_size": len(c.Response().Body()),
		}

		if userID := GetUserID(c); userID != "" {
			logFields["user_id"] = userID
		}

		if idempotencyKey := c.Get(HeaderIdempotencyKey); idempotencyKey != "" {
			logFields["idempotency_key"] = idempotencyKey
		}

		if query := c.Request().URI().QueryString(); len(query) > 0 {
			logFields["query"] = string(query)
		}

		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
			if body := c.Body(); len(body) > 0 {
				if e.redacted(c.Path()) {
					logFields["request_body"] = "[REDACTED]"
				} else {
					logFields["request_body"] = truncate(string(body))
				}
			}
		}

		if responseBody := c.Response().Body(); len(responseBody) > 0 {
			logFields["response_body"] = truncate(string(responseBody))
		}

		logEntry := e.logger.WithFields(logFields)
		if statusCode >= fiber.StatusInternalServerError {
			if err != nil {
				logEntry = logEntry.WithError(err)
			}
			logEntry.Error("Server error response")
		} else {
			logEntry.Warn("Client error response")
		}

		return nil
	}
}

func (e *ErrorLoggerMiddleware) redacted(path string) bool {
	for _, prefix := range e.redactPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, suffix := range e.redactSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	// account deletion carries the password in its body
	return strings.HasPrefix(path, "/api/v1/users/") && strings.Count(path, "/") == 4
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody] + "...(truncated)"
	}
	return s
}
