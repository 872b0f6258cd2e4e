package logging

import (
	"io"
	"os"

	"github.com/chillspot/chillspot-api/internal/config"

	"github.com/sirupsen/logrus"
)

// ServiceName is attached to every log line, span and metric.
const ServiceName = "chillspot-api"

// New creates a new structured logger writing to stdout
func New(cfg *config.Config) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput creates a structured logger writing to out
func NewWithOutput(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	// Set log level
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Set output format
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "ts",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	logger.AddHook(&defaultFields{fields: logrus.Fields{
		"service":     ServiceName,
		"version":     Version(),
		"environment": cfg.Server.Environment,
	}})

	return logger
}

// Version returns the application version
func Version() string {
	if version := os.Getenv("APP_VERSION"); version != "" {
		return version
	}
	return "dev"
}

// defaultFields stamps fixed fields on every entry.
type defaultFields struct {
	fields logrus.Fields
}

func (h *defaultFields) Levels() []logrus.Level { return logrus.AllLevels }

func (h *defaultFields) Fire(e *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}

// WithTraceID adds trace ID to logger context
func WithTraceID(logger *logrus.Logger, traceID string) *logrus.Entry {
	return logger.WithField("trace_id", traceID)
}

// WithUserID adds user ID to logger context
func WithUserID(logger *logrus.Logger, userID string) *logrus.Entry {
	return logger.WithField("user_id", userID)
}

// WithRequest adds request context to logger
func WithRequest(logger *logrus.Logger, method, path string, statusCode int, latencyMs float64) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"http": map[string]interface{}{
			"method": method,
			"route":  path,
			"status": statusCode,
		},
		"latency_ms": latencyMs,
	})
}
