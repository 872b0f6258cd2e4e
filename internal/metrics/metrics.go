package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_requests_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Document store metrics
	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Document store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"driver", "collection", "operation", "status"},
	)

	// Auth metrics
	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Total number of signup, login and password events",
		},
		[]string{"event", "outcome"}, // signup/login/password, success/failure
	)

	// Image storage metrics
	imageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_operations_total",
			Help: "Total number of image bucket operations",
		},
		[]string{"operation", "status"}, // upload/delete, success/failure
	)

	// Rate limiting metrics
	rateLimitDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_dropped_total",
			Help: "Total number of requests dropped due to rate limiting",
		},
		[]string{"key_type"}, // user or ip
	)

	// Idempotency metrics
	idempotencyHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_hits_total",
			Help: "Total number of idempotency hits",
		},
		[]string{"type"}, // hit or miss
	)

	// Redis metrics
	redisOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	redisOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Calling it more
// than once is a no-op.
func Init() error {
	var err error
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			httpRequestsTotal,
			httpRequestDuration,
			storeOperationDuration,
			authEventsTotal,
			imageOperationsTotal,
			rateLimitDroppedTotal,
			idempotencyHitsTotal,
			redisOperationsTotal,
			redisOperationDuration,
		} {
			if err = prometheus.Register(c); err != nil {
				return
			}
		}
	})
	return err
}

// HTTPMetricsMiddleware records HTTP metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)

		return err
	}
}

// RecordStoreOperation records one document store call
func RecordStoreOperation(driver, collection, operation string, err error, duration time.Duration) {
	storeOperationDuration.WithLabelValues(driver, collection, operation, status(err)).Observe(duration.Seconds())
}

// RecordAuthEvent records signup, login and password change outcomes
func RecordAuthEvent(event string, err error) {
	authEventsTotal.WithLabelValues(event, status(err)).Inc()
}

// RecordImageOperation records image bucket calls
func RecordImageOperation(operation string, err error) {
	imageOperationsTotal.WithLabelValues(operation, status(err)).Inc()
}

// RecordRateLimitDrop records rate limit drops
func RecordRateLimitDrop(keyType string) {
	rateLimitDroppedTotal.WithLabelValues(keyType).Inc()
}

// RecordIdempotencyHit records idempotency cache hits/misses
func RecordIdempotencyHit(hitType string) {
	idempotencyHitsTotal.WithLabelValues(hitType).Inc()
}

// RecordRedisOperation records Redis operations
func RecordRedisOperation(operation, status string, duration time.Duration) {
	redisOperationsTotal.WithLabelValues(operation, status).Inc()
	redisOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
