package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned by Execute while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreaker guards calls to a shared dependency such as Redis.
type CircuitBreaker struct {
	name              string
	logger            *logrus.Logger
	now               func() time.Time
	state             CircuitBreakerState
	failureCount      int
	successCount      int
	lastFailureTime   time.Time
	mu                sync.Mutex
	maxFailures       int           // Open circuit after N failures
	resetTimeout      time.Duration // Wait before trying half-open
	halfOpenSuccesses int           // Required successes to close circuit
}

// NewCircuitBreaker creates a closed circuit breaker named after the
// dependency it protects.
func NewCircuitBreaker(name string, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:              name,
		logger:            logger,
		now:               time.Now,
		state:             StateClosed,
		maxFailures:       5,
		resetTimeout:      10 * time.Second,
		halfOpenSuccesses: 3,
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure(err)
		return err
	}

	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
		return ErrCircuitOpen
	}

	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.logger.WithField("breaker", cb.name).Info("Circuit breaker: OPEN -> HALF_OPEN")
	return nil
}

// onFailure handles a failed call
func (cb *CircuitBreaker) onFailure(err error) {
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"breaker":       cb.name,
				"failure_count": cb.failureCount,
				"error":         err.Error(),
			}).Error("Circuit breaker: CLOSED -> OPEN")
		}

	case StateHalfOpen:
		cb.state = StateOpen
		cb.failureCount = 0
		cb.logger.WithError(err).WithField("breaker", cb.name).Error("Circuit breaker: HALF_OPEN -> OPEN")
	}
}

// onSuccess handles a successful call
func (cb *CircuitBreaker) onSuccess() {
	cb.successCount++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		if cb.successCount >= cb.halfOpenSuccesses {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.WithField("breaker", cb.name).Info("Circuit breaker: HALF_OPEN -> CLOSED")
		}
	}
}

// GetState returns the current circuit breaker state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current circuit breaker statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":          cb.name,
		"state":         cb.state.String(),
		"failure_count": cb.failureCount,
		"success_count": cb.successCount,
		"max_failures":  cb.maxFailures,
		"last_failure":  cb.lastFailureTime,
		"reset_timeout": cb.resetTimeout.String(),
	}
}
