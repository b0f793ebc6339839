package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerState represents the circuit breaker state machine position.
type BreakerState int

const (
	// BreakerClosed is normal operation: calls flow through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls until the recovery timeout elapses.
	BreakerOpen
	// BreakerHalfOpen allows probing calls to test recovery.
	BreakerHalfOpen
)

// String returns the breaker state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerOpenError is returned when a call is rejected because the
// breaker is open and the recovery window has not yet expired.
type CircuitBreakerOpenError struct {
	ProviderID string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for provider %s, retry after %s", e.ProviderID, e.RetryAfter)
}

// CircuitBreakerConfig controls the breaker state transitions.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures to open
	RecoveryTimeout  time.Duration // open → half-open delay
	SuccessThreshold int           // consecutive half-open successes to close
	CallTimeout      time.Duration // per-call execution bound
}

// DefaultCircuitBreakerConfig returns the standard thresholds used when a
// breaker is created lazily for a provider with no explicit configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      120 * time.Second,
	}
}

// BreakerStats is a point-in-time snapshot of a breaker.
type BreakerStats struct {
	ProviderID          string    `json:"provider_id"`
	State               string    `json:"state"`
	TotalRequests       int64     `json:"total_requests"`
	SuccessRate         float64   `json:"success_rate"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
}

// CircuitBreaker protects one provider from cascading failures.
//
// State machine: Closed --(≥FailureThreshold consecutive failures)--> Open
// --(RecoveryTimeout elapsed, next call)--> HalfOpen --(≥SuccessThreshold
// successes)--> Closed; any HalfOpen failure reopens immediately. Breakers
// live for the process lifetime and are never persisted.
type CircuitBreaker struct {
	providerID string
	cfg        CircuitBreakerConfig
	logger     *log.Helper

	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	totalRequests        int64
	totalSuccesses       int64
	openedAt             time.Time
	lastFailureTime      time.Time
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(providerID string, cfg CircuitBreakerConfig, logger log.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		providerID: providerID,
		cfg:        cfg,
		logger:     log.NewHelper(logger),
	}
}

// Call executes fn under the breaker's protection with a bounded timeout.
//
// While Open and unexpired it fails fast with *CircuitBreakerOpenError and
// never invokes fn. Once the recovery timeout elapses the next call moves the
// breaker to HalfOpen before executing. A timeout counts as a failure.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) (*model.RawResult, error)) (*model.RawResult, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	result, err := fn(callCtx)
	b.afterCall(err == nil)

	return result, err
}

// beforeCall enforces the fail-fast contract and the Open → HalfOpen transition.
func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		elapsed := time.Since(b.openedAt)
		if elapsed < b.cfg.RecoveryTimeout {
			return &CircuitBreakerOpenError{
				ProviderID: b.providerID,
				RetryAfter: b.cfg.RecoveryTimeout - elapsed,
			}
		}

		// Recovery window expired: this call becomes the probe.
		b.state = BreakerHalfOpen
		b.consecutiveSuccesses = 0
		b.logger.Infow("circuit breaker entering half-open",
			"provider_id", b.providerID,
			"open_duration", elapsed)
	}

	b.totalRequests++
	return nil
}

// afterCall records the outcome and drives the remaining state transitions.
func (b *CircuitBreaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.totalSuccesses++
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0

		if b.state == BreakerHalfOpen && b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.consecutiveSuccesses = 0
			b.logger.Infow("circuit breaker closed after successful probes",
				"provider_id", b.providerID,
				"success_threshold", b.cfg.SuccessThreshold)
		}
		return
	}

	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailureTime = time.Now()

	switch {
	case b.state == BreakerHalfOpen:
		// Any single failure while probing reopens immediately.
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.logger.Warnw("circuit breaker reopened by failed probe",
			"provider_id", b.providerID)
	case b.state == BreakerClosed && b.consecutiveFailures >= b.cfg.FailureThreshold:
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.logger.Warnw("circuit breaker opened",
			"provider_id", b.providerID,
			"consecutive_failures", b.consecutiveFailures,
			"recovery_timeout", b.cfg.RecoveryTimeout)
	}
}

// Stats returns a snapshot of the breaker counters.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	successRate := 0.0
	if b.totalRequests > 0 {
		successRate = float64(b.totalSuccesses) / float64(b.totalRequests)
	}

	return BreakerStats{
		ProviderID:          b.providerID,
		State:               b.state.String(),
		TotalRequests:       b.totalRequests,
		SuccessRate:         successRate,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsAvailable reports whether a call made now would be allowed to execute.
func (b *CircuitBreaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return true
	}
	return time.Since(b.openedAt) >= b.cfg.RecoveryTimeout
}
