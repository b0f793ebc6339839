package biz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"Parley/internal/model"
	perrors "Parley/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// errorHistorySize caps the per-provider classified-error history.
	errorHistorySize = 100
	// recentErrorCount is how many history entries a health snapshot carries.
	recentErrorCount = 10
)

// ProviderCallFunc is one consultation attempt against a single provider.
type ProviderCallFunc func(ctx context.Context) (*model.RawResult, error)

// ProviderHealthSnapshot combines breaker state, rolling health and the most
// recent classified errors for one provider.
type ProviderHealthSnapshot struct {
	ProviderID   string                     `json:"provider_id"`
	Breaker      BreakerStats               `json:"breaker"`
	Health       model.ProviderHealthCheck  `json:"health"`
	RecentErrors []*perrors.ClassifiedError `json:"recent_errors,omitempty"`
}

// ErrorHandler wraps provider calls with circuit-breaker protection, error
// classification and a bounded error history.
//
// It owns the breaker registry (one breaker per provider, created lazily) and
// is the single choke point through which breaker state and health statistics
// are mutated; no other component writes to either directly.
type ErrorHandler struct {
	breakerCfg CircuitBreakerConfig
	health     *ProviderHealthTracker
	logger     *log.Helper
	rawLogger  log.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	history  map[string]*lru.Cache[uint64, *perrors.ClassifiedError]
	seq      uint64
}

// NewErrorHandler creates an ErrorHandler. Breakers for individual providers
// are created on first use with the supplied thresholds.
func NewErrorHandler(breakerCfg CircuitBreakerConfig, health *ProviderHealthTracker, logger log.Logger) *ErrorHandler {
	return &ErrorHandler{
		breakerCfg: breakerCfg,
		health:     health,
		logger:     log.NewHelper(logger),
		rawLogger:  logger,
		breakers:   make(map[string]*CircuitBreaker),
		history:    make(map[string]*lru.Cache[uint64, *perrors.ClassifiedError]),
	}
}

// Breaker returns the provider's circuit breaker, creating it on first use.
func (h *ErrorHandler) Breaker(providerID string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.breakers[providerID]
	if !ok {
		b = NewCircuitBreaker(providerID, h.breakerCfg, h.rawLogger)
		h.breakers[providerID] = b
	}
	return b
}

// SafeCall executes fn for providerID under circuit-breaker protection.
//
// Failures are classified and recorded into the provider's error history.
// Non-recoverable errors and the open-circuit error propagate unchanged;
// recoverable errors propagate as a *ClassifiedError carrying the kind and
// wrapping the original cause. Successful results pass through untouched.
func (h *ErrorHandler) SafeCall(ctx context.Context, providerID string, fn ProviderCallFunc) (*model.RawResult, error) {
	return h.safeCall(ctx, providerID, fn, nil)
}

// SafeCallWithFallback behaves like SafeCall but substitutes fallback on any
// failure instead of returning an error. Classification, breaker state and
// health statistics are still updated; only the caller-facing outcome changes.
func (h *ErrorHandler) SafeCallWithFallback(ctx context.Context, providerID string, fn ProviderCallFunc, fallback *model.RawResult) *model.RawResult {
	result, err := h.safeCall(ctx, providerID, fn, fallback)
	if err != nil {
		// Unreachable when a fallback is supplied; kept for safety.
		return fallback
	}
	return result
}

func (h *ErrorHandler) safeCall(ctx context.Context, providerID string, fn ProviderCallFunc, fallback *model.RawResult) (*model.RawResult, error) {
	breaker := h.Breaker(providerID)

	start := time.Now()
	result, err := breaker.Call(ctx, fn)
	latency := time.Since(start)

	if err == nil {
		var tokens int64
		var cost float64
		if result != nil {
			tokens = result.TokensUsed
			cost = result.Cost
		}
		h.health.RecordSuccess(providerID, latency, tokens, cost)
		return result, nil
	}

	h.health.RecordFailure(providerID, latency)

	var openErr *CircuitBreakerOpenError
	if errors.As(err, &openErr) {
		// The provider was never invoked; record the rejection as a
		// non-recoverable crash-kind entry so history shows the outage.
		h.record(providerID, &perrors.ClassifiedError{
			Kind:        perrors.KindCrash,
			ProviderID:  providerID,
			Message:     err.Error(),
			Cause:       err,
			Timestamp:   time.Now(),
			Recoverable: false,
		})
		if fallback != nil {
			h.logger.Warnw("circuit open, returning fallback value",
				"provider_id", providerID,
				"retry_after", openErr.RetryAfter)
			return fallback, nil
		}
		return nil, err
	}

	classified := perrors.Classify(err, providerID)
	h.record(providerID, classified)

	if fallback != nil {
		h.logger.Warnw("provider call failed, returning fallback value",
			"provider_id", providerID,
			"kind", classified.Kind.String(),
			"error", err)
		return fallback, nil
	}

	if !classified.Recoverable {
		// Non-recoverable failures propagate exactly as raised.
		h.logger.Errorw("provider call failed with non-recoverable error",
			"provider_id", providerID,
			"kind", classified.Kind.String(),
			"error", err)
		return nil, err
	}

	h.logger.Warnw("provider call failed",
		"provider_id", providerID,
		"kind", classified.Kind.String(),
		"latency", latency,
		"error", err)
	return nil, classified
}

// record appends a classified error to the provider's bounded history.
// The history holds the last errorHistorySize entries, oldest evicted first.
func (h *ErrorHandler) record(providerID string, ce *perrors.ClassifiedError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cache, ok := h.history[providerID]
	if !ok {
		// Size is fixed and positive, so the constructor cannot fail.
		cache, _ = lru.New[uint64, *perrors.ClassifiedError](errorHistorySize)
		h.history[providerID] = cache
	}

	h.seq++
	cache.Add(h.seq, ce)
}

// RecentErrors returns up to n most recent classified errors, oldest first.
func (h *ErrorHandler) RecentErrors(providerID string, n int) []*perrors.ClassifiedError {
	h.mu.Lock()
	defer h.mu.Unlock()

	cache, ok := h.history[providerID]
	if !ok {
		return nil
	}

	// Entries are only ever added, never looked up, so key order is
	// insertion order.
	keys := cache.Keys()
	if len(keys) > n {
		keys = keys[len(keys)-n:]
	}

	out := make([]*perrors.ClassifiedError, 0, len(keys))
	for _, k := range keys {
		if ce, ok := cache.Peek(k); ok {
			out = append(out, ce)
		}
	}
	return out
}

// ProviderHealth returns the combined health snapshot for one provider.
func (h *ErrorHandler) ProviderHealth(providerID string) ProviderHealthSnapshot {
	return ProviderHealthSnapshot{
		ProviderID:   providerID,
		Breaker:      h.Breaker(providerID).Stats(),
		Health:       h.health.HealthCheck(providerID),
		RecentErrors: h.RecentErrors(providerID, recentErrorCount),
	}
}

// AllProviderHealth returns snapshots for every provider that has a breaker,
// sorted by provider id.
func (h *ErrorHandler) AllProviderHealth() []ProviderHealthSnapshot {
	h.mu.Lock()
	ids := make([]string, 0, len(h.breakers))
	for id := range h.breakers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	sort.Strings(ids)

	snapshots := make([]ProviderHealthSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshots = append(snapshots, h.ProviderHealth(id))
	}
	return snapshots
}
