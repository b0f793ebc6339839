package biz

import (
	"sort"
	"sync"
	"time"

	"Parley/internal/model"
)

// healthWindowSize bounds the recent-outcome window used for error rates.
const healthWindowSize = 50

// ProviderHealthTracker keeps rolling health and usage statistics per provider.
// All mutation flows through the ErrorHandler choke point (plus the
// orchestrator's synthesized records for abandoned fan-out tasks); updates for
// a given provider are serialized by the tracker's lock.
type ProviderHealthTracker struct {
	mu    sync.RWMutex
	stats map[string]*providerStats
}

type providerStats struct {
	totalRequests      int64
	successCount       int64
	failureCount       int64
	avgLatency         float64 // incremental mean, nanoseconds
	lastLatency        time.Duration
	lastUsed           time.Time
	lastFailure        time.Time
	consecutiveSuccess int
	consecutiveFailure int
	totalTokens        int64
	totalCost          float64

	// ring buffer of recent outcomes, true = failure
	window    [healthWindowSize]bool
	windowPos int
	windowLen int
}

// NewProviderHealthTracker creates an empty tracker.
func NewProviderHealthTracker() *ProviderHealthTracker {
	return &ProviderHealthTracker{
		stats: make(map[string]*providerStats),
	}
}

func (t *ProviderHealthTracker) get(providerID string) *providerStats {
	s, ok := t.stats[providerID]
	if !ok {
		s = &providerStats{}
		t.stats[providerID] = s
	}
	return s
}

// RecordSuccess records one successful call with its latency and passthrough
// token/cost counters.
func (t *ProviderHealthTracker) RecordSuccess(providerID string, latency time.Duration, tokens int64, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(providerID)
	s.record(latency, false)
	s.successCount++
	s.consecutiveSuccess++
	s.consecutiveFailure = 0
	s.totalTokens += tokens
	s.totalCost += cost
}

// RecordFailure records one failed call with its observed latency.
func (t *ProviderHealthTracker) RecordFailure(providerID string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(providerID)
	s.record(latency, true)
	s.failureCount++
	s.consecutiveFailure++
	s.consecutiveSuccess = 0
	s.lastFailure = time.Now()
}

func (s *providerStats) record(latency time.Duration, failed bool) {
	s.totalRequests++
	s.lastLatency = latency
	s.lastUsed = time.Now()

	// Incremental mean: avg += (x - avg) / n
	s.avgLatency += (float64(latency) - s.avgLatency) / float64(s.totalRequests)

	s.window[s.windowPos] = failed
	s.windowPos = (s.windowPos + 1) % healthWindowSize
	if s.windowLen < healthWindowSize {
		s.windowLen++
	}
}

// errorRate returns failures / total over the recent window.
func (s *providerStats) errorRate() float64 {
	if s.windowLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < s.windowLen; i++ {
		if s.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(s.windowLen)
}

// status maps the windowed error rate to a coarse health status.
// Thresholds: < 0.1 healthy, < 0.3 degraded, else unhealthy.
func (s *providerStats) status() model.HealthStatus {
	if s.totalRequests == 0 {
		return model.HealthStatusUnknown
	}
	rate := s.errorRate()
	switch {
	case rate < 0.1:
		return model.HealthStatusHealthy
	case rate < 0.3:
		return model.HealthStatusDegraded
	default:
		return model.HealthStatusUnhealthy
	}
}

// HealthCheck recomputes and returns the current health snapshot of a provider.
// Providers with no recorded calls report status unknown.
func (t *ProviderHealthTracker) HealthCheck(providerID string) model.ProviderHealthCheck {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[providerID]
	if !ok {
		return model.ProviderHealthCheck{
			ProviderID: providerID,
			Status:     model.HealthStatusUnknown,
			LastCheck:  time.Now(),
		}
	}

	return model.ProviderHealthCheck{
		ProviderID:          providerID,
		Status:              s.status(),
		LastLatency:         s.lastLatency,
		ErrorRate:           s.errorRate(),
		ConsecutiveSuccess:  s.consecutiveSuccess,
		ConsecutiveFailures: s.consecutiveFailure,
		LastCheck:           time.Now(),
	}
}

// Usage returns the cumulative usage counters for a provider.
func (t *ProviderHealthTracker) Usage(providerID string) model.ProviderUsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[providerID]
	if !ok {
		return model.ProviderUsageStats{ProviderID: providerID}
	}

	return model.ProviderUsageStats{
		ProviderID:     providerID,
		TotalRequests:  s.totalRequests,
		SuccessCount:   s.successCount,
		FailureCount:   s.failureCount,
		AverageLatency: time.Duration(s.avgLatency),
		LastUsed:       s.lastUsed,
		TotalTokens:    s.totalTokens,
		TotalCost:      s.totalCost,
	}
}

// SuccessRate returns successes / total for a provider, 0 with no history.
func (t *ProviderHealthTracker) SuccessRate(providerID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[providerID]
	if !ok || s.totalRequests == 0 {
		return 0
	}
	return float64(s.successCount) / float64(s.totalRequests)
}

// AllHealth returns health snapshots for every tracked provider, sorted by id.
func (t *ProviderHealthTracker) AllHealth() []model.ProviderHealthCheck {
	t.mu.RLock()
	ids := make([]string, 0, len(t.stats))
	for id := range t.stats {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)

	checks := make([]model.ProviderHealthCheck, 0, len(ids))
	for _, id := range ids {
		checks = append(checks, t.HealthCheck(id))
	}
	return checks
}

// AllUsage returns usage snapshots for every tracked provider, sorted by id.
func (t *ProviderHealthTracker) AllUsage() []model.ProviderUsageStats {
	t.mu.RLock()
	ids := make([]string, 0, len(t.stats))
	for id := range t.stats {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)

	usage := make([]model.ProviderUsageStats, 0, len(ids))
	for _, id := range ids {
		usage = append(usage, t.Usage(id))
	}
	return usage
}
