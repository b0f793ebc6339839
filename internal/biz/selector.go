package biz

import (
	"fmt"

	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// NoProviderAvailableError is returned when selection yields an empty
// candidate set.
type NoProviderAvailableError struct {
	Preferred []string
	Excluded  []string
}

// Error implements the error interface.
func (e *NoProviderAvailableError) Error() string {
	return fmt.Sprintf("no provider available (preferred=%v excluded=%v)", e.Preferred, e.Excluded)
}

// SelectionFilter narrows the candidate set for single-provider selection.
type SelectionFilter struct {
	Preferred           []string // allowlist; empty means all enabled
	Excluded            []string // denylist
	RequireFastResponse bool     // weigh average latency into the score
}

// ProviderSelector scores and ranks enabled providers for single-provider
// consultation using configured priority plus observed health and usage.
type ProviderSelector struct {
	registry *ProviderRegistry
	health   *ProviderHealthTracker
	logger   *log.Helper
}

// NewProviderSelector creates a selector over the given registry and tracker.
func NewProviderSelector(registry *ProviderRegistry, health *ProviderHealthTracker, logger log.Logger) *ProviderSelector {
	return &ProviderSelector{
		registry: registry,
		health:   health,
		logger:   log.NewHelper(logger),
	}
}

// Select picks the best provider for the filter.
//
// Score = priority*10 + healthBonus + successRate*30 + latencyBonus, where
// healthBonus is 50 for healthy and 25 for degraded, and latencyBonus
// max(0, 20 − avgLatencyMs/100) applies only with RequireFastResponse set.
// Ties are broken by registration order for determinism.
func (s *ProviderSelector) Select(filter SelectionFilter) (*model.SelectedProvider, error) {
	candidates := s.candidates(filter)
	if len(candidates) == 0 {
		return nil, &NoProviderAvailableError{
			Preferred: filter.Preferred,
			Excluded:  filter.Excluded,
		}
	}

	var best *model.SelectedProvider
	for _, cfg := range candidates {
		selected := s.score(cfg, filter.RequireFastResponse)
		// Strict > keeps the earliest-registered provider on ties.
		if best == nil || selected.Score > best.Score {
			best = selected
		}
	}

	s.logger.Debugw("provider selected",
		"provider_id", best.ProviderID,
		"score", best.Score,
		"reason", best.Reason,
		"candidates", len(candidates))

	return best, nil
}

// candidates computes enabled ∩ preferred \ excluded in registration order.
func (s *ProviderSelector) candidates(filter SelectionFilter) []model.ProviderConfig {
	preferred := toSet(filter.Preferred)
	excluded := toSet(filter.Excluded)

	var out []model.ProviderConfig
	for _, cfg := range s.registry.ListEnabled() {
		if len(preferred) > 0 && !preferred[cfg.ID] {
			continue
		}
		if excluded[cfg.ID] {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

func (s *ProviderSelector) score(cfg model.ProviderConfig, requireFast bool) *model.SelectedProvider {
	health := s.health.HealthCheck(cfg.ID)
	usage := s.health.Usage(cfg.ID)
	successRate := s.health.SuccessRate(cfg.ID)

	score := float64(cfg.Priority) * 10

	healthBonus := 0.0
	switch health.Status {
	case model.HealthStatusHealthy:
		healthBonus = 50
	case model.HealthStatusDegraded:
		healthBonus = 25
	}
	score += healthBonus

	score += successRate * 30

	latencyBonus := 0.0
	if requireFast {
		avgMs := float64(usage.AverageLatency.Milliseconds())
		latencyBonus = 20 - avgMs/100
		if latencyBonus < 0 {
			latencyBonus = 0
		}
		score += latencyBonus
	}

	reason := fmt.Sprintf("priority=%d health=%s success_rate=%.2f", cfg.Priority, health.Status, successRate)
	if requireFast {
		reason += fmt.Sprintf(" latency_bonus=%.1f", latencyBonus)
	}

	estimatedCost := 0.0
	if usage.TotalRequests > 0 {
		estimatedCost = usage.TotalCost / float64(usage.TotalRequests)
	}

	return &model.SelectedProvider{
		ProviderID:       cfg.ID,
		Score:            score,
		Reason:           reason,
		EstimatedLatency: usage.AverageLatency,
		EstimatedCost:    estimatedCost,
	}
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
