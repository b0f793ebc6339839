package biz

import (
	"testing"
	"time"

	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSelector(t *testing.T, ids ...string) (*ProviderSelector, *ProviderHealthTracker, *ProviderRegistry) {
	t.Helper()
	registry := newTestRegistry(t, ids...)
	health := NewProviderHealthTracker()
	return NewProviderSelector(registry, health, log.DefaultLogger), health, registry
}

func TestSelector_NoCandidates(t *testing.T) {
	selector, _, _ := newTestSelector(t)

	_, err := selector.Select(SelectionFilter{})
	var notAvailable *NoProviderAvailableError
	assert.ErrorAs(t, err, &notAvailable)
}

func TestSelector_PriorityDominatesWithoutHistory(t *testing.T) {
	// newTestRegistry assigns descending priority in argument order.
	selector, _, _ := newTestSelector(t, "gpt4", "claude", "local")

	selected, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "gpt4", selected.ProviderID)
	// priority 10, status unknown, no history: 10*10 + 0 + 0.
	assert.Equal(t, 100.0, selected.Score)
	assert.Contains(t, selected.Reason, "priority=10")
	assert.Contains(t, selected.Reason, "health=unknown")
}

func TestSelector_HealthBonusOutweighsSmallPriorityGap(t *testing.T) {
	selector, health, _ := newTestSelector(t, "gpt4", "claude")

	// claude (priority 9) is healthy with a perfect record:
	// 9*10 + 50 + 1.0*30 = 170 beats gpt4's bare 100.
	for i := 0; i < 10; i++ {
		health.RecordSuccess("claude", 100*time.Millisecond, 1, 0)
	}

	selected, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "claude", selected.ProviderID)
	assert.Equal(t, 170.0, selected.Score)
}

func TestSelector_DegradedBonusIsSmaller(t *testing.T) {
	selector, health, _ := newTestSelector(t, "gpt4")

	// 8 successes, 2 failures: 20% windowed error rate is degraded.
	for i := 0; i < 8; i++ {
		health.RecordSuccess("gpt4", 100*time.Millisecond, 1, 0)
	}
	health.RecordFailure("gpt4", 100*time.Millisecond)
	health.RecordFailure("gpt4", 100*time.Millisecond)

	selected, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)
	// 10*10 + 25 + 0.8*30 = 149.
	assert.InDelta(t, 149.0, selected.Score, 0.001)
	assert.Contains(t, selected.Reason, "health=degraded")
}

func TestSelector_TieBreaksByRegistrationOrder(t *testing.T) {
	registry := NewProviderRegistry(log.DefaultLogger)
	for _, id := range []string{"first", "second"} {
		require.NoError(t, registry.Register(model.ProviderConfig{
			ID:       id,
			Enabled:  true,
			Priority: 5,
			Endpoint: "https://api.example.com",
		}))
	}
	health := NewProviderHealthTracker()
	selector := NewProviderSelector(registry, health, log.DefaultLogger)

	selected, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "first", selected.ProviderID)
}

func TestSelector_PreferredAndExcluded(t *testing.T) {
	selector, _, _ := newTestSelector(t, "gpt4", "claude", "local")

	selected, err := selector.Select(SelectionFilter{Preferred: []string{"claude", "local"}})
	require.NoError(t, err)
	assert.Equal(t, "claude", selected.ProviderID)

	selected, err = selector.Select(SelectionFilter{Excluded: []string{"gpt4", "claude"}})
	require.NoError(t, err)
	assert.Equal(t, "local", selected.ProviderID)

	_, err = selector.Select(SelectionFilter{
		Preferred: []string{"claude"},
		Excluded:  []string{"claude"},
	})
	var notAvailable *NoProviderAvailableError
	assert.ErrorAs(t, err, &notAvailable)
}

func TestSelector_SkipsDisabledProviders(t *testing.T) {
	selector, _, registry := newTestSelector(t, "gpt4", "claude")
	require.NoError(t, registry.SetEnabled("gpt4", false))

	selected, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "claude", selected.ProviderID)
}

func TestSelector_RequireFastResponseRewardsLowLatency(t *testing.T) {
	selector, health, _ := newTestSelector(t, "gpt4")
	health.RecordSuccess("gpt4", 500*time.Millisecond, 1, 0)

	plain, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)

	fast, err := selector.Select(SelectionFilter{RequireFastResponse: true})
	require.NoError(t, err)

	// 500ms average: bonus is 20 - 500/100 = 15.
	assert.InDelta(t, plain.Score+15, fast.Score, 0.001)
	assert.Contains(t, fast.Reason, "latency_bonus=15.0")
}

func TestSelector_LatencyBonusNeverNegative(t *testing.T) {
	selector, health, _ := newTestSelector(t, "gpt4")
	health.RecordSuccess("gpt4", 10*time.Second, 1, 0)

	plain, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)

	fast, err := selector.Select(SelectionFilter{RequireFastResponse: true})
	require.NoError(t, err)
	assert.Equal(t, plain.Score, fast.Score)
}

func TestSelector_EstimatedCostIsPerRequest(t *testing.T) {
	selector, health, _ := newTestSelector(t, "gpt4")
	health.RecordSuccess("gpt4", 100*time.Millisecond, 100, 0.02)
	health.RecordSuccess("gpt4", 100*time.Millisecond, 100, 0.04)

	selected, err := selector.Select(SelectionFilter{})
	require.NoError(t, err)
	assert.InDelta(t, 0.03, selected.EstimatedCost, 0.0001)
	assert.Equal(t, 100*time.Millisecond, selected.EstimatedLatency)
}
