package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"Parley/internal/model"
	perrors "Parley/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient drives one provider's behavior through a func field.
type stubClient struct {
	consult func(ctx context.Context, query string) (*model.RawResult, error)
}

func (c *stubClient) Consult(ctx context.Context, query string) (*model.RawResult, error) {
	return c.consult(ctx, query)
}

// stubClientPool maps provider ids to stub clients.
type stubClientPool map[string]ProviderClient

func (p stubClientPool) Client(providerID string) (ProviderClient, error) {
	c, ok := p[providerID]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider: %s", providerID)
	}
	return c, nil
}

func answer(content string) *stubClient {
	return &stubClient{consult: func(ctx context.Context, query string) (*model.RawResult, error) {
		return &model.RawResult{Content: content, Confidence: 0.9, TokensUsed: 10}, nil
	}}
}

func failing(err error) *stubClient {
	return &stubClient{consult: func(ctx context.Context, query string) (*model.RawResult, error) {
		return nil, err
	}}
}

func testDefaults() ConsultDefaults {
	return ConsultDefaults{
		MaxProviders: 3,
		MinProviders: 1,
		Strategy:     StrategyMajorityVote,
		Timeout:      time.Second,
	}
}

func newTestOrchestrator(t *testing.T, pool stubClientPool, ids ...string) *MultiConsultOrchestrator {
	t.Helper()
	registry := newTestRegistry(t, ids...)
	health := NewProviderHealthTracker()
	handler := NewErrorHandler(testBreakerConfig(), health, log.DefaultLogger)
	return NewMultiConsultOrchestrator(handler, registry, health, pool, testDefaults(), log.DefaultLogger)
}

func TestMultiConsult_MajorityAcrossProviders(t *testing.T) {
	pool := stubClientPool{
		"gpt4":   answer("paris"),
		"claude": answer("paris"),
		"local":  answer("lyon"),
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude", "local")

	result, err := o.MultiConsult(context.Background(), "capital of france?", MultiConsultOptions{
		MinProviders: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, "paris", result.Response)
	assert.InDelta(t, 2.0/3.0, result.Confidence, 0.001)
	assert.Equal(t, "majority_vote", result.Strategy)
	assert.ElementsMatch(t, []string{"gpt4", "claude", "local"}, result.SucceededProviders)
	assert.Empty(t, result.FailedProviders)
	assert.Nil(t, result.IndividualResponses)
}

func TestMultiConsult_IncludeIndividualResponses(t *testing.T) {
	pool := stubClientPool{"gpt4": answer("yes"), "claude": answer("yes")}
	o := newTestOrchestrator(t, pool, "gpt4", "claude")

	result, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{
		IncludeIndividualResponses: true,
	})

	require.NoError(t, err)
	require.Len(t, result.IndividualResponses, 2)
	assert.True(t, result.IndividualResponses[0].Success)
	assert.Equal(t, "gpt4", result.IndividualResponses[0].ProviderID)
}

func TestMultiConsult_TooFewCandidatesFailsBeforeFanOut(t *testing.T) {
	called := false
	pool := stubClientPool{"gpt4": &stubClient{consult: func(ctx context.Context, query string) (*model.RawResult, error) {
		called = true
		return &model.RawResult{Content: "x"}, nil
	}}}
	o := newTestOrchestrator(t, pool, "gpt4")

	_, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{MinProviders: 3})

	var insufficient *InsufficientProvidersError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Required)
	assert.Equal(t, 1, insufficient.Succeeded)
	assert.False(t, called, "no network activity below the candidate minimum")
}

func TestMultiConsult_FailuresCarryPerProviderReasons(t *testing.T) {
	pool := stubClientPool{
		"gpt4":   failing(errors.New("status 429 too many requests")),
		"claude": failing(errors.New("connection refused")),
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude")

	_, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{MinProviders: 2})

	var insufficient *InsufficientProvidersError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Succeeded)
	require.Len(t, insufficient.Failures, 2)
	assert.Equal(t, "gpt4", insufficient.Failures[0].ProviderID)
	assert.Contains(t, err.Error(), "gpt4")
	assert.Contains(t, err.Error(), "claude")
}

func TestMultiConsult_PartialFailureStillReconciles(t *testing.T) {
	pool := stubClientPool{
		"gpt4":   answer("yes"),
		"claude": answer("yes"),
		"local":  failing(errors.New("status 500 internal server error")),
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude", "local")

	result, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{MinProviders: 2})

	require.NoError(t, err)
	assert.Equal(t, "yes", result.Response)
	assert.Equal(t, []string{"gpt4", "claude"}, result.SucceededProviders)
	assert.Equal(t, []string{"local"}, result.FailedProviders)
}

func TestMultiConsult_ExplicitProviderIDsSkipUnknownAndDisabled(t *testing.T) {
	pool := stubClientPool{"gpt4": answer("yes"), "claude": answer("yes")}
	o := newTestOrchestrator(t, pool, "gpt4", "claude")
	require.NoError(t, o.registry.SetEnabled("claude", false))

	result, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{
		ProviderIDs: []string{"gpt4", "claude", "ghost"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"gpt4"}, result.SucceededProviders)
}

func TestMultiConsult_MaxProvidersTruncatesInRegistrationOrder(t *testing.T) {
	pool := stubClientPool{
		"gpt4":   answer("a"),
		"claude": answer("a"),
		"local":  answer("a"),
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude", "local")

	result, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{MaxProviders: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"gpt4", "claude"}, result.SucceededProviders)
}

func TestMultiConsult_UnknownStrategy(t *testing.T) {
	o := newTestOrchestrator(t, stubClientPool{"gpt4": answer("x")}, "gpt4")

	_, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{
		Strategy: ConsensusStrategy("vibes"),
	})
	assert.Error(t, err)
}

func TestMultiConsult_WeightedStrategyUsesRegistryWeights(t *testing.T) {
	registry := NewProviderRegistry(log.DefaultLogger)
	require.NoError(t, registry.Register(model.ProviderConfig{
		ID: "heavy", Enabled: true, Weight: 3.0, Endpoint: "https://api.example.com",
	}))
	require.NoError(t, registry.Register(model.ProviderConfig{
		ID: "light-a", Enabled: true, Weight: 1.0, Endpoint: "https://api.example.com",
	}))
	require.NoError(t, registry.Register(model.ProviderConfig{
		ID: "light-b", Enabled: true, Weight: 1.0, Endpoint: "https://api.example.com",
	}))
	health := NewProviderHealthTracker()
	handler := NewErrorHandler(testBreakerConfig(), health, log.DefaultLogger)
	pool := stubClientPool{
		"heavy":   answer("yes"),
		"light-a": answer("no"),
		"light-b": answer("no"),
	}
	o := NewMultiConsultOrchestrator(handler, registry, health, pool, testDefaults(), log.DefaultLogger)

	result, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{
		Strategy: StrategyWeightedAverage,
	})

	require.NoError(t, err)
	assert.Equal(t, "yes", result.Response)
	assert.InDelta(t, 0.6, result.Confidence, 0.001)
}

func TestMultiConsult_SlowProviderAbandonedAtDeadline(t *testing.T) {
	pool := stubClientPool{
		"gpt4": answer("fast"),
		"claude": &stubClient{consult: func(ctx context.Context, query string) (*model.RawResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &model.RawResult{Content: "slow"}, nil
			}
		}},
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude")

	result, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{
		Timeout:                    100 * time.Millisecond,
		IncludeIndividualResponses: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "fast", result.Response)
	assert.Equal(t, []string{"gpt4"}, result.SucceededProviders)
	assert.Equal(t, []string{"claude"}, result.FailedProviders)
}

func TestMultiConsult_AbandonedTaskChargedExactlyOneFailure(t *testing.T) {
	// Sleeps through the cancellation instead of honoring it, so the
	// fan-out gives up at the deadline while the call is still in flight.
	pool := stubClientPool{
		"gpt4": answer("fast"),
		"claude": &stubClient{consult: func(ctx context.Context, query string) (*model.RawResult, error) {
			time.Sleep(150 * time.Millisecond)
			return nil, ctx.Err()
		}},
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude")

	_, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	// Let the abandoned call finish and report through the handler.
	time.Sleep(300 * time.Millisecond)

	usage := o.health.Usage("claude")
	assert.Equal(t, int64(1), usage.TotalRequests)
	assert.Equal(t, int64(1), usage.FailureCount)
}

func TestMultiConsult_RecordsHealth(t *testing.T) {
	pool := stubClientPool{
		"gpt4":   answer("yes"),
		"claude": failing(errors.New("connection refused")),
	}
	o := newTestOrchestrator(t, pool, "gpt4", "claude")

	_, err := o.MultiConsult(context.Background(), "q", MultiConsultOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, o.health.SuccessRate("gpt4"))
	assert.Zero(t, o.health.SuccessRate("claude"))
	recent := o.handler.RecentErrors("claude", 5)
	require.Len(t, recent, 1)
	assert.Equal(t, perrors.KindNetworkError, recent[0].Kind)
}

func TestConsultProvider_Success(t *testing.T) {
	pool := stubClientPool{"gpt4": &stubClient{consult: func(ctx context.Context, query string) (*model.RawResult, error) {
		return &model.RawResult{Content: "bonjour", TokensUsed: 7, Cost: 0.0002}, nil
	}}}
	o := newTestOrchestrator(t, pool, "gpt4")

	resp, err := o.ConsultProvider(context.Background(), "gpt4", "greet me in french")

	require.NoError(t, err)
	assert.Equal(t, "gpt4", resp.ProviderID)
	assert.Equal(t, "bonjour", resp.Content)
	assert.True(t, resp.Success)
	// Unreported confidence defaults to full.
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Equal(t, int64(7), resp.TokensUsed)
}

func TestConsultProvider_UnknownProvider(t *testing.T) {
	o := newTestOrchestrator(t, stubClientPool{})

	_, err := o.ConsultProvider(context.Background(), "ghost", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not found")
}

func TestConsultProvider_DisabledProvider(t *testing.T) {
	o := newTestOrchestrator(t, stubClientPool{"gpt4": answer("x")}, "gpt4")
	require.NoError(t, o.registry.SetEnabled("gpt4", false))

	_, err := o.ConsultProvider(context.Background(), "gpt4", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider disabled")
}

func TestConsultProvider_FailureSurfacesClassifiedError(t *testing.T) {
	pool := stubClientPool{"gpt4": failing(errors.New("rate limit exceeded"))}
	o := newTestOrchestrator(t, pool, "gpt4")

	_, err := o.ConsultProvider(context.Background(), "gpt4", "q")

	var classified *perrors.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, perrors.KindRateLimit, classified.Kind)
}
