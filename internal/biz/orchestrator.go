package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// ProviderFailure names one provider's failure reason inside an aggregate error.
type ProviderFailure struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
}

// InsufficientProvidersError is returned when fewer providers than required
// are available or succeed. It carries every attempted provider's failure
// reason so callers never see only the last error.
type InsufficientProvidersError struct {
	Required  int
	Succeeded int
	Failures  []ProviderFailure
}

// Error implements the error interface.
func (e *InsufficientProvidersError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("insufficient providers: need %d, have %d", e.Required, e.Succeeded)
	}
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.ProviderID, f.Reason))
	}
	return fmt.Sprintf("insufficient providers: need %d, got %d successes (%s)",
		e.Required, e.Succeeded, strings.Join(reasons, "; "))
}

// ConsultDefaults are the configured fallbacks for unset consultation options.
type ConsultDefaults struct {
	MaxProviders int
	MinProviders int
	Strategy     ConsensusStrategy
	Timeout      time.Duration
}

// MultiConsultOptions controls one multi-provider consultation.
type MultiConsultOptions struct {
	ProviderIDs                []string          // explicit candidates; default all enabled
	MaxProviders               int               // fan-out width cap
	MinProviders               int               // successful responses required
	Strategy                   ConsensusStrategy // consensus strategy
	Timeout                    time.Duration     // overall fan-out deadline
	IncludeIndividualResponses bool
}

// MultiConsultOrchestrator fans a query out to several providers concurrently
// and reconciles their answers through a consensus strategy. Every provider
// call goes through the ErrorHandler so breaker state, classification and
// health statistics stay consistent with the other consultation paths.
type MultiConsultOrchestrator struct {
	handler  *ErrorHandler
	registry *ProviderRegistry
	health   *ProviderHealthTracker
	clients  ClientPool
	defaults ConsultDefaults
	logger   *log.Helper
}

// NewMultiConsultOrchestrator creates the orchestrator.
func NewMultiConsultOrchestrator(
	handler *ErrorHandler,
	registry *ProviderRegistry,
	health *ProviderHealthTracker,
	clients ClientPool,
	defaults ConsultDefaults,
	logger log.Logger,
) *MultiConsultOrchestrator {
	return &MultiConsultOrchestrator{
		handler:  handler,
		registry: registry,
		health:   health,
		clients:  clients,
		defaults: defaults,
		logger:   log.NewHelper(logger),
	}
}

// MultiConsult fans the query out to up to MaxProviders candidates under a
// single shared deadline and applies the consensus strategy to the successes.
//
// The candidate count is checked against MinProviders before any network
// activity. Tasks still running at the deadline are abandoned: their eventual
// results are discarded and they are counted as failures with latency equal
// to the deadline. Cancellation is cooperative; the remote side effect may
// still complete server-side.
func (o *MultiConsultOrchestrator) MultiConsult(ctx context.Context, query string, opts MultiConsultOptions) (*model.ConsensusResult, error) {
	opts = o.normalize(opts)

	if _, err := ParseConsensusStrategy(string(opts.Strategy)); err != nil {
		return nil, err
	}

	candidates := o.resolveCandidates(opts)
	if len(candidates) < opts.MinProviders {
		return nil, &InsufficientProvidersError{
			Required:  opts.MinProviders,
			Succeeded: len(candidates),
		}
	}

	start := time.Now()
	results := o.fanOut(ctx, query, candidates, opts.Timeout)

	var succeeded []model.ProviderResponse
	var succeededIDs, failedIDs []string
	var failures []ProviderFailure
	for _, r := range results {
		if r.Success {
			succeeded = append(succeeded, r)
			succeededIDs = append(succeededIDs, r.ProviderID)
		} else {
			failedIDs = append(failedIDs, r.ProviderID)
			failures = append(failures, ProviderFailure{ProviderID: r.ProviderID, Reason: r.Error})
		}
	}

	if len(succeeded) < opts.MinProviders {
		o.logger.Warnw("multi-consult below minimum successes",
			"required", opts.MinProviders,
			"succeeded", len(succeeded),
			"candidates", len(candidates))
		return nil, &InsufficientProvidersError{
			Required:  opts.MinProviders,
			Succeeded: len(succeeded),
			Failures:  failures,
		}
	}

	weights := make(map[string]float64, len(candidates))
	for _, cfg := range candidates {
		weights[cfg.ID] = cfg.Weight
	}

	outcome, err := applyConsensus(opts.Strategy, succeeded, weights)
	if err != nil {
		return nil, err
	}

	result := &model.ConsensusResult{
		Response:           outcome.response,
		Confidence:         outcome.confidence,
		Strategy:           string(opts.Strategy),
		SucceededProviders: succeededIDs,
		FailedProviders:    failedIDs,
		TotalTime:          time.Since(start),
		Reasoning:          outcome.reasoning,
	}
	if opts.IncludeIndividualResponses {
		result.IndividualResponses = results
	}

	o.logger.Infow("multi-consult completed",
		"strategy", opts.Strategy,
		"succeeded", len(succeeded),
		"failed", len(failedIDs),
		"confidence", outcome.confidence,
		"total_time", result.TotalTime)

	return result, nil
}

// ConsultProvider performs a single-provider consultation through the
// ErrorHandler. Failures surface as the handler's typed errors (classified or
// open-circuit) so the caller can see whether a local retry is worthwhile.
func (o *MultiConsultOrchestrator) ConsultProvider(ctx context.Context, providerID, query string) (*model.ProviderResponse, error) {
	cfg, err := o.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("provider disabled: %s", providerID)
	}

	start := time.Now()
	raw, err := o.handler.SafeCall(ctx, cfg.ID, o.callFunc(cfg, query))
	if err != nil {
		return nil, err
	}

	confidence := raw.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}

	return &model.ProviderResponse{
		ProviderID: cfg.ID,
		Content:    raw.Content,
		Latency:    time.Since(start),
		Success:    true,
		Confidence: confidence,
		TokensUsed: raw.TokensUsed,
		Cost:       raw.Cost,
	}, nil
}

// normalize fills unset options from the configured defaults.
func (o *MultiConsultOrchestrator) normalize(opts MultiConsultOptions) MultiConsultOptions {
	if opts.MaxProviders <= 0 {
		opts.MaxProviders = o.defaults.MaxProviders
	}
	if opts.MinProviders <= 0 {
		opts.MinProviders = o.defaults.MinProviders
	}
	if opts.Strategy == "" {
		opts.Strategy = o.defaults.Strategy
	}
	if opts.Timeout <= 0 {
		opts.Timeout = o.defaults.Timeout
	}
	return opts
}

// resolveCandidates produces the fan-out list: the explicit provider ids (if
// given) or all enabled providers, in registration order, truncated to
// MaxProviders. Disabled and unknown providers are never fanned out to.
func (o *MultiConsultOrchestrator) resolveCandidates(opts MultiConsultOptions) []model.ProviderConfig {
	var candidates []model.ProviderConfig
	if len(opts.ProviderIDs) > 0 {
		for _, id := range opts.ProviderIDs {
			cfg, err := o.registry.Get(id)
			if err != nil || !cfg.Enabled {
				o.logger.Warnw("skipping unavailable consult candidate", "provider_id", id)
				continue
			}
			candidates = append(candidates, cfg)
		}
	} else {
		candidates = o.registry.ListEnabled()
	}

	if len(candidates) > opts.MaxProviders {
		candidates = candidates[:opts.MaxProviders]
	}
	return candidates
}

// fanOut launches one task per candidate and waits under the shared deadline.
// Results arriving after the deadline are discarded; their slots are filled
// with synthesized deadline failures and recorded as such.
func (o *MultiConsultOrchestrator) fanOut(ctx context.Context, query string, candidates []model.ProviderConfig, timeout time.Duration) []model.ProviderResponse {
	fanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]model.ProviderResponse, len(candidates))
	filled := make([]bool, len(candidates))
	var mu sync.Mutex
	sealed := false

	var g errgroup.Group
	g.SetLimit(len(candidates))
	for i, cfg := range candidates {
		i, cfg := i, cfg
		g.Go(func() error {
			resp := o.consultOne(fanCtx, cfg, query)
			mu.Lock()
			if !sealed {
				results[i] = resp
				filled[i] = true
			}
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-fanCtx.Done():
	}

	mu.Lock()
	sealed = true
	var abandoned []string
	for i, cfg := range candidates {
		if !filled[i] {
			abandoned = append(abandoned, cfg.ID)
			results[i] = model.ProviderResponse{
				ProviderID: cfg.ID,
				Latency:    timeout,
				Success:    false,
				Error:      fmt.Sprintf("abandoned at fan-out deadline (%s)", timeout),
			}
		}
	}
	mu.Unlock()

	// Health accounting stays with the ErrorHandler: the abandoned task's
	// SafeCall is still running and records the failure itself when it
	// returns, so charging it here would count the same call twice.
	for _, id := range abandoned {
		o.logger.Warnw("fan-out task abandoned at deadline",
			"provider_id", id,
			"timeout", timeout)
	}

	return results
}

// callFunc builds the protected call for one provider, layering the
// provider's own timeout under any shared deadline.
func (o *MultiConsultOrchestrator) callFunc(cfg model.ProviderConfig, query string) ProviderCallFunc {
	return func(callCtx context.Context) (*model.RawResult, error) {
		client, err := o.clients.Client(cfg.ID)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, cfg.Timeout)
			defer cancel()
		}
		return client.Consult(callCtx, query)
	}
}

// consultOne executes one provider call through the ErrorHandler and shapes
// the outcome as a fan-out response.
func (o *MultiConsultOrchestrator) consultOne(ctx context.Context, cfg model.ProviderConfig, query string) model.ProviderResponse {
	start := time.Now()
	raw, err := o.handler.SafeCall(ctx, cfg.ID, o.callFunc(cfg, query))
	latency := time.Since(start)

	if err != nil {
		return model.ProviderResponse{
			ProviderID: cfg.ID,
			Latency:    latency,
			Success:    false,
			Error:      err.Error(),
		}
	}

	confidence := raw.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}

	return model.ProviderResponse{
		ProviderID: cfg.ID,
		Content:    raw.Content,
		Latency:    latency,
		Success:    true,
		Confidence: confidence,
		TokensUsed: raw.TokensUsed,
		Cost:       raw.Cost,
	}
}
