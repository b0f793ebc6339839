package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Parley/internal/biz"
	"Parley/internal/model"
	perrors "Parley/pkg/errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// ConsultRequest asks one named provider for an answer.
type ConsultRequest struct {
	ProviderID string `json:"provider_id"`
	Query      string `json:"query"`
}

// ConsultResponse carries a single provider's answer.
type ConsultResponse struct {
	RequestID string                  `json:"request_id"`
	Response  *model.ProviderResponse `json:"response"`
}

// MultiConsultRequest fans a query out to several providers.
type MultiConsultRequest struct {
	Query                      string   `json:"query"`
	ProviderIDs                []string `json:"provider_ids,omitempty"`
	MaxProviders               int      `json:"max_providers,omitempty"`
	MinProviders               int      `json:"min_providers,omitempty"`
	Strategy                   string   `json:"strategy,omitempty"`
	TimeoutSeconds             int      `json:"timeout_seconds,omitempty"`
	IncludeIndividualResponses bool     `json:"include_individual_responses,omitempty"`
}

// MultiConsultResponse carries the reconciled consensus outcome.
type MultiConsultResponse struct {
	RequestID string                 `json:"request_id"`
	Result    *model.ConsensusResult `json:"result"`
}

// FallbackChainRequest tries providers one at a time until one succeeds.
type FallbackChainRequest struct {
	Query             string   `json:"query"`
	ProviderIDs       []string `json:"provider_ids"`
	MaxAttempts       int      `json:"max_attempts,omitempty"`
	RetryDelaySeconds int      `json:"retry_delay_seconds,omitempty"`
}

// FallbackChainResponse carries the first successful answer and the
// failures that preceded it.
type FallbackChainResponse struct {
	RequestID string                `json:"request_id"`
	Result    *model.FallbackResult `json:"result"`
}

// SelectProviderRequest picks the best single provider without calling it.
type SelectProviderRequest struct {
	Preferred           []string `json:"preferred,omitempty"`
	Excluded            []string `json:"excluded,omitempty"`
	RequireFastResponse bool     `json:"require_fast_response,omitempty"`
}

// SelectProviderResponse names the winner and how it scored.
type SelectProviderResponse struct {
	Selected *model.SelectedProvider `json:"selected"`
}

// RegisterProviderRequest registers a new backend at runtime.
type RegisterProviderRequest struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Enabled        bool    `json:"enabled"`
	Priority       int     `json:"priority"`
	Weight         float64 `json:"weight"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Model          string  `json:"model"`
	Endpoint       string  `json:"endpoint"`
}

// RegisterProviderResponse echoes the registered configuration.
type RegisterProviderResponse struct {
	Provider model.ProviderConfig `json:"provider"`
}

// SetEnabledRequest flips a provider's enabled flag.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabledResponse confirms the new state.
type SetEnabledResponse struct {
	ProviderID string `json:"provider_id"`
	Enabled    bool   `json:"enabled"`
}

// ProviderHealthResponse lists per-provider breaker state, health window and
// recent classified errors.
type ProviderHealthResponse struct {
	Providers []biz.ProviderHealthSnapshot `json:"providers"`
}

// SingleProviderHealthResponse is one provider's snapshot.
type SingleProviderHealthResponse struct {
	Provider biz.ProviderHealthSnapshot `json:"provider"`
}

// ProviderUsageResponse lists per-provider cumulative usage counters.
type ProviderUsageResponse struct {
	Providers []model.ProviderUsageStats `json:"providers"`
}

// ConsultService exposes the dispatch layer over HTTP.
type ConsultService struct {
	orchestrator *biz.MultiConsultOrchestrator
	fallback     *biz.FallbackChainExecutor
	selector     *biz.ProviderSelector
	registry     *biz.ProviderRegistry
	handler      *biz.ErrorHandler
	health       *biz.ProviderHealthTracker
	logger       *log.Helper
}

// NewConsultService creates a new ConsultService instance.
func NewConsultService(
	orchestrator *biz.MultiConsultOrchestrator,
	fallback *biz.FallbackChainExecutor,
	selector *biz.ProviderSelector,
	registry *biz.ProviderRegistry,
	handler *biz.ErrorHandler,
	health *biz.ProviderHealthTracker,
	logger log.Logger,
) *ConsultService {
	return &ConsultService{
		orchestrator: orchestrator,
		fallback:     fallback,
		selector:     selector,
		registry:     registry,
		handler:      handler,
		health:       health,
		logger:       log.NewHelper(logger),
	}
}

// Consult asks a single named provider.
func (s *ConsultService) Consult(ctx context.Context, req *ConsultRequest) (*ConsultResponse, error) {
	if req.Query == "" {
		return nil, kerrors.BadRequest("EMPTY_QUERY", "query must not be empty")
	}
	if req.ProviderID == "" {
		return nil, kerrors.BadRequest("MISSING_PROVIDER", "provider_id must not be empty")
	}

	requestID := uuid.NewString()
	s.logger.Infow("Consult called", "request_id", requestID, "provider_id", req.ProviderID)

	resp, err := s.orchestrator.ConsultProvider(ctx, req.ProviderID, req.Query)
	if err != nil {
		s.logger.Errorw("consultation failed", "request_id", requestID, "provider_id", req.ProviderID, "error", err)
		return nil, s.mapError(err)
	}

	return &ConsultResponse{RequestID: requestID, Response: resp}, nil
}

// MultiConsult fans the query out and reconciles the answers.
func (s *ConsultService) MultiConsult(ctx context.Context, req *MultiConsultRequest) (*MultiConsultResponse, error) {
	if req.Query == "" {
		return nil, kerrors.BadRequest("EMPTY_QUERY", "query must not be empty")
	}

	var strategy biz.ConsensusStrategy
	if req.Strategy != "" {
		parsed, err := biz.ParseConsensusStrategy(req.Strategy)
		if err != nil {
			return nil, kerrors.BadRequest("UNKNOWN_STRATEGY", err.Error())
		}
		strategy = parsed
	}

	requestID := uuid.NewString()
	s.logger.Infow("MultiConsult called",
		"request_id", requestID,
		"strategy", req.Strategy,
		"max_providers", req.MaxProviders,
		"min_providers", req.MinProviders)

	result, err := s.orchestrator.MultiConsult(ctx, req.Query, biz.MultiConsultOptions{
		ProviderIDs:                req.ProviderIDs,
		MaxProviders:               req.MaxProviders,
		MinProviders:               req.MinProviders,
		Strategy:                   strategy,
		Timeout:                    time.Duration(req.TimeoutSeconds) * time.Second,
		IncludeIndividualResponses: req.IncludeIndividualResponses,
	})
	if err != nil {
		s.logger.Errorw("multi-consultation failed", "request_id", requestID, "error", err)
		return nil, s.mapError(err)
	}

	return &MultiConsultResponse{RequestID: requestID, Result: result}, nil
}

// ExecuteFallbackChain tries providers sequentially until one answers.
func (s *ConsultService) ExecuteFallbackChain(ctx context.Context, req *FallbackChainRequest) (*FallbackChainResponse, error) {
	if req.Query == "" {
		return nil, kerrors.BadRequest("EMPTY_QUERY", "query must not be empty")
	}
	if len(req.ProviderIDs) == 0 {
		return nil, kerrors.BadRequest("EMPTY_CHAIN", "provider_ids must not be empty")
	}

	requestID := uuid.NewString()
	s.logger.Infow("ExecuteFallbackChain called",
		"request_id", requestID,
		"chain", req.ProviderIDs,
		"max_attempts", req.MaxAttempts)

	result, err := s.fallback.Execute(ctx, req.ProviderIDs, req.Query,
		req.MaxAttempts, time.Duration(req.RetryDelaySeconds)*time.Second)
	if err != nil {
		s.logger.Errorw("fallback chain failed", "request_id", requestID, "error", err)
		return nil, s.mapError(err)
	}

	return &FallbackChainResponse{RequestID: requestID, Result: result}, nil
}

// SelectProvider scores the candidates and names the best one.
func (s *ConsultService) SelectProvider(ctx context.Context, req *SelectProviderRequest) (*SelectProviderResponse, error) {
	s.logger.Debugw("SelectProvider called",
		"preferred", req.Preferred,
		"excluded", req.Excluded,
		"require_fast", req.RequireFastResponse)

	selected, err := s.selector.Select(biz.SelectionFilter{
		Preferred:           req.Preferred,
		Excluded:            req.Excluded,
		RequireFastResponse: req.RequireFastResponse,
	})
	if err != nil {
		return nil, s.mapError(err)
	}

	return &SelectProviderResponse{Selected: selected}, nil
}

// RegisterProvider adds a backend to the registry at runtime. The adapter
// pool is built from static configuration, so consultations to a provider
// registered this way fail until it also appears in configuration; the
// registration still takes part in selection and health reporting.
func (s *ConsultService) RegisterProvider(ctx context.Context, req *RegisterProviderRequest) (*RegisterProviderResponse, error) {
	if req.ID == "" {
		return nil, kerrors.BadRequest("MISSING_ID", "id must not be empty")
	}
	if req.Endpoint == "" {
		return nil, kerrors.BadRequest("MISSING_ENDPOINT", "endpoint must not be empty")
	}

	cfg := model.ProviderConfig{
		ID:       req.ID,
		Type:     req.Type,
		Enabled:  req.Enabled,
		Priority: req.Priority,
		Weight:   req.Weight,
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
		Model:    req.Model,
		Endpoint: req.Endpoint,
	}
	if err := s.registry.Register(cfg); err != nil {
		return nil, kerrors.BadRequest("DUPLICATE_PROVIDER", err.Error())
	}

	s.logger.Infow("provider registered", "provider_id", req.ID, "enabled", req.Enabled)

	registered, err := s.registry.Get(req.ID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &RegisterProviderResponse{Provider: registered}, nil
}

// SetProviderEnabled flips one provider's enabled flag.
func (s *ConsultService) SetProviderEnabled(ctx context.Context, providerID string, req *SetEnabledRequest) (*SetEnabledResponse, error) {
	if err := s.registry.SetEnabled(providerID, req.Enabled); err != nil {
		return nil, kerrors.NotFound("PROVIDER_NOT_FOUND", err.Error())
	}

	s.logger.Infow("provider enabled flag changed", "provider_id", providerID, "enabled", req.Enabled)
	return &SetEnabledResponse{ProviderID: providerID, Enabled: req.Enabled}, nil
}

// AllProviderHealth reports every known provider's health snapshot.
func (s *ConsultService) AllProviderHealth(ctx context.Context) (*ProviderHealthResponse, error) {
	return &ProviderHealthResponse{Providers: s.handler.AllProviderHealth()}, nil
}

// ProviderHealth reports one provider's health snapshot.
func (s *ConsultService) ProviderHealth(ctx context.Context, providerID string) (*SingleProviderHealthResponse, error) {
	if _, err := s.registry.Get(providerID); err != nil {
		return nil, kerrors.NotFound("PROVIDER_NOT_FOUND", err.Error())
	}
	return &SingleProviderHealthResponse{Provider: s.handler.ProviderHealth(providerID)}, nil
}

// ListProviders returns every registered provider in registration order.
func (s *ConsultService) ListProviders(ctx context.Context) ([]model.ProviderConfig, error) {
	return s.registry.List(), nil
}

// ProviderUsage reports cumulative usage counters for every provider.
func (s *ConsultService) ProviderUsage(ctx context.Context) (*ProviderUsageResponse, error) {
	return &ProviderUsageResponse{Providers: s.health.AllUsage()}, nil
}

// mapError translates dispatch-layer errors into transport errors with the
// right status codes.
func (s *ConsultService) mapError(err error) error {
	var openErr *biz.CircuitBreakerOpenError
	if errors.As(err, &openErr) {
		return kerrors.ServiceUnavailable("CIRCUIT_OPEN",
			fmt.Sprintf("provider %s is failing fast, retry after %s", openErr.ProviderID, openErr.RetryAfter))
	}

	var insuffErr *biz.InsufficientProvidersError
	if errors.As(err, &insuffErr) {
		return kerrors.ServiceUnavailable("INSUFFICIENT_PROVIDERS", insuffErr.Error())
	}

	var noneErr *biz.NoProviderAvailableError
	if errors.As(err, &noneErr) {
		return kerrors.NotFound("NO_PROVIDER_AVAILABLE", noneErr.Error())
	}

	var exhaustedErr *biz.FallbackExhaustedError
	if errors.As(err, &exhaustedErr) {
		return kerrors.ServiceUnavailable("FALLBACK_EXHAUSTED", exhaustedErr.Error())
	}

	var classified *perrors.ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Kind {
		case perrors.KindRateLimit:
			return kerrors.New(429, "PROVIDER_RATE_LIMITED", classified.Error())
		case perrors.KindTimeout:
			return kerrors.New(504, "PROVIDER_TIMEOUT", classified.Error())
		default:
			return kerrors.New(502, "PROVIDER_ERROR", classified.Error())
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "provider not found") {
		return kerrors.NotFound("PROVIDER_NOT_FOUND", msg)
	}
	if strings.Contains(msg, "provider disabled") {
		return kerrors.BadRequest("PROVIDER_DISABLED", msg)
	}

	return kerrors.InternalServer("INTERNAL", msg)
}
