package main

import (
	"time"

	"Parley/internal/biz"
	"Parley/internal/conf"
	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// newProviderRegistry builds the registry pre-loaded with every configured
// provider.
func newProviderRegistry(providers []*conf.Provider, logger log.Logger) (*biz.ProviderRegistry, error) {
	registry := biz.NewProviderRegistry(logger)
	for _, p := range providers {
		cfg := model.ProviderConfig{
			ID:       p.Id,
			Type:     p.Type,
			Enabled:  p.Enabled,
			Priority: int(p.Priority),
			Weight:   p.Weight,
			Model:    p.Model,
			Endpoint: p.Endpoint,
		}
		if p.Timeout != nil {
			cfg.Timeout = p.Timeout.AsDuration()
		}
		if err := registry.Register(cfg); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// newBreakerConfig converts breaker configuration into the biz layer's form.
func newBreakerConfig(c *conf.Breaker) biz.CircuitBreakerConfig {
	cfg := biz.DefaultCircuitBreakerConfig()
	if c == nil {
		return cfg
	}
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = int(c.FailureThreshold)
	}
	if c.RecoveryTimeout != nil {
		cfg.RecoveryTimeout = c.RecoveryTimeout.AsDuration()
	}
	if c.SuccessThreshold > 0 {
		cfg.SuccessThreshold = int(c.SuccessThreshold)
	}
	if c.CallTimeout != nil {
		cfg.CallTimeout = c.CallTimeout.AsDuration()
	}
	return cfg
}

// newConsultDefaults converts consultation configuration into the biz
// layer's form.
func newConsultDefaults(c *conf.Consult) biz.ConsultDefaults {
	defaults := biz.ConsultDefaults{
		MaxProviders: 3,
		MinProviders: 1,
		Strategy:     biz.StrategyMajorityVote,
		Timeout:      60 * time.Second,
	}
	if c == nil {
		return defaults
	}
	if c.MaxProviders > 0 {
		defaults.MaxProviders = int(c.MaxProviders)
	}
	if c.MinProviders > 0 {
		defaults.MinProviders = int(c.MinProviders)
	}
	if c.Strategy != "" {
		if strategy, err := biz.ParseConsensusStrategy(c.Strategy); err == nil {
			defaults.Strategy = strategy
		}
	}
	if c.Timeout != nil {
		defaults.Timeout = c.Timeout.AsDuration()
	}
	return defaults
}
