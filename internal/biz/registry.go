package biz

import (
	"fmt"
	"sync"

	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderRegistry is the in-memory table of provider configurations.
// Registration order is preserved because it is the selector's tie-breaker.
// Configs are immutable after registration except for the enabled flag.
type ProviderRegistry struct {
	logger *log.Helper

	mu    sync.RWMutex
	byID  map[string]*model.ProviderConfig
	order []string
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry(logger log.Logger) *ProviderRegistry {
	return &ProviderRegistry{
		logger: log.NewHelper(logger),
		byID:   make(map[string]*model.ProviderConfig),
	}
}

// Register adds a provider configuration. Provider ids must be unique.
func (r *ProviderRegistry) Register(cfg model.ProviderConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1.0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[cfg.ID]; exists {
		return fmt.Errorf("provider already registered: %s", cfg.ID)
	}

	stored := cfg
	r.byID[cfg.ID] = &stored
	r.order = append(r.order, cfg.ID)

	r.logger.Infow("provider registered",
		"provider_id", cfg.ID,
		"type", cfg.Type,
		"enabled", cfg.Enabled,
		"priority", cfg.Priority)

	return nil
}

// SetEnabled toggles a provider's enabled flag.
func (r *ProviderRegistry) SetEnabled(providerID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.byID[providerID]
	if !ok {
		return fmt.Errorf("provider not found: %s", providerID)
	}
	cfg.Enabled = enabled

	r.logger.Infow("provider enabled flag changed",
		"provider_id", providerID,
		"enabled", enabled)

	return nil
}

// Get returns a copy of the provider's configuration.
func (r *ProviderRegistry) Get(providerID string) (model.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.byID[providerID]
	if !ok {
		return model.ProviderConfig{}, fmt.Errorf("provider not found: %s", providerID)
	}
	return *cfg, nil
}

// List returns all provider configurations in registration order.
func (r *ProviderRegistry) List() []model.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ProviderConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// ListEnabled returns enabled provider configurations in registration order.
func (r *ProviderRegistry) ListEnabled() []model.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ProviderConfig, 0, len(r.order))
	for _, id := range r.order {
		if cfg := r.byID[id]; cfg.Enabled {
			out = append(out, *cfg)
		}
	}
	return out
}
