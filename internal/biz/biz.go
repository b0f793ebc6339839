// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"github.com/google/wire"
)

// ProviderSet is biz providers. The registry is provided at the composition
// root so it can be seeded from configuration.
var ProviderSet = wire.NewSet(
	NewProviderHealthTracker,
	NewErrorHandler,
	NewProviderSelector,
	NewMultiConsultOrchestrator,
	NewFallbackChainExecutor,
)
