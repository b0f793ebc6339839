package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Parley/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// FallbackExhaustedError aggregates every per-provider failure of an
// exhausted fallback chain, in attempt order.
type FallbackExhaustedError struct {
	Attempts int
	Errors   []string
}

// Error implements the error interface.
func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("fallback chain exhausted after %d attempts: %s",
		e.Attempts, strings.Join(e.Errors, "; "))
}

// FallbackChainExecutor tries providers one at a time, in the caller's order,
// until one succeeds or the attempt budget runs out. It is used when a single
// best answer (not a consensus) is required.
type FallbackChainExecutor struct {
	handler  *ErrorHandler
	registry *ProviderRegistry
	clients  ClientPool
	logger   *log.Helper
}

// NewFallbackChainExecutor creates the executor.
func NewFallbackChainExecutor(handler *ErrorHandler, registry *ProviderRegistry, clients ClientPool, logger log.Logger) *FallbackChainExecutor {
	return &FallbackChainExecutor{
		handler:  handler,
		registry: registry,
		clients:  clients,
		logger:   log.NewHelper(logger),
	}
}

// Execute walks orderedProviderIDs sequentially, stopping at the first
// success, after maxAttempts attempts, or at the end of the list, whichever
// comes first. It sleeps retryDelay between attempts (context-aware, skipped
// after the final one). On exhaustion it returns a *FallbackExhaustedError
// carrying every per-provider error in attempt order.
func (f *FallbackChainExecutor) Execute(ctx context.Context, orderedProviderIDs []string, query string, maxAttempts int, retryDelay time.Duration) (*model.FallbackResult, error) {
	if len(orderedProviderIDs) == 0 {
		return nil, fmt.Errorf("fallback chain is empty")
	}
	if maxAttempts <= 0 || maxAttempts > len(orderedProviderIDs) {
		maxAttempts = len(orderedProviderIDs)
	}

	var attemptErrors []string
	attempts := 0

	for _, providerID := range orderedProviderIDs[:maxAttempts] {
		if attempts > 0 && retryDelay > 0 {
			select {
			case <-ctx.Done():
				attemptErrors = append(attemptErrors, fmt.Sprintf("chain cancelled: %v", ctx.Err()))
				return nil, &FallbackExhaustedError{Attempts: attempts, Errors: attemptErrors}
			case <-time.After(retryDelay):
			}
		}
		attempts++

		raw, err := f.attempt(ctx, providerID, query)
		if err != nil {
			f.logger.Warnw("fallback attempt failed",
				"provider_id", providerID,
				"attempt", attempts,
				"error", err)
			attemptErrors = append(attemptErrors, fmt.Sprintf("%s: %v", providerID, err))
			continue
		}

		f.logger.Infow("fallback chain succeeded",
			"provider_id", providerID,
			"attempts", attempts)

		return &model.FallbackResult{
			ProviderID: providerID,
			Response:   raw,
			Attempts:   attempts,
			Errors:     attemptErrors,
		}, nil
	}

	return nil, &FallbackExhaustedError{Attempts: attempts, Errors: attemptErrors}
}

// attempt routes one chain link through the ErrorHandler with no fallback
// value, so classification detail survives into the aggregate error.
func (f *FallbackChainExecutor) attempt(ctx context.Context, providerID, query string) (*model.RawResult, error) {
	cfg, err := f.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("provider disabled: %s", providerID)
	}

	return f.handler.SafeCall(ctx, cfg.ID, func(callCtx context.Context) (*model.RawResult, error) {
		client, cerr := f.clients.Client(cfg.ID)
		if cerr != nil {
			return nil, cerr
		}
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, cfg.Timeout)
			defer cancel()
		}
		return client.Consult(callCtx, query)
	})
}
