// Package errors provides provider error classification and handling utilities.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorKind represents the classified kind of a provider failure.
type ErrorKind int

const (
	// KindUnknown represents an unclassifiable provider error.
	KindUnknown ErrorKind = iota
	// KindTimeout represents a call that exceeded its deadline.
	KindTimeout
	// KindCrash represents a provider process crash or panic signature.
	KindCrash
	// KindAssertionFailure represents an assertion failure reported by the backend.
	KindAssertionFailure
	// KindMemoryError represents an out-of-memory condition on the backend.
	KindMemoryError
	// KindModelNotFound represents a request for a model the backend does not serve.
	KindModelNotFound
	// KindApiError represents an authentication or generic API-level failure.
	KindApiError
	// KindRateLimit represents a rate-limit rejection (HTTP 429 family).
	KindRateLimit
	// KindContextLengthExceeded represents a prompt larger than the model window.
	KindContextLengthExceeded
	// KindNetworkError represents a transport-level connection failure.
	KindNetworkError
)

// String returns the snake_case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCrash:
		return "crash"
	case KindAssertionFailure:
		return "assertion_failure"
	case KindMemoryError:
		return "memory_error"
	case KindModelNotFound:
		return "model_not_found"
	case KindApiError:
		return "api_error"
	case KindRateLimit:
		return "rate_limit"
	case KindContextLengthExceeded:
		return "context_length_exceeded"
	case KindNetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps a provider error with classification information.
type ClassifiedError struct {
	Kind        ErrorKind
	ProviderID  string
	Message     string
	Cause       error
	Timestamp   time.Time
	Recoverable bool
}

// Error implements the error interface. The cause is not repeated in the
// string: Message already carries its text, and Unwrap exposes it for
// errors.Is and errors.As.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] provider %s: %s", e.Kind, e.ProviderID, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Classify classifies an arbitrary provider error into an ErrorKind.
//
// It is total and deterministic: any non-nil error yields a *ClassifiedError,
// the same error always yields the same Kind and Recoverable values, and no
// input can make it panic. Signatures are tested in a fixed priority order:
//
//	assertion/crash → timeout → memory → model-not-found → auth/API →
//	rate-limit → context-length → network → unknown
//
// AssertionFailure, MemoryError and ModelNotFound are never recoverable;
// every other kind defaults to recoverable.
func Classify(err error, providerID string) *ClassifiedError {
	if err == nil {
		return nil
	}

	kind := classifyKind(err)

	return &ClassifiedError{
		Kind:        kind,
		ProviderID:  providerID,
		Message:     err.Error(),
		Cause:       err,
		Timestamp:   time.Now(),
		Recoverable: kind != KindAssertionFailure && kind != KindMemoryError && kind != KindModelNotFound,
	}
}

// classifyKind maps an error to its kind using type checks and case-insensitive
// message signatures, in priority order.
func classifyKind(err error) ErrorKind {
	msg := strings.ToLower(err.Error())

	switch {
	case matchesAny(msg, assertionSignatures):
		return KindAssertionFailure
	case matchesAny(msg, crashSignatures):
		return KindCrash
	case isTimeoutError(err, msg):
		return KindTimeout
	case matchesAny(msg, memorySignatures):
		return KindMemoryError
	case matchesAny(msg, modelNotFoundSignatures):
		return KindModelNotFound
	case matchesAny(msg, apiSignatures):
		return KindApiError
	case matchesAny(msg, rateLimitSignatures):
		return KindRateLimit
	case matchesAny(msg, contextLengthSignatures):
		return KindContextLengthExceeded
	case isNetworkError(err, msg):
		return KindNetworkError
	default:
		return KindUnknown
	}
}

var (
	assertionSignatures = []string{
		"assertion failed",
		"assertionerror",
		"assert failed",
	}

	crashSignatures = []string{
		"panic:",
		"runtime error",
		"segmentation fault",
		"process exited",
		"killed",
		"crashed",
	}

	memorySignatures = []string{
		"out of memory",
		"cannot allocate memory",
		"oom",
		"memory exhausted",
	}

	modelNotFoundSignatures = []string{
		"model not found",
		"model_not_found",
		"no such model",
		"unknown model",
		"model does not exist",
	}

	apiSignatures = []string{
		"unauthorized",
		"forbidden",
		"invalid api key",
		"invalid_api_key",
		"authentication",
		"api error",
		"bad request",
		"status 401",
		"status 403",
		"status 500",
		"internal server error",
	}

	rateLimitSignatures = []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"status 429",
		"quota exceeded",
	}

	contextLengthSignatures = []string{
		"context length",
		"context_length_exceeded",
		"maximum context",
		"token limit",
		"prompt is too long",
	}

	networkSignatures = []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"dial tcp",
		"unexpected eof",
	}
)

// isTimeoutError checks both error types and message signatures for timeouts.
func isTimeoutError(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return matchesAny(msg, []string{"timeout", "timed out", "deadline exceeded"})
}

// isNetworkError checks both error types and message signatures for transport failures.
func isNetworkError(err error, msg string) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return matchesAny(msg, networkSignatures)
}

func matchesAny(msg string, signatures []string) bool {
	for _, sig := range signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsRecoverable reports whether the error, once classified, is worth retrying.
// Unclassifiable (nil) input is treated as non-retryable.
func IsRecoverable(err error, providerID string) bool {
	ce := Classify(err, providerID)
	return ce != nil && ce.Recoverable
}

// IsRateLimitError checks if the error is a rate-limit rejection.
func IsRateLimitError(err error) bool {
	ce := Classify(err, "")
	return ce != nil && ce.Kind == KindRateLimit
}

// IsTimeoutError checks if the error is a timeout.
func IsTimeoutError(err error) bool {
	ce := Classify(err, "")
	return ce != nil && ce.Kind == KindTimeout
}
