package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil, "ollama-local"))
}

func TestClassify_MessageSignatures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expected    ErrorKind
		recoverable bool
	}{
		{
			name:        "assertion failure",
			err:         errors.New("AssertionError: expected logits to be finite"),
			expected:    KindAssertionFailure,
			recoverable: false,
		},
		{
			name:        "crash",
			err:         errors.New("inference worker crashed: signal: killed"),
			expected:    KindCrash,
			recoverable: true,
		},
		{
			name:        "panic signature",
			err:         errors.New("panic: runtime error: index out of range"),
			expected:    KindCrash,
			recoverable: true,
		},
		{
			name:        "timeout message",
			err:         errors.New("request timed out after 30s"),
			expected:    KindTimeout,
			recoverable: true,
		},
		{
			name:        "out of memory",
			err:         errors.New("CUDA error: out of memory"),
			expected:    KindMemoryError,
			recoverable: false,
		},
		{
			name:        "model not found",
			err:         errors.New("model not found: llama3:70b"),
			expected:    KindModelNotFound,
			recoverable: false,
		},
		{
			name:        "invalid api key",
			err:         errors.New("invalid api key provided"),
			expected:    KindApiError,
			recoverable: true,
		},
		{
			name:        "unauthorized",
			err:         errors.New("status 401: Unauthorized"),
			expected:    KindApiError,
			recoverable: true,
		},
		{
			name:        "rate limit",
			err:         errors.New("status 429: Too Many Requests"),
			expected:    KindRateLimit,
			recoverable: true,
		},
		{
			name:        "context length",
			err:         errors.New("context_length_exceeded: prompt is too long"),
			expected:    KindContextLengthExceeded,
			recoverable: true,
		},
		{
			name:        "connection refused",
			err:         errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"),
			expected:    KindNetworkError,
			recoverable: true,
		},
		{
			name:        "unknown",
			err:         errors.New("something inexplicable happened"),
			expected:    KindUnknown,
			recoverable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err, "vllm-a100")

			assert.NotNil(t, ce)
			assert.Equal(t, tt.expected, ce.Kind)
			assert.Equal(t, tt.recoverable, ce.Recoverable)
			assert.Equal(t, "vllm-a100", ce.ProviderID)
			assert.True(t, errors.Is(ce, tt.err))
		})
	}
}

func TestClassify_TypedErrors(t *testing.T) {
	ce := Classify(context.DeadlineExceeded, "p1")
	assert.Equal(t, KindTimeout, ce.Kind)

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("host unreachable")}
	ce = Classify(opErr, "p1")
	assert.Equal(t, KindNetworkError, ce.Kind)
}

// Assertion signatures must win over timeout even when both appear, because
// classification order is fixed.
func TestClassify_PriorityOrder(t *testing.T) {
	err := errors.New("assertion failed while waiting: timeout")
	ce := Classify(err, "p1")

	assert.Equal(t, KindAssertionFailure, ce.Kind)
	assert.False(t, ce.Recoverable)
}

func TestClassify_Idempotent(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", errors.New("connection reset by peer"))

	first := Classify(err, "p1")
	second := Classify(err, "p1")

	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.Recoverable, second.Recoverable)
	assert.Equal(t, first.Message, second.Message)
}

func TestClassifiedError_Error(t *testing.T) {
	ce := Classify(errors.New("status 429: Too Many Requests"), "openai-gpt4")

	assert.Contains(t, ce.Error(), "rate_limit")
	assert.Contains(t, ce.Error(), "openai-gpt4")
	assert.WithinDuration(t, time.Now(), ce.Timestamp, time.Second)
}

func TestClassifiedError_ErrorDoesNotRepeatCause(t *testing.T) {
	ce := Classify(errors.New("connection refused"), "p1")

	// Message carries the cause's text; the rendered string must not
	// contain it twice.
	assert.Equal(t, 1, strings.Count(ce.Error(), "connection refused"))
	assert.ErrorIs(t, ce, ce.Cause)
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("rate limit exceeded")))
	assert.False(t, IsRateLimitError(errors.New("boom")))
	assert.True(t, IsTimeoutError(context.DeadlineExceeded))
	assert.True(t, IsRecoverable(errors.New("connection refused"), "p1"))
	assert.False(t, IsRecoverable(errors.New("model not found"), "p1"))
	assert.False(t, IsRecoverable(nil, "p1"))
}
