package model

import "time"

// HealthStatus represents the coarse health classification of a provider.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// ProviderConfig describes a registered inference backend.
// Immutable after registration except for Enabled.
type ProviderConfig struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // descriptive tag, not behavior-bearing
	Enabled  bool          `json:"enabled"`
	Priority int           `json:"priority"` // higher = preferred
	Weight   float64       `json:"weight"`   // used in weighted consensus
	Timeout  time.Duration `json:"timeout"`
	Model    string        `json:"model"`
	Endpoint string        `json:"endpoint"`
}

// ProviderHealthCheck is a point-in-time health snapshot of a provider.
type ProviderHealthCheck struct {
	ProviderID          string        `json:"provider_id"`
	Status              HealthStatus  `json:"status"`
	LastLatency         time.Duration `json:"last_latency"`
	ErrorRate           float64       `json:"error_rate"` // over the recent window
	ConsecutiveSuccess  int           `json:"consecutive_success"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCheck           time.Time     `json:"last_check"`
}

// ProviderUsageStats holds cumulative usage counters for a provider.
type ProviderUsageStats struct {
	ProviderID     string        `json:"provider_id"`
	TotalRequests  int64         `json:"total_requests"`
	SuccessCount   int64         `json:"success_count"`
	FailureCount   int64         `json:"failure_count"`
	AverageLatency time.Duration `json:"average_latency"` // incremental mean
	LastUsed       time.Time     `json:"last_used"`
	TotalTokens    int64         `json:"total_tokens"` // opaque passthrough
	TotalCost      float64       `json:"total_cost"`   // opaque passthrough
}

// RawResult is what a provider adapter returns from one consultation call.
type RawResult struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"` // 0-1, provider-reported or defaulted to 1.0
	TokensUsed int64   `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// ProviderResponse is one provider's outcome within a fan-out.
type ProviderResponse struct {
	ProviderID string        `json:"provider_id"`
	Content    string        `json:"content"`
	Latency    time.Duration `json:"latency"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Confidence float64       `json:"confidence"`
	TokensUsed int64         `json:"tokens_used,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
}

// ConsensusResult is the reconciled outcome of a multi-provider consultation.
type ConsensusResult struct {
	Response            string             `json:"response"`
	Confidence          float64            `json:"confidence"`
	Strategy            string             `json:"strategy"`
	SucceededProviders  []string           `json:"succeeded_providers"`
	FailedProviders     []string           `json:"failed_providers"`
	TotalTime           time.Duration      `json:"total_time"`
	Reasoning           string             `json:"reasoning"`
	IndividualResponses []ProviderResponse `json:"individual_responses,omitempty"`
}

// SelectedProvider is the outcome of single-provider selection.
type SelectedProvider struct {
	ProviderID       string        `json:"provider_id"`
	Score            float64       `json:"score"`
	Reason           string        `json:"reason"`
	EstimatedLatency time.Duration `json:"estimated_latency"`
	EstimatedCost    float64       `json:"estimated_cost"`
}

// FallbackResult is the outcome of a sequential fallback-chain execution.
type FallbackResult struct {
	ProviderID string     `json:"provider_id"`
	Response   *RawResult `json:"response"`
	Attempts   int        `json:"attempts"`
	Errors     []string   `json:"errors,omitempty"` // per-provider failures before success
}
