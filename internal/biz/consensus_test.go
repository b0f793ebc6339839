package biz

import (
	"testing"
	"time"

	"Parley/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resp(id, content string, confidence float64) model.ProviderResponse {
	return model.ProviderResponse{
		ProviderID: id,
		Content:    content,
		Confidence: confidence,
		Success:    true,
	}
}

func TestParseConsensusStrategy(t *testing.T) {
	for _, s := range []string{"first_success", "majority_vote", "weighted_average", "best_quality", "all_agree"} {
		parsed, err := ParseConsensusStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, ConsensusStrategy(s), parsed)
	}

	_, err := ParseConsensusStrategy("mode_collapse")
	assert.Error(t, err)
}

func TestApplyConsensus_EmptyInput(t *testing.T) {
	_, err := applyConsensus(StrategyMajorityVote, nil, nil)
	assert.Error(t, err)
}

func TestApplyConsensus_UnknownStrategy(t *testing.T) {
	_, err := applyConsensus(ConsensusStrategy("bogus"), []model.ProviderResponse{resp("a", "x", 1)}, nil)
	assert.Error(t, err)
}

func TestFirstSuccess_TakesCandidateOrder(t *testing.T) {
	// The input is in candidate order, not arrival order, so the outcome is
	// deterministic regardless of which call finished first.
	responses := []model.ProviderResponse{
		resp("gpt4", "answer A", 0.9),
		resp("claude", "answer B", 0.99),
	}

	out, err := applyConsensus(StrategyFirstSuccess, responses, nil)
	require.NoError(t, err)
	assert.Equal(t, "answer A", out.response)
	assert.Equal(t, 0.9, out.confidence)
	assert.Contains(t, out.reasoning, "gpt4")
}

func TestMajorityVote(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "yes", 1),
		resp("claude", "no", 1),
		resp("gemini", "yes", 1),
	}

	out, err := applyConsensus(StrategyMajorityVote, responses, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", out.response)
	assert.InDelta(t, 2.0/3.0, out.confidence, 0.001)
}

func TestMajorityVote_TieKeepsEarliestGroup(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "yes", 1),
		resp("claude", "no", 1),
	}

	out, err := applyConsensus(StrategyMajorityVote, responses, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", out.response)
	assert.InDelta(t, 0.5, out.confidence, 0.001)
}

func TestWeightedAverage(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "yes", 1),
		resp("claude", "no", 1),
		resp("gemini", "no", 1),
	}
	weights := map[string]float64{"gpt4": 5.0, "claude": 1.0, "gemini": 1.0}

	out, err := applyConsensus(StrategyWeightedAverage, responses, weights)
	require.NoError(t, err)
	// A single heavy provider outvotes two light ones.
	assert.Equal(t, "yes", out.response)
	assert.InDelta(t, 5.0/7.0, out.confidence, 0.001)
}

func TestWeightedAverage_MissingWeightDefaultsToOne(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "yes", 1),
		resp("claude", "no", 1),
	}

	out, err := applyConsensus(StrategyWeightedAverage, responses, map[string]float64{})
	require.NoError(t, err)
	assert.Equal(t, "yes", out.response)
	assert.InDelta(t, 0.5, out.confidence, 0.001)
}

func TestBestQuality(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "fine", 0.7),
		resp("claude", "better", 0.95),
		resp("gemini", "meh", 0.6),
	}

	out, err := applyConsensus(StrategyBestQuality, responses, nil)
	require.NoError(t, err)
	assert.Equal(t, "better", out.response)
	assert.Equal(t, 0.95, out.confidence)
}

func TestBestQuality_LatencyBreaksConfidenceTie(t *testing.T) {
	slow := resp("gpt4", "slow", 0.9)
	slow.Latency = 500 * time.Millisecond
	fast := resp("claude", "fast", 0.9)
	fast.Latency = 50 * time.Millisecond

	out, err := applyConsensus(StrategyBestQuality, []model.ProviderResponse{slow, fast}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", out.response)
}

func TestAllAgree_Unanimous(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "42", 0.9),
		resp("claude", "42", 0.8),
	}

	out, err := applyConsensus(StrategyAllAgree, responses, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", out.response)
	assert.Equal(t, 1.0, out.confidence)
}

func TestAllAgree_DisagreementReducesConfidence(t *testing.T) {
	responses := []model.ProviderResponse{
		resp("gpt4", "42", 1),
		resp("claude", "41", 1),
	}

	out, err := applyConsensus(StrategyAllAgree, responses, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", out.response)
	assert.Equal(t, 0.8, out.confidence)
	assert.Contains(t, out.reasoning, "disagree")
}

func TestAllAgree_SingleResponse(t *testing.T) {
	out, err := applyConsensus(StrategyAllAgree, []model.ProviderResponse{resp("gpt4", "42", 0.5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.confidence)
}
