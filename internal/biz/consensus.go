package biz

import (
	"fmt"

	"Parley/internal/model"
)

// ConsensusStrategy names the reconciliation applied to a fan-out's
// successful responses.
type ConsensusStrategy string

const (
	// StrategyFirstSuccess returns the first successful response in
	// candidate order (not completion order).
	StrategyFirstSuccess ConsensusStrategy = "first_success"
	// StrategyMajorityVote returns the most frequent response text.
	StrategyMajorityVote ConsensusStrategy = "majority_vote"
	// StrategyWeightedAverage weighs votes by configured provider weight.
	StrategyWeightedAverage ConsensusStrategy = "weighted_average"
	// StrategyBestQuality returns the highest-confidence response.
	StrategyBestQuality ConsensusStrategy = "best_quality"
	// StrategyAllAgree reports full confidence only on unanimity.
	StrategyAllAgree ConsensusStrategy = "all_agree"
)

// ParseConsensusStrategy validates a strategy name.
func ParseConsensusStrategy(s string) (ConsensusStrategy, error) {
	switch ConsensusStrategy(s) {
	case StrategyFirstSuccess, StrategyMajorityVote, StrategyWeightedAverage, StrategyBestQuality, StrategyAllAgree:
		return ConsensusStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown consensus strategy: %q", s)
	}
}

// consensusOutcome is the strategy-computed part of a ConsensusResult.
type consensusOutcome struct {
	response   string
	confidence float64
	reasoning  string
}

// applyConsensus reconciles successful responses into one answer.
//
// The input preserves candidate order, which makes every strategy
// deterministic across runs regardless of which network call physically
// finished first. Response grouping is exact string match; near-duplicate
// detection is an accepted future enhancement, not the baseline.
// No strategy fails on a single-element input.
func applyConsensus(strategy ConsensusStrategy, responses []model.ProviderResponse, weights map[string]float64) (consensusOutcome, error) {
	if len(responses) == 0 {
		return consensusOutcome{}, fmt.Errorf("no successful responses to reconcile")
	}

	switch strategy {
	case StrategyFirstSuccess:
		return firstSuccess(responses), nil
	case StrategyMajorityVote:
		return majorityVote(responses), nil
	case StrategyWeightedAverage:
		return weightedAverage(responses, weights), nil
	case StrategyBestQuality:
		return bestQuality(responses), nil
	case StrategyAllAgree:
		return allAgree(responses), nil
	default:
		return consensusOutcome{}, fmt.Errorf("unknown consensus strategy: %q", strategy)
	}
}

func firstSuccess(responses []model.ProviderResponse) consensusOutcome {
	first := responses[0]
	return consensusOutcome{
		response:   first.Content,
		confidence: first.Confidence,
		reasoning:  fmt.Sprintf("first successful response, from %s", first.ProviderID),
	}
}

// voteGroup is one exact-match response group.
type voteGroup struct {
	content    string
	count      int
	weight     float64
	firstIndex int
	providers  []string
}

func groupResponses(responses []model.ProviderResponse, weights map[string]float64) []*voteGroup {
	byContent := make(map[string]*voteGroup)
	var groups []*voteGroup

	for i, r := range responses {
		w, ok := weights[r.ProviderID]
		if !ok || w <= 0 {
			w = 1.0
		}
		g, exists := byContent[r.Content]
		if !exists {
			g = &voteGroup{content: r.Content, firstIndex: i}
			byContent[r.Content] = g
			groups = append(groups, g)
		}
		g.count++
		g.weight += w
		g.providers = append(g.providers, r.ProviderID)
	}
	return groups
}

func majorityVote(responses []model.ProviderResponse) consensusOutcome {
	groups := groupResponses(responses, nil)

	best := groups[0]
	for _, g := range groups[1:] {
		// Strict > keeps the earliest group on ties.
		if g.count > best.count {
			best = g
		}
	}

	return consensusOutcome{
		response:   best.content,
		confidence: float64(best.count) / float64(len(responses)),
		reasoning:  fmt.Sprintf("majority vote: %d of %d providers agree (%v)", best.count, len(responses), best.providers),
	}
}

func weightedAverage(responses []model.ProviderResponse, weights map[string]float64) consensusOutcome {
	groups := groupResponses(responses, weights)

	totalWeight := 0.0
	for _, g := range groups {
		totalWeight += g.weight
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if g.weight > best.weight {
			best = g
		}
	}

	confidence := 0.0
	if totalWeight > 0 {
		confidence = best.weight / totalWeight
	}

	return consensusOutcome{
		response:   best.content,
		confidence: confidence,
		reasoning: fmt.Sprintf("weighted vote: weight %.2f of %.2f behind %d providers (%v)",
			best.weight, totalWeight, best.count, best.providers),
	}
}

func bestQuality(responses []model.ProviderResponse) consensusOutcome {
	best := responses[0]
	for _, r := range responses[1:] {
		if r.Confidence > best.Confidence ||
			(r.Confidence == best.Confidence && r.Latency < best.Latency) {
			best = r
		}
	}

	return consensusOutcome{
		response:   best.Content,
		confidence: best.Confidence,
		reasoning:  fmt.Sprintf("best quality: %s reported confidence %.2f at %s", best.ProviderID, best.Confidence, best.Latency),
	}
}

func allAgree(responses []model.ProviderResponse) consensusOutcome {
	first := responses[0]
	if len(responses) == 1 {
		return consensusOutcome{
			response:   first.Content,
			confidence: 1.0,
			reasoning:  "single response, trivially unanimous",
		}
	}

	for _, r := range responses[1:] {
		if r.Content != first.Content {
			// Partial agreement falls back to the first response with
			// reduced confidence rather than attempting reconciliation.
			return consensusOutcome{
				response:   first.Content,
				confidence: 0.8,
				reasoning:  fmt.Sprintf("providers disagree (%s differs from %s), returning first response", r.ProviderID, first.ProviderID),
			}
		}
	}

	return consensusOutcome{
		response:   first.Content,
		confidence: 1.0,
		reasoning:  fmt.Sprintf("all %d providers agree", len(responses)),
	}
}
