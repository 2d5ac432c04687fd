package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/registry"
)

func capSet() []registry.Capability {
	return []registry.Capability{
		{ID: "cheap-fast", ContextWindow: 16000, InputCost: 0.5, OutputCost: 1.5, ReasoningScore: 40, CodingScore: 35, SpeedRating: 9},
		{ID: "flagship", ContextWindow: 200000, InputCost: 15, OutputCost: 60, ReasoningScore: 95, CodingScore: 90, SpeedRating: 4},
		{ID: "blocked-model", ContextWindow: 100000, ReasoningScore: 99, CodingScore: 99, Blocked: true},
		{ID: "vision-model", ContextWindow: 128000, ReasoningScore: 70, CodingScore: 60, SpeedRating: 6, SupportsVision: true},
	}
}

func TestScoreRejectsBlocked(t *testing.T) {
	r := Score(capSet()[2], analyzer.Requirements{Priority: analyzer.PriorityBalanced})
	require.True(t, r.Rejected)
	assert.Equal(t, RejectBlocked, r.Reason)
}

func TestScoreRejectsContextWindowTooSmall(t *testing.T) {
	r := Score(capSet()[0], analyzer.Requirements{MinContext: 100000, Priority: analyzer.PriorityBalanced})
	require.True(t, r.Rejected)
	assert.Equal(t, RejectContextWindow, r.Reason)
}

func TestScoreRejectsVisionUnsupported(t *testing.T) {
	r := Score(capSet()[0], analyzer.Requirements{TaskType: analyzer.TaskVision, Priority: analyzer.PriorityBalanced})
	require.True(t, r.Rejected)
	assert.Equal(t, RejectVision, r.Reason)
}

func TestScoreRejectsMaxCost(t *testing.T) {
	maxCost := 2.0
	r := Score(capSet()[1], analyzer.Requirements{MaxCost: &maxCost, Priority: analyzer.PriorityBalanced})
	require.True(t, r.Rejected)
	assert.Equal(t, RejectMaxCost, r.Reason)
}

func TestScoreRejectsMinReasoningAndCoding(t *testing.T) {
	req := analyzer.Requirements{MinReasoning: 80, Priority: analyzer.PriorityBalanced}
	r := Score(capSet()[0], req)
	require.True(t, r.Rejected)
	assert.Equal(t, RejectMinReasoning, r.Reason)
}

func TestQualityPriorityFavorsFlagship(t *testing.T) {
	req := analyzer.Requirements{Priority: analyzer.PriorityQuality}
	results := Rank([]registry.Capability{capSet()[0], capSet()[1]}, req)
	require.Len(t, results, 2)
	assert.Equal(t, "flagship", results[0].ModelID)
}

func TestCostPriorityFavorsCheap(t *testing.T) {
	req := analyzer.Requirements{Priority: analyzer.PriorityCost}
	results := Rank([]registry.Capability{capSet()[0], capSet()[1]}, req)
	require.Len(t, results, 2)
	assert.Equal(t, "cheap-fast", results[0].ModelID)
}

func TestQualityPriorityWeighsReasoningOverCoding(t *testing.T) {
	reasoningHeavy := registry.Capability{ID: "reasoning-heavy", ContextWindow: 100000, ReasoningScore: 90, CodingScore: 60, SpeedRating: 5}
	codingHeavy := registry.Capability{ID: "coding-heavy", ContextWindow: 100000, ReasoningScore: 60, CodingScore: 90, SpeedRating: 5}
	req := analyzer.Requirements{Priority: analyzer.PriorityQuality}
	results := Rank([]registry.Capability{reasoningHeavy, codingHeavy}, req)
	require.Len(t, results, 2)
	assert.Equal(t, "reasoning-heavy", results[0].ModelID)
	assert.NotEqual(t, results[0].Score, results[1].Score)
}

func TestRankIsDeterministicAcrossRuns(t *testing.T) {
	req := analyzer.Requirements{Priority: analyzer.PriorityBalanced}
	caps := capSet()
	first := Rank(caps, req)
	for i := 0; i < 5; i++ {
		again := Rank(caps, req)
		assert.Equal(t, first, again)
	}
}

func TestRankTieBreaksOnReasoningThenContextThenInsertion(t *testing.T) {
	caps := []registry.Capability{
		{ID: "a", ContextWindow: 10000, ReasoningScore: 50, CodingScore: 50, SpeedRating: 5},
		{ID: "b", ContextWindow: 20000, ReasoningScore: 50, CodingScore: 50, SpeedRating: 5},
	}
	req := analyzer.Requirements{Priority: analyzer.PriorityBalanced}
	results := Rank(caps, req)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ModelID) // larger context window wins the tie
}
