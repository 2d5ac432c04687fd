package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/registry"
)

func reg() *registry.Registry {
	return registry.New([]registry.Capability{
		{ID: "openai-big", Provider: "openai", ContextWindow: 200000, InputCost: 10, OutputCost: 30, ReasoningScore: 90, CodingScore: 85, SpeedRating: 5},
		{ID: "openai-small", Provider: "openai", ContextWindow: 32000, InputCost: 0.5, OutputCost: 1.5, ReasoningScore: 40, CodingScore: 40, SpeedRating: 9},
		{ID: "anthropic-big", Provider: "anthropic", ContextWindow: 200000, InputCost: 12, OutputCost: 36, ReasoningScore: 92, CodingScore: 88, SpeedRating: 4},
	})
}

func TestSelectReturnsBestCandidate(t *testing.T) {
	s := New(reg(), nil)
	id, err := s.Select(analyzer.Requirements{Priority: analyzer.PriorityQuality})
	require.NoError(t, err)
	assert.Equal(t, "anthropic-big", id)
}

func TestFallbackChainExcludesGivenIDs(t *testing.T) {
	s := New(reg(), nil)
	chain, err := s.FallbackChain(analyzer.Requirements{Priority: analyzer.PriorityQuality}, map[string]bool{"anthropic-big": true})
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	assert.Equal(t, "openai-big", chain[0])
	assert.NotContains(t, chain, "anthropic-big")
}

func TestFallbackChainIsPureFunction(t *testing.T) {
	s := New(reg(), nil)
	req := analyzer.Requirements{Priority: analyzer.PriorityBalanced}
	a, err := s.FallbackChain(req, nil)
	require.NoError(t, err)
	b, err := s.FallbackChain(req, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFallbackChainRelaxesOnZeroCandidates(t *testing.T) {
	s := New(reg(), nil)
	req := analyzer.Requirements{MinReasoning: 99, Priority: analyzer.PriorityQuality}
	chain, err := s.FallbackChain(req, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, chain)
}

func TestFallbackChainReturnsErrNoCandidatesWhenEvenRelaxedFails(t *testing.T) {
	s := New(reg(), nil)
	req := analyzer.Requirements{MinContext: 99999999, Priority: analyzer.PriorityQuality}
	_, err := s.FallbackChain(req, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestFallbackChainLargerContextExcludesSmallerModels(t *testing.T) {
	s := New(reg(), nil)
	req := analyzer.Requirements{Priority: analyzer.PriorityQuality}
	chain, err := s.FallbackChainLargerContext(req, 32000, nil)
	require.NoError(t, err)
	assert.NotContains(t, chain, "openai-small") // 32000 is not > 32000
	for _, id := range chain {
		assert.NotEqual(t, "openai-small", id)
	}
}

func TestFallbackChainLargerContextReturnsErrNoCandidatesWhenNoneLarger(t *testing.T) {
	s := New(reg(), nil)
	req := analyzer.Requirements{Priority: analyzer.PriorityQuality}
	_, err := s.FallbackChainLargerContext(req, 200000, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

type stubHealth struct{ down map[string]bool }

func (h stubHealth) IsAvailable(providerID string) bool { return !h.down[providerID] }

func TestHealthFilterExcludesDownProviders(t *testing.T) {
	s := New(reg(), stubHealth{down: map[string]bool{"anthropic": true}})
	chain, err := s.FallbackChain(analyzer.Requirements{Priority: analyzer.PriorityQuality}, nil)
	require.NoError(t, err)
	for _, id := range chain {
		assert.NotEqual(t, "anthropic-big", id)
	}
}

func TestDemoteProviderExcludesAllModelsOnThatProvider(t *testing.T) {
	r := reg()
	excluded := DemoteProvider(r, "openai", nil)
	assert.True(t, excluded["openai-big"])
	assert.True(t, excluded["openai-small"])
	assert.False(t, excluded["anthropic-big"])
}

func TestSortedProviderIDs(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "openai"}, SortedProviderIDs(reg()))
}
