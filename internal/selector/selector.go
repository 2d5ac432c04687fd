// Package selector implements the Selector: turns a ranked score list into a
// single pick plus an ordered fallback chain, with one relaxation pass when
// nothing survives hard filtering and cross-provider demotion when a
// provider itself becomes unavailable mid-flight.
package selector

import (
	"errors"
	"sort"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/registry"
	"github.com/austenvale/modelmux/internal/scorer"
)

// ErrNoCandidates is returned when even the relaxed pass yields nothing.
var ErrNoCandidates = errors.New("selector: no eligible models for requirements")

// HealthFilter reports whether a provider is currently considered healthy
// enough to route to. Implemented by internal/health.Tracker; optional. A
// nil HealthFilter means every provider is considered available.
type HealthFilter interface {
	IsAvailable(providerID string) bool
}

// Selector picks a model id, and can produce an ordered fallback chain, for
// a given set of requirements.
type Selector struct {
	registry *registry.Registry
	health   HealthFilter
}

// New builds a Selector over reg. health may be nil.
func New(reg *registry.Registry, health HealthFilter) *Selector {
	return &Selector{registry: reg, health: health}
}

// Select returns the single best model id for req, applying one relaxation
// pass if the strict requirements reject every candidate.
func (s *Selector) Select(req analyzer.Requirements) (string, error) {
	chain, err := s.FallbackChain(req, nil)
	if err != nil {
		return "", err
	}
	return chain[0], nil
}

// FallbackChain returns every eligible model id for req, best first, with
// ids in excluded omitted entirely. It is a pure function of
// (registry contents, req, excluded): calling it twice with the same
// arguments returns the same chain, and health-driven provider availability
// only filters — it never changes relative ordering.
//
// If the strict requirements reject everything, FallbackChain relaxes once:
// MinReasoning and MinCoding are halved, and MaxCost is dropped entirely.
// If the relaxed pass still yields nothing, ErrNoCandidates is returned.
func (s *Selector) FallbackChain(req analyzer.Requirements, excluded map[string]bool) ([]string, error) {
	caps := s.eligibleCaps(excluded)

	chain := s.rankToChain(caps, req)
	if len(chain) > 0 {
		return chain, nil
	}

	relaxed := req
	relaxed.MinReasoning /= 2
	relaxed.MinCoding /= 2
	relaxed.MaxCost = nil

	chain = s.rankToChain(caps, relaxed)
	if len(chain) > 0 {
		return chain, nil
	}
	return nil, ErrNoCandidates
}

// eligibleCaps returns every registered capability whose id is not in
// excluded and whose provider is not cross-provider-demoted by health.
func (s *Selector) eligibleCaps(excluded map[string]bool) []registry.Capability {
	return s.registry.Filter(func(c registry.Capability) bool {
		if excluded != nil && excluded[c.ID] {
			return false
		}
		if s.health != nil && !s.health.IsAvailable(c.Provider) {
			return false
		}
		return true
	})
}

func (s *Selector) rankToChain(caps []registry.Capability, req analyzer.Requirements) []string {
	ranked := scorer.Rank(caps, req)
	chain := make([]string, len(ranked))
	for i, r := range ranked {
		chain[i] = r.ModelID
	}
	return chain
}

// FallbackChainLargerContext behaves like FallbackChain but additionally
// restricts candidates to those whose ContextWindow exceeds
// minContextWindow, for use when the failing kind was context_exceeded:
// retrying an equally-small or smaller model would just overflow the same
// way. The same one-pass relaxation as FallbackChain applies
// within that larger-context subset before ErrNoCandidates is returned.
func (s *Selector) FallbackChainLargerContext(req analyzer.Requirements, minContextWindow int, excluded map[string]bool) ([]string, error) {
	caps := s.eligibleCaps(excluded)
	larger := make([]registry.Capability, 0, len(caps))
	for _, c := range caps {
		if c.ContextWindow > minContextWindow {
			larger = append(larger, c)
		}
	}

	chain := s.rankToChain(larger, req)
	if len(chain) > 0 {
		return chain, nil
	}

	relaxed := req
	relaxed.MinReasoning /= 2
	relaxed.MinCoding /= 2
	relaxed.MaxCost = nil

	chain = s.rankToChain(larger, relaxed)
	if len(chain) > 0 {
		return chain, nil
	}
	return nil, ErrNoCandidates
}

// DemoteProvider returns a new excluded set with every model belonging to
// providerID added, for use after a provider-level failure: once a provider
// call fails hard, every model on that provider is skipped for the
// remainder of this request's fallback walk, not just the one model that
// was tried.
func DemoteProvider(reg *registry.Registry, providerID string, excluded map[string]bool) map[string]bool {
	out := make(map[string]bool, len(excluded)+1)
	for k, v := range excluded {
		out[k] = v
	}
	for _, c := range reg.Filter(func(c registry.Capability) bool { return c.Provider == providerID }) {
		out[c.ID] = true
	}
	return out
}

// SortedProviderIDs returns the distinct provider ids present in reg in
// alphabetical order, for callers (e.g. internal/opsapi's provider listing)
// that want a stable, human-friendly ordering rather than registry
// insertion order.
func SortedProviderIDs(reg *registry.Registry) []string {
	seen := map[string]bool{}
	var ids []string
	for _, c := range reg.List() {
		if !seen[c.Provider] {
			seen[c.Provider] = true
			ids = append(ids, c.Provider)
		}
	}
	sort.Strings(ids)
	return ids
}
