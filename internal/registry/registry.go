// Package registry implements the Model Registry: an immutable, read-only
// lookup of Capability records by model id, immutable after construction
// so concurrent readers never need to lock.
package registry

import "errors"

// ErrNotFound is returned by Get when no capability is registered under the
// given id.
var ErrNotFound = errors.New("registry: model not found")

// Capability is the immutable description of a single registered model.
type Capability struct {
	ID       string
	Provider string // one of a closed set: openai, anthropic, google, xai, azure, bedrock, local, ...
	APIName  string // wire identifier the provider expects

	ContextWindow int // tokens

	InputCost  float64 // cost per million tokens
	OutputCost float64 // cost per million tokens

	ReasoningScore int // 0-100
	CodingScore    int // 0-100
	SpeedRating    int // 0-10

	SupportsVision          bool
	SupportsFunctionCalling bool

	Blocked bool
}

// Registry is an immutable, insertion-ordered lookup of Capability records.
// It is safe for concurrent use by any number of readers without locking:
// once constructed by New, nothing in a Registry is ever mutated. Any change
// requires building a new Registry and swapping the pointer at the call
// site.
type Registry struct {
	order []string
	byID  map[string]Capability
}

// New builds a Registry from a sequence of Capability records. Enumeration
// order (List, Filter) follows the order records appear in caps. Duplicate
// ids: the later record wins, but the id's position in insertion order is
// fixed by its first occurrence.
func New(caps []Capability) *Registry {
	r := &Registry{
		order: make([]string, 0, len(caps)),
		byID:  make(map[string]Capability, len(caps)),
	}
	for _, c := range caps {
		if _, exists := r.byID[c.ID]; !exists {
			r.order = append(r.order, c.ID)
		}
		r.byID[c.ID] = c
	}
	return r
}

// Get returns the capability registered under id, or ErrNotFound.
func (r *Registry) Get(id string) (Capability, error) {
	c, ok := r.byID[id]
	if !ok {
		return Capability{}, ErrNotFound
	}
	return c, nil
}

// List returns all registered capabilities in insertion order.
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Filter returns capabilities, in insertion order, for which pred returns true.
func (r *Registry) Filter(pred func(Capability) bool) []Capability {
	var out []Capability
	for _, id := range r.order {
		c := r.byID[id]
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// Len reports the number of registered models.
func (r *Registry) Len() int {
	return len(r.order)
}
