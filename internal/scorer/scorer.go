// Package scorer implements the Scorer: a pure function from a Capability
// and a set of Task Requirements to a score, or a rejection. Candidates
// first pass a hard eligibility filter, then receive a priority-weighted
// soft score (quality/speed/cost/balanced).
package scorer

import (
	"math"
	"sort"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/registry"
)

// RejectReason explains why a candidate was hard-filtered out.
type RejectReason string

const (
	RejectBlocked       RejectReason = "blocked"
	RejectContextWindow RejectReason = "context_window"
	RejectVision        RejectReason = "vision_unsupported"
	RejectMaxCost       RejectReason = "max_cost"
	RejectMinReasoning  RejectReason = "min_reasoning"
	RejectMinCoding     RejectReason = "min_coding"
)

// Result is the outcome of scoring one candidate.
type Result struct {
	ModelID  string
	Score    float64
	Rejected bool
	Reason   RejectReason
}

// Score evaluates a single candidate against requirements. Each priority
// has its own formula, not a shared 3-axis blend, so e.g. quality weights
// reasoning and coding asymmetrically (0.7/0.3) and ignores cost entirely,
// while cost treats
// quality as a tiebreaker rather than a blended term. A rejected Result
// carries Score == 0 and a populated Reason; callers must check Rejected
// rather than relying on the score alone.
func Score(c registry.Capability, req analyzer.Requirements) Result {
	if reason, rejected := hardFilter(c, req); rejected {
		return Result{ModelID: c.ID, Rejected: true, Reason: reason}
	}

	var score float64
	switch req.Priority {
	case analyzer.PriorityQuality:
		// 0.7·reasoning + 0.3·coding, cost ignored.
		score = 0.7*float64(c.ReasoningScore) + 0.3*float64(c.CodingScore)
	case analyzer.PrioritySpeed:
		// 0.8·speed + 0.2·quality-mean, no cost term.
		score = 0.8*float64(c.SpeedRating) + 0.2*qualityMean10(c)
	case analyzer.PriorityCost:
		// −1.0·avg(input_cost, output_cost) normalized, +0.3·quality-mean
		// as a tiebreaker. Zero-cost (local) models naturally win every
		// tie: their cost term is always the maximum possible (0 burden).
		score = -1.0*costBurden(c) + 0.3*qualityMean01(c)
	default: // balanced
		// 0.4·quality-mean + 0.3·(10 − normalized cost) + 0.3·speed.
		score = 0.4*qualityMean10(c) + 0.3*(10-costBurden(c)*10) + 0.3*float64(c.SpeedRating)
	}
	return Result{ModelID: c.ID, Score: score}
}

// qualityMean01 is (reasoning + coding) / 2 on the 0-1 scale.
func qualityMean01(c registry.Capability) float64 {
	return (float64(c.ReasoningScore) + float64(c.CodingScore)) / 2 / 100
}

// qualityMean10 is (reasoning + coding) / 2 rescaled to 0-10, matching the
// speed_rating and normalized-cost scale used alongside it in the speed
// and balanced formulas.
func qualityMean10(c registry.Capability) float64 {
	return qualityMean01(c) * 10
}

// hardFilter applies the non-negotiable eligibility checks in fixed
// precedence order.
func hardFilter(c registry.Capability, req analyzer.Requirements) (RejectReason, bool) {
	if c.Blocked {
		return RejectBlocked, true
	}
	if c.ContextWindow < req.MinContext {
		return RejectContextWindow, true
	}
	if req.TaskType == analyzer.TaskVision && !c.SupportsVision {
		return RejectVision, true
	}
	if req.MaxCost != nil {
		avgCost := (c.InputCost + c.OutputCost) / 2
		if avgCost > *req.MaxCost {
			return RejectMaxCost, true
		}
	}
	if c.ReasoningScore < req.MinReasoning {
		return RejectMinReasoning, true
	}
	if c.CodingScore < req.MinCoding {
		return RejectMinCoding, true
	}
	return "", false
}

// costBurden normalizes a candidate's average per-token cost onto a 0-1
// scale using a log scale (model costs span several orders of magnitude):
// 0 means free (e.g. a local model), 1 means at or beyond costCeiling.
// Both the cost and balanced formulas consume this term.
func costBurden(c registry.Capability) float64 {
	avg := (c.InputCost + c.OutputCost) / 2
	if avg <= 0 {
		return 0
	}
	// costCeiling is a generous per-million-token ceiling beyond which the
	// cost burden saturates at 1; chosen well above known frontier pricing.
	const costCeiling = 75.0
	normalized := math.Log1p(avg) / math.Log1p(costCeiling)
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

// Rank scores every candidate in caps, drops rejections, and returns the
// survivors sorted best-first. Ties break deterministically on reasoning
// score (desc), then context window (desc), then candidates' original
// position in caps — never on map iteration order, so results are
// reproducible across runs and processes.
func Rank(caps []registry.Capability, req analyzer.Requirements) []Result {
	type scored struct {
		res Result
		cap registry.Capability
		idx int
	}
	var survivors []scored
	for i, c := range caps {
		r := Score(c, req)
		if r.Rejected {
			continue
		}
		survivors = append(survivors, scored{res: r, cap: c, idx: i})
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.res.Score != b.res.Score {
			return a.res.Score > b.res.Score
		}
		if a.cap.ReasoningScore != b.cap.ReasoningScore {
			return a.cap.ReasoningScore > b.cap.ReasoningScore
		}
		if a.cap.ContextWindow != b.cap.ContextWindow {
			return a.cap.ContextWindow > b.cap.ContextWindow
		}
		return a.idx < b.idx
	})

	out := make([]Result, len(survivors))
	for i, s := range survivors {
		out[i] = s.res
	}
	return out
}
