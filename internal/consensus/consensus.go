// Package consensus implements the Consensus Engine: parallel fan-out of a
// prompt across the Selector's top N distinct models, tallied by one of
// four strategies. Fan-out runs on golang.org/x/sync/errgroup so the
// overall deadline composes directly with context cancellation; voters
// exceeding it count as abstentions.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/orchestrator"
	"github.com/austenvale/modelmux/internal/registry"
	"github.com/austenvale/modelmux/internal/scorer"
	"github.com/austenvale/modelmux/internal/selector"
)

// Strategy selects the tallying rule.
type Strategy string

const (
	StrategyMajority  Strategy = "majority"
	StrategyUnanimous Strategy = "unanimous"
	StrategyWeighted  Strategy = "weighted"
	StrategySynthesis Strategy = "synthesis"
)

const defaultNumVoters = 3

// ErrQuorumLost is returned when at least ⌈N/2⌉ voters abstained.
var ErrQuorumLost = errors.New("consensus: quorum lost")

// ErrNoConsensus is returned by the unanimous strategy on any disagreement.
var ErrNoConsensus = errors.New("consensus: no_consensus")

// Vote is one voter's outcome, keyed by model id.
type Vote struct {
	VoterID  string
	Response domain.APIResponse
	Weight   float64
	Err      error // non-nil means this voter abstained
}

// Result is the winning response plus the full tally.
type Result struct {
	Winner   domain.APIResponse
	WinnerID string
	Strategy Strategy
	Tally    []Vote
}

// Options parameterizes a single consensus call.
type Options struct {
	Strategy     Strategy
	NumVoters    int // 0 uses defaultNumVoters
	Requirements *analyzer.Requirements
	TaskType     analyzer.TaskType
	Priority     analyzer.Priority
	Deadline     time.Duration // 0 means no extra deadline beyond ctx
}

// Engine runs the consensus operation over an already-wired Orchestrator.
type Engine struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	selector *selector.Selector
	analyzer *analyzer.Analyzer
}

// New builds an Engine from its collaborators.
func New(orch *orchestrator.Orchestrator, reg *registry.Registry, sel *selector.Selector, an *analyzer.Analyzer) *Engine {
	return &Engine{orch: orch, registry: reg, selector: sel, analyzer: an}
}

// Consensus runs prompt against the top opts.NumVoters distinct models in
// parallel and tallies the result per opts.Strategy.
func (e *Engine) Consensus(ctx context.Context, prompt string, opts Options) (Result, error) {
	req := e.requirements(ctx, prompt, opts)

	chain, err := e.selector.FallbackChain(req, nil)
	if err != nil {
		return Result{}, fmt.Errorf("consensus: selecting voters: %w", err)
	}

	numVoters := opts.NumVoters
	if numVoters <= 0 {
		numVoters = defaultNumVoters
	}
	if numVoters > len(chain) {
		numVoters = len(chain)
	}
	voterIDs := chain[:numVoters]

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	tally := e.fanOut(ctx, prompt, voterIDs, req)

	abstentions := 0
	for _, v := range tally {
		if v.Err != nil {
			abstentions++
		}
	}
	quorum := (len(voterIDs) + 1) / 2
	if abstentions >= quorum {
		return Result{Strategy: opts.Strategy, Tally: tally}, ErrQuorumLost
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyMajority
	}

	switch strategy {
	case StrategyUnanimous:
		return e.applyUnanimous(tally, strategy)
	case StrategyWeighted:
		return e.applyWeighted(tally, strategy)
	case StrategySynthesis:
		return e.applySynthesis(ctx, prompt, tally, voterIDs, strategy)
	default:
		return e.applyMajority(tally, strategy)
	}
}

func (e *Engine) requirements(ctx context.Context, prompt string, opts Options) analyzer.Requirements {
	if opts.Requirements != nil {
		return *opts.Requirements
	}
	req := e.analyzer.Analyze(ctx, prompt, opts.TaskType)
	if opts.Priority != "" {
		req.Priority = opts.Priority
	}
	return req
}

// fanOut issues one independent route_request per voter (no fallback within
// a vote: each voter is pinned to its own model id, so a failure there is
// recorded as an abstention rather than hopping to another model).
func (e *Engine) fanOut(ctx context.Context, prompt string, voterIDs []string, req analyzer.Requirements) []Vote {
	g, gctx := errgroup.WithContext(ctx)
	votes := make([]Vote, len(voterIDs))

	for i, id := range voterIDs {
		i, id := i, id
		g.Go(func() error {
			resp, err := e.orch.RouteRequest(gctx, prompt, orchestrator.RouteOptions{
				ModelID:    id,
				TaskType:   req.TaskType,
				Priority:   req.Priority,
				NoFallback: true,
			})
			votes[i] = Vote{VoterID: id, Response: resp, Weight: e.weightOf(id, req), Err: err}
			return nil // never abort sibling voters on one voter's failure
		})
	}
	_ = g.Wait()
	return votes
}

func (e *Engine) weightOf(modelID string, req analyzer.Requirements) float64 {
	c, err := e.registry.Get(modelID)
	if err != nil {
		return 0
	}
	return scorer.Score(c, req).Score
}

func (e *Engine) applyMajority(tally []Vote, strategy Strategy) (Result, error) {
	counts := map[string]int{}
	firstSeenRank := map[string]int{}
	rank := map[string]int{}
	for i, v := range tally {
		if v.Err == nil {
			rank[v.VoterID] = i
		}
	}
	for _, v := range tally {
		if v.Err != nil {
			continue
		}
		counts[v.Response.Content]++
		if _, ok := firstSeenRank[v.Response.Content]; !ok {
			firstSeenRank[v.Response.Content] = rank[v.VoterID]
		}
	}
	if len(counts) == 0 {
		return Result{Strategy: strategy, Tally: tally}, ErrQuorumLost
	}

	var winningContent string
	bestCount, bestRank := -1, int(^uint(0)>>1)
	for content, n := range counts {
		r := firstSeenRank[content]
		if n > bestCount || (n == bestCount && r < bestRank) {
			winningContent, bestCount, bestRank = content, n, r
		}
	}

	for _, v := range tally {
		if v.Err == nil && v.Response.Content == winningContent {
			return Result{Winner: v.Response, WinnerID: v.VoterID, Strategy: strategy, Tally: tally}, nil
		}
	}
	return Result{Strategy: strategy, Tally: tally}, ErrQuorumLost
}

func (e *Engine) applyUnanimous(tally []Vote, strategy Strategy) (Result, error) {
	var first *Vote
	for i := range tally {
		if tally[i].Err != nil {
			continue
		}
		if first == nil {
			first = &tally[i]
			continue
		}
		if tally[i].Response.Content != first.Response.Content {
			return Result{Strategy: strategy, Tally: tally}, ErrNoConsensus
		}
	}
	if first == nil {
		return Result{Strategy: strategy, Tally: tally}, ErrQuorumLost
	}
	return Result{Winner: first.Response, WinnerID: first.VoterID, Strategy: strategy, Tally: tally}, nil
}

func (e *Engine) applyWeighted(tally []Vote, strategy Strategy) (Result, error) {
	type bucket struct {
		weight float64
		vote   Vote
	}
	buckets := map[string]*bucket{}
	order := make([]string, 0, len(tally))
	for _, v := range tally {
		if v.Err != nil {
			continue
		}
		b, ok := buckets[v.Response.Content]
		if !ok {
			b = &bucket{vote: v}
			buckets[v.Response.Content] = b
			order = append(order, v.Response.Content)
		}
		b.weight += v.Weight
	}
	if len(buckets) == 0 {
		return Result{Strategy: strategy, Tally: tally}, ErrQuorumLost
	}

	sort.Strings(order) // deterministic iteration before the weight comparison below
	var winner *bucket
	for _, content := range order {
		b := buckets[content]
		if winner == nil || b.weight > winner.weight {
			winner = b
		}
	}
	return Result{Winner: winner.vote.Response, WinnerID: winner.vote.VoterID, Strategy: strategy, Tally: tally}, nil
}

// applySynthesis issues a follow-up route_request to the top-scored voter
// with a system prompt asking it to synthesize the others' answers; the
// synthesis call never recurses into another consensus round.
func (e *Engine) applySynthesis(ctx context.Context, prompt string, tally []Vote, voterIDs []string, strategy Strategy) (Result, error) {
	var successful []Vote
	for _, v := range tally {
		if v.Err == nil {
			successful = append(successful, v)
		}
	}
	if len(successful) == 0 {
		return Result{Strategy: strategy, Tally: tally}, ErrQuorumLost
	}
	if len(successful) == 1 {
		return Result{Winner: successful[0].Response, WinnerID: successful[0].VoterID, Strategy: strategy, Tally: tally}, nil
	}

	synthesisPrompt := "You are a synthesis judge. Given multiple independent answers to the same prompt, produce one best combined answer.\n\nOriginal prompt: " + prompt
	messages := []domain.Message{{Role: domain.RoleSystem, Content: synthesisPrompt}}
	for _, v := range successful {
		messages = append(messages, domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("Response from %s:\n%s", v.VoterID, v.Response.Content)})
	}

	topModel := voterIDs[0]
	resp, err := e.orch.RouteRequest(ctx, prompt, orchestrator.RouteOptions{
		ModelID:  topModel,
		Messages: messages,
	})
	if err != nil {
		return Result{Strategy: strategy, Tally: tally}, fmt.Errorf("consensus: synthesis call failed: %w", err)
	}
	return Result{Winner: resp, WinnerID: topModel, Strategy: strategy, Tally: tally}, nil
}
