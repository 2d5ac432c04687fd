// Package analyzer implements the Task Analyzer: derives Task Requirements
// from a raw prompt via a two-tier algorithm. The heuristic tier always
// runs; the router-LLM tier is optional and its failures are never fatal.
// Results are cached by prompt hash in a bounded LRU backed by
// github.com/hashicorp/golang-lru/v2.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TaskType classifies the kind of work a prompt is asking for.
type TaskType string

const (
	TaskCodeGeneration      TaskType = "code_generation"
	TaskDebugging           TaskType = "debugging"
	TaskArchitecturalDesign TaskType = "architectural_design"
	TaskDocumentation       TaskType = "documentation"
	TaskTesting             TaskType = "testing"
	TaskDataAnalysis        TaskType = "data_analysis"
	TaskGeneral             TaskType = "general"
	TaskReasoning           TaskType = "reasoning"
	TaskVision              TaskType = "vision"
)

// Priority expresses what the caller wants optimized for.
type Priority string

const (
	PriorityQuality  Priority = "quality"
	PrioritySpeed    Priority = "speed"
	PriorityCost     Priority = "cost"
	PriorityBalanced Priority = "balanced"
)

// Requirements is the derived statement of what a prompt needs from a model.
type Requirements struct {
	TaskType     TaskType
	MinContext   int
	MaxCost      *float64 // nil = no cap
	MinReasoning int      // 0-100
	MinCoding    int      // 0-100
	Priority     Priority
}

// RouterClient is the optional router-LLM tier: a small, fast classification
// call. Implementations that cannot reach a model should return an error;
// analyzer treats that as a (logged, non-fatal) degrade to heuristic-only.
type RouterClient interface {
	Classify(ctx context.Context, prompt string) (TaskType, error)
}

// contextCharsPerToken is the heuristic used to size MinContext from prompt
// length: len(prompt)/contextCharsPerToken tokens, times safetyFactor.
const (
	contextCharsPerToken = 4
	safetyFactor         = 1.5
	defaultCacheSize     = 1024
)

type rule struct {
	pattern      *regexp.Regexp
	taskType     TaskType
	minReasoning int
	minCoding    int
}

// ruleTable is the closed set of heuristic cues. Order matters: the first
// matching rule wins.
var ruleTable = []rule{
	{regexp.MustCompile(`(?i)\btraceback\b|\bstack trace\b|why (does|is|do|are) .* (fail|crash|break)|\berror:`), TaskDebugging, 70, 60},
	{regexp.MustCompile(`\bdef \(|\bdef |\bclass |\bfunc |\bfunction\b.*\(|\bimport \(|package main`), TaskCodeGeneration, 50, 70},
	{regexp.MustCompile(`(?i)\bunit test|\btest case|\bwrite tests?\b|\bassert`), TaskTesting, 40, 65},
	{regexp.MustCompile(`(?i)\barchitecture\b|\bsystem design\b|\bdesign a\b.*\bsystem\b|\bmicroservices?\b`), TaskArchitecturalDesign, 75, 55},
	{regexp.MustCompile(`(?i)\bdocument(ation)?\b|\breadme\b|\bwrite docs?\b|\bexplain\b`), TaskDocumentation, 40, 30},
	{regexp.MustCompile(`(?i)\bcsv\b|\bdataframe\b|\banaly[sz]e (the )?data\b|\bstatistics?\b|\bplot\b`), TaskDataAnalysis, 55, 40},
	{regexp.MustCompile(`(?i)\bimage\b|\bphoto\b|\bscreenshot\b|\bpicture\b|\bvisua(l|lly)\b`), TaskVision, 30, 20},
	{regexp.MustCompile(`(?i)\bwhy\b|\breason(ing)?\b|\bprove\b|\bderive\b`), TaskReasoning, 75, 20},
}

// Analyzer derives Task Requirements from prompts.
type Analyzer struct {
	router RouterClient
	cache  *lru.Cache[string, Requirements]
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRouterClient attaches the optional router-LLM classification tier.
func WithRouterClient(c RouterClient) Option {
	return func(a *Analyzer) { a.router = c }
}

// WithCacheSize overrides the default bounded-LRU cache size.
func WithCacheSize(n int) Option {
	return func(a *Analyzer) {
		if n <= 0 {
			n = defaultCacheSize
		}
		c, _ := lru.New[string, Requirements](n)
		a.cache = c
	}
}

// New creates an Analyzer with the given options.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{}
	for _, o := range opts {
		o(a)
	}
	if a.cache == nil {
		c, _ := lru.New[string, Requirements](defaultCacheSize)
		a.cache = c
	}
	return a
}

// Analyze derives Requirements for a prompt. If override is non-empty it
// pins TaskType directly (the caller's explicit task_type), skipping both
// tiers' classification but still running the length-driven MinContext
// heuristic. Results are cached by a stable hash of (prompt, override).
func (a *Analyzer) Analyze(ctx context.Context, prompt string, override TaskType) Requirements {
	key := cacheKey(prompt, override)
	if req, ok := a.cache.Get(key); ok {
		return req
	}

	req := a.heuristic(prompt)
	if override != "" {
		req.TaskType = override
	} else if req.TaskType == TaskGeneral && a.router != nil {
		// Low-confidence heuristic result: consult the router-LLM tier.
		// Failures degrade to heuristic-only and are never fatal.
		tt, err := a.router.Classify(ctx, prompt)
		if err != nil {
			slog.Warn("analyzer: router-LLM tier failed, degrading to heuristic-only",
				slog.String("error", err.Error()))
		} else if tt != "" {
			req.TaskType = tt
		}
	}

	a.cache.Add(key, req)
	return req
}

// heuristic runs the cheap, always-on keyword/pattern tier.
func (a *Analyzer) heuristic(prompt string) Requirements {
	req := Requirements{
		TaskType:   TaskGeneral,
		Priority:   PriorityBalanced,
		MinContext: estimateMinContext(prompt),
	}

	lower := strings.ToLower(prompt)
	for _, r := range ruleTable {
		if r.pattern.MatchString(prompt) || r.pattern.MatchString(lower) {
			req.TaskType = r.taskType
			req.MinReasoning = r.minReasoning
			req.MinCoding = r.minCoding
			break
		}
	}
	return req
}

// estimateMinContext sizes a context-window floor from prompt length: a
// conservative chars/4 token estimate times a safety factor for system
// prompts and expected response headroom.
func estimateMinContext(prompt string) int {
	tokens := len(prompt) / contextCharsPerToken
	return int(float64(tokens) * safetyFactor)
}

func cacheKey(prompt string, override TaskType) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(override))
	return hex.EncodeToString(h.Sum(nil))
}
