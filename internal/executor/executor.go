// Package executor implements the Conversation Executor: running a single
// request against a chosen (model, client) pair, looping for function-call
// (tool) invocation, and recording cost exactly once per outer request.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/austenvale/modelmux/internal/cost"
	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/registry"
)

// defaultMaxIterations bounds the function-call loop.
const defaultMaxIterations = 8

// ErrToolHandlerFailed wraps a function handler's own error so callers can
// distinguish it from a provider-classified failure.
var ErrToolHandlerFailed = errors.New("executor: tool handler failed")

// FunctionHandler is a caller-registered implementation of a named tool the
// model may invoke mid-conversation.
type FunctionHandler func(ctx context.Context, arguments string) (string, error)

// Executor runs conversations against a provider Sender, including the
// tool-call loop, and appends exactly one Cost Record per outer request.
type Executor struct {
	ledger        *cost.Ledger
	maxIterations int

	mu        sync.RWMutex
	functions map[string]FunctionHandler
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithMaxIterations overrides the default tool-call loop cap.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// New builds an Executor recording cost into ledger.
func New(ledger *cost.Ledger, opts ...Option) *Executor {
	e := &Executor{
		ledger:        ledger,
		maxIterations: defaultMaxIterations,
		functions:     make(map[string]FunctionHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterFunction installs (or replaces) the handler for a named tool.
func (e *Executor) RegisterFunction(name string, handler FunctionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = handler
}

func (e *Executor) handlerFor(name string) (FunctionHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.functions[name]
	return h, ok
}

// Execute runs messages against client for capability, looping on
// tool_calls until a handler-free finish or the iteration cap is hit, and
// records exactly one Cost Record summing usage across every iteration.
func (e *Executor) Execute(ctx context.Context, capability registry.Capability, client providers.Sender, messages []domain.Message, opts domain.Options, requestID string) (domain.APIResponse, error) {
	var (
		totalIn, totalOut int
		last              domain.APIResponse
		convo             = append([]domain.Message(nil), messages...)
	)

	for iteration := 0; ; iteration++ {
		if iteration >= e.maxIterations {
			slog.Warn("executor: tool-call loop hit iteration cap", "model_id", capability.ID, "cap", e.maxIterations)
			last.FinishReason = domain.FinishLength
			e.recordCost(requestID, capability, totalIn, totalOut, true)
			return last, nil
		}

		resp, err := client.Chat(ctx, capability.APIName, convo, opts)
		if err != nil {
			e.recordCost(requestID, capability, totalIn, totalOut, false)
			return domain.APIResponse{}, err
		}
		totalIn += resp.Usage.InputTokens
		totalOut += resp.Usage.OutputTokens
		last = resp

		if resp.FinishReason != domain.FinishToolCalls || len(resp.ToolCalls) == 0 {
			break
		}

		convo = append(convo, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		toolFailed := false
		for _, call := range resp.ToolCalls {
			result, handlerErr := e.invoke(ctx, call)
			toolMsg := domain.Message{
				Role:       domain.RoleTool,
				ToolCallID: call.ID,
				Content:    result,
			}
			if handlerErr != nil {
				toolMsg.Error = handlerErr.Error()
				toolFailed = true
			}
			convo = append(convo, toolMsg)
		}
		if toolFailed {
			e.recordCost(requestID, capability, totalIn, totalOut, false)
			return domain.APIResponse{}, fmt.Errorf("%w: model %s", ErrToolHandlerFailed, capability.ID)
		}
	}

	e.recordCost(requestID, capability, totalIn, totalOut, true)
	return last, nil
}

// invoke calls the registered handler for call by name. An unregistered
// tool name is itself a handler failure, not a panic or silent no-op.
func (e *Executor) invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	handler, ok := e.handlerFor(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: no handler registered for %q", ErrToolHandlerFailed, call.Name)
	}
	result, err := handler(ctx, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolHandlerFailed, err)
	}
	return result, nil
}

// recordCost appends exactly one Cost Record for the outer request,
// regardless of how many loop iterations it took.
// Pure transport failures (zero tokens) still get a record so the ledger
// notes the attempt.
func (e *Executor) recordCost(requestID string, capability registry.Capability, inTok, outTok int, success bool) {
	usd := float64(inTok)/1_000_000*capability.InputCost + float64(outTok)/1_000_000*capability.OutputCost
	e.ledger.Append(cost.Record{
		RequestID:    requestID,
		ModelID:      capability.ID,
		ProviderID:   capability.Provider,
		InputTokens:  inTok,
		OutputTokens: outTok,
		CostUSD:      usd,
		Success:      success,
	})
}
