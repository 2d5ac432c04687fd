package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/circuitbreaker"
	"github.com/austenvale/modelmux/internal/clientpool"
	"github.com/austenvale/modelmux/internal/cost"
	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/events"
	"github.com/austenvale/modelmux/internal/executor"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/registry"
	"github.com/austenvale/modelmux/internal/selector"
)

// defaultRetryBudget is the number of times a transient_network failure is
// retried against the *same* model before the fallback chain is walked.
const defaultRetryBudget = 2

// RewardSink receives a post-request reward signal, an optional hook for
// feeding routing outcomes into offline model-selection tuning.
type RewardSink interface {
	RecordReward(requestID, modelID string, latency time.Duration, costUSD float64, success bool)
}

// HealthRecorder receives a per-attempt outcome against a provider, feeding
// the Selector's health filter. health.Tracker satisfies this.
type HealthRecorder interface {
	RecordSuccess(providerID string, latencyMs float64)
	RecordError(providerID string, errMsg string)
}

// MetricsRecorder receives Prometheus-bound observations for every attempt.
// metrics.Registry satisfies this.
type MetricsRecorder interface {
	ObserveRequest(modelID, providerID, status string, latencyMs float64)
	ObserveCost(modelID, providerID string, costUSD float64)
	ObserveRateLimited()
	SetCircuitState(providerID string, state int)
	IncDemoted(providerID string)
}

// RouteOptions parameterizes a single route_request call.
type RouteOptions struct {
	ModelID     string // pins selection, bypassing the Analyzer/Selector
	TaskType    analyzer.TaskType
	Priority    analyzer.Priority
	Messages    []domain.Message
	GenOptions  domain.Options
	RetryBudget int // 0 uses defaultRetryBudget

	// NoFallback surfaces the first attempt's failure instead of walking
	// the fallback chain. Consensus voters set this: a failed voter is an
	// abstention, never a hop to a different model.
	NoFallback bool
}

// Orchestrator wires the Analyzer, Selector, Client Pool, and Executor
// together into the routing state machine, with classified fallback and
// cancellation-aware attempt tracking.
type Orchestrator struct {
	registry *registry.Registry
	analyzer *analyzer.Analyzer
	selector *selector.Selector
	pool     *clientpool.Pool
	exec     *executor.Executor
	ledger   *cost.Ledger
	reward   RewardSink
	health   HealthRecorder
	metrics  MetricsRecorder
	bus      *events.Bus

	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.Breaker
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithRewardSink installs an optional post-request reward hook.
func WithRewardSink(sink RewardSink) Option {
	return func(o *Orchestrator) { o.reward = sink }
}

// WithHealthRecorder installs an optional per-attempt health feed (typically
// health.Tracker), kept decoupled from the Selector's HealthFilter interface
// so the Orchestrator only ever writes health state, never reads it.
func WithHealthRecorder(h HealthRecorder) Option {
	return func(o *Orchestrator) { o.health = h }
}

// WithMetricsRecorder installs an optional Prometheus-bound observer.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEventBus installs an optional events.Bus that RouteRequest publishes
// route_success/route_error events to after every completed request.
func WithEventBus(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// New builds an Orchestrator from its already-constructed collaborators.
func New(reg *registry.Registry, an *analyzer.Analyzer, sel *selector.Selector, pool *clientpool.Pool, exec *executor.Executor, ledger *cost.Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: reg, analyzer: an, selector: sel, pool: pool, exec: exec, ledger: ledger, breakers: make(map[string]*circuitbreaker.Breaker)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterFunction forwards to the underlying Executor.
func (o *Orchestrator) RegisterFunction(name string, handler executor.FunctionHandler) {
	o.exec.RegisterFunction(name, handler)
}

// RouteRequest drives one request through analysis, selection, and
// execution, walking the fallback chain on retryable failures.
func (o *Orchestrator) RouteRequest(ctx context.Context, prompt string, opts RouteOptions) (domain.APIResponse, error) {
	requestID := uuid.NewString()
	start := time.Now()
	retryBudget := opts.RetryBudget
	if retryBudget <= 0 {
		retryBudget = defaultRetryBudget
	}

	messages := opts.Messages
	if messages == nil {
		messages = []domain.Message{{Role: domain.RoleUser, Content: prompt}}
	}

	var req analyzer.Requirements
	var modelID string
	var err error

	if opts.ModelID != "" {
		modelID = opts.ModelID
		if _, getErr := o.registry.Get(modelID); getErr != nil {
			return domain.APIResponse{}, NewError(KindInvalidRequest, "pinned model_id not registered: "+modelID, getErr)
		}
		req = analyzer.Requirements{TaskType: opts.TaskType, Priority: opts.Priority}
	} else {
		req = o.analyzer.Analyze(ctx, prompt, opts.TaskType)
		if opts.Priority != "" {
			req.Priority = opts.Priority
		}
		modelID, err = o.selector.Select(req)
		if err != nil {
			return domain.APIResponse{}, NewError(KindNoCandidates, "no candidate model satisfies requirements", err)
		}
	}

	excluded := map[string]bool{}
	attempts := make([]Attempt, 0, 4)
	chain := []string{modelID}
	truncated := false

	for len(chain) > 0 {
		if err := ctx.Err(); err != nil {
			return domain.APIResponse{}, NewError(KindCancelled, "request cancelled or deadline exceeded", err)
		}

		id := chain[0]
		chain = chain[1:]

		resp, kind, attemptErr := o.attempt(ctx, id, messages, opts.GenOptions, requestID, retryBudget)
		if attemptErr == nil {
			latency := time.Since(start)
			o.recordReward(requestID, id, latency, true)
			costUSD := o.costForRequest(requestID)
			providerID := ""
			if capability, getErr := o.registry.Get(id); getErr == nil {
				providerID = capability.Provider
				if o.metrics != nil {
					o.metrics.ObserveCost(id, providerID, costUSD)
				}
			}
			o.publishRoute(events.EventRouteSuccess, id, providerID, latency, costUSD, "", "")
			return resp, nil
		}

		attempts = append(attempts, Attempt{ModelID: id, Kind: kind, Err: attemptErr})

		if kind == KindCancelled {
			latency := time.Since(start)
			o.recordReward(requestID, id, latency, false)
			o.publishRoute(events.EventRouteError, id, "", latency, 0, string(kind), attemptErr.Error())
			return domain.APIResponse{}, NewError(KindCancelled, "request cancelled or deadline exceeded", attemptErr)
		}
		if !kind.retryableWithDifferentModel() || opts.NoFallback {
			latency := time.Since(start)
			o.recordReward(requestID, id, latency, false)
			o.publishRoute(events.EventRouteError, id, "", latency, 0, string(kind), attemptErr.Error())
			return domain.APIResponse{}, NewError(kind, "request failed on "+id+" without fallback", attemptErr)
		}

		capability, getErr := o.registry.Get(id)

		if kind == KindContextExceeded && getErr == nil {
			// Try chain members with a larger context window first;
			// else surface immediately rather than retrying a
			// same-or-smaller model that would just overflow again.
			excluded[id] = true
			larger, fbErr := o.selector.FallbackChainLargerContext(req, capability.ContextWindow, excluded)
			if fbErr != nil || len(larger) == 0 {
				if opts.GenOptions.TruncateMessages != nil && !truncated {
					// Last resort before surfacing: let the caller's
					// truncation hook shrink the conversation and retry
					// the same model once.
					messages = opts.GenOptions.TruncateMessages(messages)
					truncated = true
					chain = []string{id}
					continue
				}
				latency := time.Since(start)
				o.recordReward(requestID, id, latency, false)
				o.publishRoute(events.EventRouteError, id, capability.Provider, latency, 0, string(kind), attemptErr.Error())
				return domain.APIResponse{}, NewError(KindContextExceeded, "no larger-context-window model available in fallback chain", attemptErr)
			}
			chain = larger
			continue
		}

		if getErr == nil {
			excluded = selector.DemoteProvider(o.registry, capability.Provider, excluded)
			if o.metrics != nil {
				o.metrics.IncDemoted(capability.Provider)
			}
		} else {
			excluded[id] = true
		}

		if len(chain) == 0 {
			next, fbErr := o.selector.FallbackChain(req, excluded)
			if fbErr != nil || len(next) == 0 {
				break
			}
			chain = next
		}
	}

	finalErr := NewExhausted(attempts)
	o.recordReward(requestID, modelID, time.Since(start), false)
	o.publishRoute(events.EventRouteError, modelID, "", time.Since(start), 0, string(KindProvidersExhausted), finalErr.Error())
	return domain.APIResponse{}, finalErr
}

// publishRoute publishes a route_success/route_error event if an
// events.Bus was installed via WithEventBus; a no-op otherwise.
func (o *Orchestrator) publishRoute(typ events.EventType, modelID, providerID string, latency time.Duration, costUSD float64, errClass, errMsg string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:       typ,
		ModelID:    modelID,
		ProviderID: providerID,
		LatencyMs:  float64(latency.Milliseconds()),
		CostUSD:    costUSD,
		ErrorClass: errClass,
		ErrorMsg:   errMsg,
	})
}

// recordReward forwards a post-request signal to the optional RewardSink,
// pricing the request from the ledger records the Executor already appended
// under requestID.
func (o *Orchestrator) recordReward(requestID, modelID string, latency time.Duration, success bool) {
	if o.reward == nil {
		return
	}
	o.reward.RecordReward(requestID, modelID, latency, o.costForRequest(requestID), success)
}

// costForRequest sums every cost.Record the Executor appended under
// requestID. Looked up on demand rather than threaded through every return
// path, since cost.Ledger already holds the authoritative per-request total.
func (o *Orchestrator) costForRequest(requestID string) float64 {
	var costUSD float64
	for _, r := range o.ledger.Snapshot() {
		if r.RequestID == requestID {
			costUSD += r.CostUSD
		}
	}
	return costUSD
}

// attempt runs one (model, client) pair through the Client Pool and
// Executor, applying the configured retry budget for transient_network
// failures against the *same* model before reporting out for a fallback
// walk.
func (o *Orchestrator) attempt(ctx context.Context, modelID string, messages []domain.Message, genOpts domain.Options, requestID string, retryBudget int) (domain.APIResponse, Kind, error) {
	capability, err := o.registry.Get(modelID)
	if err != nil {
		return domain.APIResponse{}, KindInvalidRequest, err
	}

	client, err := o.pool.Get(ctx, capability.Provider)
	if err != nil {
		return domain.APIResponse{}, KindProviderUnavailable, err
	}

	breaker := o.breakerFor(capability.Provider)
	if !breaker.Allow() {
		return domain.APIResponse{}, KindProviderUnavailable, fmt.Errorf("circuit open for provider %s", capability.Provider)
	}

	var lastErr error
	var lastKind Kind
	for try := 0; try <= retryBudget; try++ {
		if ctx.Err() != nil {
			return domain.APIResponse{}, KindCancelled, ctx.Err()
		}
		attemptStart := time.Now()
		resp, execErr := o.exec.Execute(ctx, capability, client, messages, genOpts, requestID)
		latencyMs := float64(time.Since(attemptStart).Milliseconds())
		if execErr == nil {
			breaker.RecordSuccess()
			if o.health != nil {
				o.health.RecordSuccess(capability.Provider, latencyMs)
			}
			if o.metrics != nil {
				o.metrics.ObserveRequest(modelID, capability.Provider, "success", latencyMs)
				o.metrics.SetCircuitState(capability.Provider, int(breaker.CurrentState()))
			}
			return resp, "", nil
		}

		kind := classify(client, execErr)
		lastErr, lastKind = execErr, kind
		if o.health != nil && providerLevelFailure(kind) {
			o.health.RecordError(capability.Provider, execErr.Error())
		}
		if o.metrics != nil {
			o.metrics.ObserveRequest(modelID, capability.Provider, string(kind), latencyMs)
			if kind == KindRateLimited {
				o.metrics.ObserveRateLimited()
			}
		}
		if kind != KindTransientNetwork {
			break
		}
		slog.Warn("orchestrator: transient failure, retrying same model", "model_id", modelID, "attempt", try+1, "error", execErr)
	}
	if providerLevelFailure(lastKind) {
		breaker.RecordFailure()
	}
	if o.metrics != nil {
		o.metrics.SetCircuitState(capability.Provider, int(breaker.CurrentState()))
	}
	return domain.APIResponse{}, lastKind, lastErr
}

// breakerFor returns the per-provider circuit breaker, creating one on
// first use. Breaker state is time-bounded rather than permanent, so a
// recovered provider is retried on a later RouteRequest without a process
// restart.
func (o *Orchestrator) breakerFor(providerID string) *circuitbreaker.Breaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	b, ok := o.breakers[providerID]
	if !ok {
		b = circuitbreaker.New()
		o.breakers[providerID] = b
	}
	return b
}

// providerLevelFailure reports whether kind reflects a problem with the
// provider itself (as opposed to the request or an unrelated cancellation),
// and should therefore count toward tripping that provider's breaker.
func providerLevelFailure(kind Kind) bool {
	switch kind {
	case KindProviderUnavailable, KindAuthFailed, KindRateLimited, KindTransientNetwork, KindProviderError:
		return true
	default:
		return false
	}
}

// classify maps an Executor error to a Kind, using the Sender's own
// ClassifyError for provider-originated failures and falling back to
// tool_handler_failed / context cancellation for everything else.
func classify(client providers.Sender, err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	if errors.Is(err, executor.ErrToolHandlerFailed) {
		return KindToolHandlerFailed
	}

	ce := client.ClassifyError(err)
	switch ce.Class {
	case providers.ErrClassRateLimited:
		return KindRateLimited
	case providers.ErrClassTransient:
		return KindTransientNetwork
	case providers.ErrClassContextOverflow:
		return KindContextExceeded
	case providers.ErrClassAuthFailed:
		return KindAuthFailed
	default:
		return KindProviderError
	}
}

// ListAvailableProviders reports every provider id known to the registry
// and whether the Client Pool currently considers it available.
func (o *Orchestrator) ListAvailableProviders() map[string]bool {
	out := make(map[string]bool)
	for _, id := range selector.SortedProviderIDs(o.registry) {
		out[id] = o.pool.IsAvailable(id)
	}
	return out
}

// GetCostReport returns the aggregate cost report, optionally bounded by
// window.
func (o *Orchestrator) GetCostReport(window cost.TimeRange) cost.Report {
	return o.ledger.Report(window)
}

// Shutdown drains the Client Pool. The ledger itself
// needs no flush: it is in-memory and readers always see a consistent
// snapshot.
func (o *Orchestrator) Shutdown() error {
	return o.pool.Shutdown()
}
