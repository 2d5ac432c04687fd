// Package local implements providers.Sender for self-hosted,
// OpenAI-compatible inference endpoints (vLLM, llama.cpp server, etc).
// Requests round-robin across the configured endpoints via an atomic
// counter; no auth header is sent, and cost is zero by construction since
// self-hosted inference has no per-token billing.
package local

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/httpclient"
	"github.com/austenvale/modelmux/internal/providers/openai"
)

// Adapter implements providers.Sender for one or more self-hosted,
// OpenAI-compatible inference endpoints, load balanced round-robin.
type Adapter struct {
	id        string
	endpoints []string
	counter   atomic.Uint64
	client    *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout overrides the default 30s HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// WithEndpoints adds additional endpoints for round-robin balancing.
func WithEndpoints(endpoints ...string) Option {
	return func(a *Adapter) { a.endpoints = append(a.endpoints, endpoints...) }
}

// New creates a local adapter registered under id (usually "local") with
// one initial endpoint; use WithEndpoints to add more. An empty endpoint
// falls back to the standard vLLM serving port on localhost.
func New(id, endpoint string, opts ...Option) *Adapter {
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}
	a := &Adapter{id: id, endpoints: []string{endpoint}, client: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Close() error { return nil }

func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
}

func (a *Adapter) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	payload := map[string]any{
		"model":    model,
		"messages": openai.ToWireMessages(messages),
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		payload["tools"] = openai.ToWireTools(opts.Tools)
	}

	body, err := httpclient.DoRequest(ctx, a.client, a.nextEndpoint()+"/v1/chat/completions", payload, nil)
	if err != nil {
		return domain.APIResponse{}, err
	}
	return httpclient.ParseResponse(body, model)
}

func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassRateLimited, RetryAfter: se.RetryAfterSecs}
		case se.StatusCode >= 500:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassTransient}
		}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
