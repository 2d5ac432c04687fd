// Package openai implements providers.Sender for OpenAI's chat completions
// API. Built on the shared internal/providers/httpclient helper, with
// tool-call support and error classification covering both context-length
// overflow and rate limits.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/httpclient"
)

// Adapter implements providers.Sender for OpenAI and OpenAI-compatible APIs.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout overrides the default 30s HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// New creates an OpenAI adapter registered under id (usually "openai"),
// authenticating with apiKey against baseURL. An empty baseURL targets the
// public API endpoint.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Close() error { return nil }

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Parameters  any    `json:"parameters,omitempty"`
	} `json:"function"`
}

func (a *Adapter) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	payload := map[string]any{
		"model":    model,
		"messages": ToWireMessages(messages),
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		payload["tools"] = ToWireTools(opts.Tools)
	}

	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}
	body, err := httpclient.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, headers)
	if err != nil {
		return domain.APIResponse{}, err
	}
	return httpclient.ParseResponse(body, model)
}

// ToWireMessages converts domain messages into the OpenAI-compatible wire
// shape. Exported for reuse by OpenAI-compatible adapters (xai, azure,
// local) that share this exact request format.
func ToWireMessages(messages []domain.Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out[i] = wm
	}
	return out
}

// ToWireTools converts domain tool definitions into the OpenAI-compatible
// wire shape. Exported for the same reason as ToWireMessages.
func ToWireTools(defs []domain.ToolDefinition) []wireTool {
	out := make([]wireTool, len(defs))
	for i, d := range defs {
		wt := wireTool{Type: "function"}
		wt.Function.Name = d.Name
		wt.Function.Description = d.Description
		wt.Function.Parameters = d.Parameters
		out[i] = wt
	}
	return out
}

func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassRateLimited, RetryAfter: se.RetryAfterSecs}
		case se.StatusCode >= 500:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassTransient}
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassAuthFailed}
		case strings.Contains(se.Body, "context_length_exceeded"):
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassContextOverflow}
		}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
