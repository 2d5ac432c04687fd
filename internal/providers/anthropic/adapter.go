// Package anthropic implements providers.Sender for Anthropic's Messages
// API. Built on the shared httpclient helper, with rate-limit/Retry-After
// classification and tool-call support. Anthropic's wire format splits the
// system prompt out of the messages list, so it is extracted here rather
// than sent as a system-role message.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/httpclient"
)

// Adapter implements providers.Sender for Anthropic.
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

// New creates an Anthropic adapter registered under id (usually
// "anthropic"). An empty baseURL targets the public API endpoint.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
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

// HealthEndpoint returns a URL for health probing: a GET to the messages
// endpoint returns 405 (Method Not Allowed), which proves reachability
// without spending a generation.
func (a *Adapter) HealthEndpoint() string {
	return a.baseURL + "/v1/messages"
}

const defaultMaxTokens = 4096

func (a *Adapter) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	var system string
	var wire []map[string]any
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		wire = append(wire, toWireMessage(m))
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := map[string]any{
		"model":      model,
		"messages":   wire,
		"max_tokens": maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if len(opts.Tools) > 0 {
		payload["tools"] = toWireTools(opts.Tools)
	}

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}
	body, err := httpclient.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, headers)
	if err != nil {
		return domain.APIResponse{}, err
	}
	return httpclient.ParseResponse(body, model)
}

func toWireMessage(m domain.Message) map[string]any {
	if len(m.ToolCalls) > 0 {
		var blocks []map[string]any
		if m.Content != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
		}
		for _, tc := range m.ToolCalls {
			input := json.RawMessage(tc.Arguments)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    tc.ID,
				"name":  tc.Name,
				"input": input,
			})
		}
		return map[string]any{"role": "assistant", "content": blocks}
	}
	if m.Role == domain.RoleTool {
		return map[string]any{
			"role": "user",
			"content": []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}},
		}
	}
	return map[string]any{"role": string(m.Role), "content": m.Content}
}

func toWireTools(defs []domain.ToolDefinition) []map[string]any {
	out := make([]map[string]any, len(defs))
	for i, d := range defs {
		out[i] = map[string]any{
			"name":         d.Name,
			"description":  d.Description,
			"input_schema": d.Parameters,
		}
	}
	return out
}

func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests || se.StatusCode == 529:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassRateLimited, RetryAfter: se.RetryAfterSecs}
		case se.StatusCode >= 500:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassTransient}
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassAuthFailed}
		case strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long"):
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassContextOverflow}
		}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
