// Package google implements providers.Sender for Google's Gemini
// generateContent API. Same adapter shape (New/ID/Chat/ClassifyError/Close
// over internal/providers/httpclient) as openai/anthropic, but with its own
// payload mapping since Gemini's contents/parts/functionCall wire shape is
// neither OpenAI- nor Anthropic-compatible.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/httpclient"
)

// Adapter implements providers.Sender for Google Gemini.
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

// New creates a Gemini adapter registered under id (usually "google"). An
// empty baseURL targets the public API endpoint.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	a := &Adapter{id: id, apiKey: apiKey, baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Close() error { return nil }

type geminiPart struct {
	Text         string          `json:"text,omitempty"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResp *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

func (a *Adapter) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	var systemParts []geminiPart
	var contents []geminiContent
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
		case domain.RoleTool:
			contents = append(contents, geminiContent{
				Role: "function",
				Parts: []geminiPart{{FunctionResp: &geminiFuncResp{
					Name:     m.ToolCallID,
					Response: map[string]any{"result": m.Content},
				}}},
			})
		default:
			role := "user"
			if m.Role == domain.RoleAssistant {
				role = "model"
			}
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, geminiPart{FunctionCall: &geminiFuncCall{Name: tc.Name, Args: json.RawMessage(tc.Arguments)}})
			}
			contents = append(contents, geminiContent{Role: role, Parts: parts})
		}
	}

	payload := map[string]any{"contents": contents}
	if len(systemParts) > 0 {
		payload["systemInstruction"] = geminiContent{Parts: systemParts}
	}
	genConfig := map[string]any{}
	if opts.Temperature > 0 {
		genConfig["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = opts.MaxTokens
	}
	if len(genConfig) > 0 {
		payload["generationConfig"] = genConfig
	}
	if len(opts.Tools) > 0 {
		payload["tools"] = []map[string]any{{"functionDeclarations": toFunctionDeclarations(opts.Tools)}}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, model, a.apiKey)
	body, err := httpclient.DoRequest(ctx, a.client, endpoint, payload, nil)
	if err != nil {
		return domain.APIResponse{}, err
	}
	return parseGeminiResponse(body, model)
}

func toFunctionDeclarations(defs []domain.ToolDefinition) []map[string]any {
	out := make([]map[string]any, len(defs))
	for i, d := range defs {
		out[i] = map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		}
	}
	return out
}

func parseGeminiResponse(body []byte, model string) (domain.APIResponse, error) {
	var wire struct {
		Candidates []struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || len(wire.Candidates) == 0 {
		return domain.APIResponse{}, fmt.Errorf("google: unrecognized response shape")
	}

	resp := domain.APIResponse{
		ModelID: model,
		Usage: domain.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		},
		FinishReason: domain.FinishStop,
	}

	candidate := wire.Candidates[0]
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			resp.Content += part.Text
		}
		if part.FunctionCall != nil {
			// Gemini function calls carry no id; reuse the name so the
			// tool-result message round-trips as functionResponse.name.
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: string(part.FunctionCall.Args),
			})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = domain.FinishToolCalls
	} else if candidate.FinishReason == "MAX_TOKENS" {
		resp.FinishReason = domain.FinishLength
	}
	return resp, nil
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
		case strings.Contains(se.Body, "exceeds the maximum"):
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassContextOverflow}
		}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
