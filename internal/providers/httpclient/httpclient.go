// Package httpclient is the shared HTTP plumbing every provider adapter
// builds on: JSON POST with OTel span + W3C trace propagation, structured
// status errors with Retry-After parsing, and streaming response support.
// Consolidated into one package so the adapters share one implementation
// instead of hand-rolling their own request helper; bedrock, which signs
// its own requests, reuses only StatusError and ParseResponse.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/austenvale/modelmux/internal/domain"
)

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// WithRequestID returns a context carrying id for downstream X-Request-ID
// header forwarding.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID stashed by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// StatusError captures a non-2xx provider response for adapters'
// ClassifyError to inspect, including any Retry-After the provider sent.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value (seconds form
// only; providers in this domain never send the HTTP-date form) and sets
// RetryAfterSecs. A malformed or empty header leaves RetryAfterSecs at 0.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

var tracer = otel.Tracer("modelmux.providers")

// DoRequest sends a POST request with a JSON payload and returns the
// response body bytes, or a *StatusError for any status other than 200 OK.
func DoRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "provider.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)
	defer span.End()

	req, err := newJSONRequest(ctx, url, payload, headers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("httpclient: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return nil, fmt.Errorf("httpclient: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return body, nil
}

// DoStreamRequest sends a POST request and returns the raw response body for
// SSE/chunked streaming consumption. The caller must Close the returned
// ReadCloser, which also ends the OTel span.
func DoStreamRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "provider.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)

	req, err := newJSONRequest(ctx, url, payload, headers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		span.End()
		return nil, fmt.Errorf("httpclient: request failed: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			span.RecordError(readErr)
			span.SetStatus(codes.Error, "read error response failed")
			span.End()
			return nil, fmt.Errorf("httpclient: failed to read error response: %w", readErr)
		}
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.End()
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return &spanCloser{ReadCloser: resp.Body, span: span}, nil
}

func newJSONRequest(ctx context.Context, url string, payload any, headers map[string]string) (*http.Request, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("httpclient: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if reqID := RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// spanCloser ends the OTel span when the wrapped stream body is closed.
type spanCloser struct {
	io.ReadCloser
	span trace.Span
}

func (sc *spanCloser) Close() error {
	err := sc.ReadCloser.Close()
	sc.span.End()
	return err
}

// ExtractContent pulls assistant text out of a raw provider response body,
// supporting OpenAI's choices[].message.content and Anthropic's
// content[].text shapes, falling back to the raw body.
func ExtractContent(body []byte) string {
	var oai struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if json.Unmarshal(body, &oai) == nil && len(oai.Choices) > 0 {
		return oai.Choices[0].Message.Content
	}

	var ant struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if json.Unmarshal(body, &ant) == nil && len(ant.Content) > 0 {
		return ant.Content[0].Text
	}

	return string(body)
}

// ParseResponse normalizes a raw OpenAI- or Anthropic-shaped response body
// into domain.APIResponse, including tool calls and usage, so the adapters
// for those shapes share one parser instead of duplicating ExtractContent's
// format-sniffing per field. The google adapter parses Gemini's shape with
// its own parser.
func ParseResponse(body []byte, modelID string) (domain.APIResponse, error) {
	var oai struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(body, &oai) == nil && len(oai.Choices) > 0 {
		choice := oai.Choices[0]
		resp := domain.APIResponse{
			Content: choice.Message.Content,
			ModelID: modelID,
			Usage: domain.Usage{
				InputTokens:  oai.Usage.PromptTokens,
				OutputTokens: oai.Usage.CompletionTokens,
			},
			FinishReason: finishReasonFromOpenAI(choice.FinishReason),
		}
		for _, tc := range choice.Message.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = domain.FinishToolCalls
		}
		return resp, nil
	}

	var ant struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if json.Unmarshal(body, &ant) == nil && len(ant.Content) > 0 {
		resp := domain.APIResponse{
			ModelID: modelID,
			Usage: domain.Usage{
				InputTokens:  ant.Usage.InputTokens,
				OutputTokens: ant.Usage.OutputTokens,
			},
			FinishReason: finishReasonFromAnthropic(ant.StopReason),
		}
		for _, block := range ant.Content {
			switch block.Type {
			case "text":
				resp.Content += block.Text
			case "tool_use":
				resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: string(block.Input),
				})
			}
		}
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = domain.FinishToolCalls
		}
		return resp, nil
	}

	return domain.APIResponse{}, fmt.Errorf("httpclient: unrecognized response shape")
}

func finishReasonFromOpenAI(reason string) domain.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return domain.FinishToolCalls
	case "length":
		return domain.FinishLength
	case "stop", "":
		return domain.FinishStop
	default:
		return domain.FinishStop
	}
}

func finishReasonFromAnthropic(reason string) domain.FinishReason {
	switch reason {
	case "tool_use":
		return domain.FinishToolCalls
	case "max_tokens":
		return domain.FinishLength
	default:
		return domain.FinishStop
	}
}
