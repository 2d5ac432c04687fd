// Package azure implements providers.Sender for Azure OpenAI deployments.
// Same OpenAI-compatible wire shape as internal/providers/openai,
// differing only in the deployment-scoped URL, api-key header (instead of
// Bearer), and a
// mandatory api-version query parameter — the three things Azure OpenAI
// actually changes versus plain OpenAI.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/httpclient"
	"github.com/austenvale/modelmux/internal/providers/openai"
)

// Adapter implements providers.Sender for Azure OpenAI.
type Adapter struct {
	id         string
	apiKey     string
	baseURL    string // e.g. https://<resource>.openai.azure.com
	apiVersion string
	client     *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAPIVersion overrides the default api-version query parameter.
func WithAPIVersion(v string) Option {
	return func(a *Adapter) { a.apiVersion = v }
}

// WithTimeout overrides the default 30s HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

const defaultAPIVersion = "2024-06-01"

// New creates an Azure OpenAI adapter registered under id (usually
// "azure"). model passed to Chat is treated as the deployment name.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{id: id, apiKey: apiKey, baseURL: baseURL, apiVersion: defaultAPIVersion, client: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Close() error { return nil }

func (a *Adapter) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	payload := map[string]any{"messages": openai.ToWireMessages(messages)}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		payload["tools"] = openai.ToWireTools(opts.Tools)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.baseURL, url.PathEscape(model), url.QueryEscape(a.apiVersion))

	headers := map[string]string{"api-key": a.apiKey}
	body, err := httpclient.DoRequest(ctx, a.client, endpoint, payload, headers)
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
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassAuthFailed}
		case strings.Contains(se.Body, "context_length_exceeded"):
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassContextOverflow}
		}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
