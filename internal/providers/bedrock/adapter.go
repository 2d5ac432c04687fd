// Package bedrock implements providers.Sender for AWS Bedrock's
// InvokeModel API (Anthropic-on-Bedrock wire shape). Bedrock requires AWS
// SigV4 request signing rather than a bearer token, so unlike the other
// adapters this one signs its own requests, implemented directly on
// crypto/hmac+crypto/sha256.
package bedrock

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/httpclient"
)

// Adapter implements providers.Sender for AWS Bedrock.
type Adapter struct {
	id              string
	region          string
	accessKeyID     string
	secretAccessKey string
	baseURL         string // e.g. https://bedrock-runtime.<region>.amazonaws.com
	client          *http.Client
	now             func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout overrides the default 30s HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.client.Timeout = d }
}

// New creates a Bedrock adapter registered under id (usually "bedrock").
// An empty baseURL is derived from region.
func New(id, region, accessKeyID, secretAccessKey, baseURL string, opts ...Option) *Adapter {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	}
	a := &Adapter{
		id:              id,
		region:          region,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		baseURL:         baseURL,
		client:          &http.Client{Timeout: 30 * time.Second},
		now:             time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Close() error { return nil }

const defaultMaxTokens = 4096
const bedrockAnthropicVersion = "bedrock-2023-05-31"

func (a *Adapter) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	var wire []map[string]any
	var system string
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		wire = append(wire, map[string]any{"role": string(m.Role), "content": m.Content})
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := map[string]any{
		"anthropic_version": bedrockAnthropicVersion,
		"messages":          wire,
		"max_tokens":        maxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}

	path := fmt.Sprintf("/model/%s/invoke", model)
	body, err := a.signedRequest(ctx, path, payload)
	if err != nil {
		return domain.APIResponse{}, err
	}
	return httpclient.ParseResponse(body, model)
}

// signedRequest sends a SigV4-signed POST to the Bedrock runtime endpoint.
func (a *Adapter) signedRequest(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to marshal request: %w", err)
	}

	url := a.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := a.sign(req, jsonData); err != nil {
		return nil, fmt.Errorf("bedrock: failed to sign request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		se := &httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, se
	}
	return respBody, nil
}

// sign implements AWS Signature Version 4 for the request, scoped to the
// bedrock service in a.region.
func (a *Adapter) sign(req *http.Request, body []byte) error {
	t := a.now().UTC()
	amzDate := t.Format("20060102T150405Z")
	dateStamp := t.Format("20060102")

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("Host", req.URL.Host)

	payloadHash := sha256Hex(body)
	canonicalHeaders := fmt.Sprintf("content-type:%s\nhost:%s\nx-amz-date:%s\n",
		req.Header.Get("Content-Type"), req.URL.Host, amzDate)
	signedHeaders := "content-type;host;x-amz-date"

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URL.Path,
		"",
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/bedrock/aws4_request", dateStamp, a.region)
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(a.secretAccessKey, dateStamp, a.region, "bedrock")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authHeader := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		a.accessKeyID, credentialScope, signedHeaders, signature)
	req.Header.Set("Authorization", authHeader)
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func deriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
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
		case strings.Contains(se.Body, "too long"):
			return &providers.ClassifiedError{Err: err, Class: providers.ErrClassContextOverflow}
		}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
