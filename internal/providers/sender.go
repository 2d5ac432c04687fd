// Package providers defines the Sender contract every provider adapter
// implements, and the error-classification taxonomy the Client Pool and
// Executor depend on. Adapters translate their native wire shape into
// domain.Message/domain.APIResponse at this boundary; nothing above it
// ever sees a raw provider payload.
package providers

import (
	"context"

	"github.com/austenvale/modelmux/internal/domain"
)

// ErrorClass classifies a provider error for fallback routing decisions.
type ErrorClass string

const (
	ErrClassRateLimited     ErrorClass = "rate_limited"
	ErrClassTransient       ErrorClass = "transient_network"
	ErrClassContextOverflow ErrorClass = "context_exceeded"
	ErrClassAuthFailed      ErrorClass = "auth_failed"
	ErrClassFatal           ErrorClass = "provider_error"
)

// ClassifiedError wraps a provider error with its routing classification.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int // seconds; 0 if not provided by the provider
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Sender is implemented by every provider adapter (openai, anthropic,
// google, xai, azure, bedrock, local).
type Sender interface {
	// ID returns the provider id this adapter serves, e.g. "openai".
	ID() string
	// Chat sends a single conversation turn to model and returns the
	// normalized response.
	Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error)
	// ClassifyError inspects an error returned by Chat and classifies it
	// for the Selector/Orchestrator's fallback logic.
	ClassifyError(err error) *ClassifiedError
	// Close releases any resources (idle connections, goroutines) held by
	// the adapter. Safe to call multiple times.
	Close() error
}
