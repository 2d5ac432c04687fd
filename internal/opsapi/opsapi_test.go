package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/clientpool"
	"github.com/austenvale/modelmux/internal/cost"
	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/executor"
	"github.com/austenvale/modelmux/internal/metrics"
	"github.com/austenvale/modelmux/internal/orchestrator"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/registry"
	"github.com/austenvale/modelmux/internal/selector"
)

type fakeSender struct{ id string }

func (f *fakeSender) ID() string { return f.id }
func (f *fakeSender) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	return domain.APIResponse{}, nil
}
func (f *fakeSender) ClassifyError(err error) *providers.ClassifiedError {
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}
func (f *fakeSender) Close() error { return nil }

type alwaysHealthy struct{}

func (alwaysHealthy) IsAvailable(string) bool { return true }

type allCreds struct{}

func (allCreds) GetCredentials(providerID string) (clientpool.Credentials, bool) {
	if providerID == "openai" {
		return clientpool.Credentials{"key": "x"}, true
	}
	return nil, false
}

func buildOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	reg := registry.New([]registry.Capability{
		{ID: "openai-big", Provider: "openai", APIName: "gpt-4o"},
		{ID: "anthropic-big", Provider: "anthropic", APIName: "claude-3-opus"},
	})
	an := analyzer.New()
	sel := selector.New(reg, alwaysHealthy{})
	pool := clientpool.New(allCreds{}, map[string]clientpool.Factory{
		"openai": func(clientpool.Credentials) (providers.Sender, error) { return &fakeSender{id: "openai"}, nil },
	})
	ledger := cost.New()
	exec := executor.New(ledger)
	return orchestrator.New(reg, an, sel, pool, exec, ledger)
}

func TestHealthzReportsOKWhenAnyProviderAvailable(t *testing.T) {
	o := buildOrchestrator(t)
	_, _ = o.RouteRequest(context.Background(), "hi", orchestrator.RouteOptions{ModelID: "openai-big"})

	r := chi.NewRouter()
	Mount(r, Dependencies{Orchestrator: o, Metrics: metrics.New()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProvidersHandlerListsAvailability(t *testing.T) {
	o := buildOrchestrator(t)

	r := chi.NewRouter()
	Mount(r, Dependencies{Orchestrator: o, Metrics: metrics.New()})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body["openai"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	o := buildOrchestrator(t)

	r := chi.NewRouter()
	Mount(r, Dependencies{Orchestrator: o, Metrics: metrics.New()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
