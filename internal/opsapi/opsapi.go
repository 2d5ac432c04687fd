// Package opsapi is a minimal, read-only ops HTTP surface: /healthz,
// /metrics, and /v1/providers. Deliberately carries no admin dashboard,
// no API key management, and no mutation endpoints.
package opsapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/austenvale/modelmux/internal/metrics"
	"github.com/austenvale/modelmux/internal/orchestrator"
)

// Dependencies are the collaborators the ops surface reads from. It never
// mutates any of them.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Registry
}

// Mount registers the ops endpoints on r.
func Mount(r chi.Router, d Dependencies) {
	r.Get("/healthz", healthzHandler(d))
	r.Handle("/metrics", d.Metrics.Handler())
	r.Get("/v1/providers", providersHandler(d))
}

// healthzHandler reports 503 when the orchestrator knows at least one
// provider and none of them is available, i.e. the process could not route
// a single request; otherwise (including when no provider is known) it
// reports 200.
func healthzHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		avail := d.Orchestrator.ListAvailableProviders()
		healthy := 0
		for _, ok := range avail {
			if ok {
				healthy++
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if healthy == 0 && len(avail) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "unhealthy", "providers": avail})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "providers": avail})
	}
}

// providersHandler exposes provider availability over HTTP as
// {provider_id: available_bool}.
func providersHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Orchestrator.ListAvailableProviders())
	}
}
