// Package metrics is the Prometheus surface for routing outcomes: one
// prometheus.Registry per process, served via promhttp.HandlerFor, with
// per-attempt request/cost observations and per-provider circuit breaker
// state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter

	// ProviderCircuitState reports each provider's circuit breaker state
	// (0=closed, 1=open, 2=half-open), mirroring circuitbreaker.State.
	ProviderCircuitState *prometheus.GaugeVec
	ProviderDemotedTotal *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_requests_total",
			Help: "Total requests routed through modelmux",
		}, []string{"mode", "model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelmux_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode", "model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"model", "provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelmux_rate_limited_total",
			Help: "Total attempts that received a rate_limited classification",
		}),
		ProviderCircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modelmux_provider_circuit_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"provider"}),
		ProviderDemotedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_provider_demoted_total",
			Help: "Total times a provider was demoted during fallback",
		}, []string{"provider"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.CostUSD, m.RateLimitedTotal, m.ProviderCircuitState, m.ProviderDemotedTotal)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one attempt's outcome, satisfying
// orchestrator.MetricsRecorder.
func (m *Registry) ObserveRequest(modelID, providerID, status string, latencyMs float64) {
	m.RequestsTotal.WithLabelValues("route", modelID, providerID, status).Inc()
	m.RequestLatency.WithLabelValues("route", modelID, providerID).Observe(latencyMs)
}

// ObserveCost adds costUSD to the running per-model/provider cost counter.
func (m *Registry) ObserveCost(modelID, providerID string, costUSD float64) {
	m.CostUSD.WithLabelValues(modelID, providerID).Add(costUSD)
}

// ObserveRateLimited increments the rate_limited attempt counter.
func (m *Registry) ObserveRateLimited() {
	m.RateLimitedTotal.Inc()
}

// SetCircuitState publishes a provider's current circuit breaker state
// (0=closed, 1=open, 2=half-open).
func (m *Registry) SetCircuitState(providerID string, state int) {
	m.ProviderCircuitState.WithLabelValues(providerID).Set(float64(state))
}

// IncDemoted counts a provider being skipped during a fallback walk.
func (m *Registry) IncDemoted(providerID string) {
	m.ProviderDemotedTotal.WithLabelValues(providerID).Inc()
}
