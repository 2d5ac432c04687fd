// Command modelmux is the composition root: it wires the Model Registry,
// Client Pool, Analyzer, Selector, Cost Ledger, Executor, Orchestrator, and
// Consensus Engine together and serves the ops HTTP surface. Startup is
// config load, then wiring, then ListenAndServe in a goroutine with
// signal-driven graceful shutdown; -healthcheck probes a running instance
// so distroless images have a HEALTHCHECK target.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/austenvale/modelmux/internal/analyzer"
	"github.com/austenvale/modelmux/internal/clientpool"
	"github.com/austenvale/modelmux/internal/config"
	"github.com/austenvale/modelmux/internal/consensus"
	"github.com/austenvale/modelmux/internal/cost"
	"github.com/austenvale/modelmux/internal/events"
	"github.com/austenvale/modelmux/internal/executor"
	"github.com/austenvale/modelmux/internal/health"
	"github.com/austenvale/modelmux/internal/logging"
	"github.com/austenvale/modelmux/internal/metrics"
	"github.com/austenvale/modelmux/internal/opsapi"
	"github.com/austenvale/modelmux/internal/orchestrator"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/providers/anthropic"
	"github.com/austenvale/modelmux/internal/providers/azure"
	"github.com/austenvale/modelmux/internal/providers/bedrock"
	"github.com/austenvale/modelmux/internal/providers/google"
	"github.com/austenvale/modelmux/internal/providers/local"
	"github.com/austenvale/modelmux/internal/providers/openai"
	"github.com/austenvale/modelmux/internal/providers/xai"
	"github.com/austenvale/modelmux/internal/registry"
	"github.com/austenvale/modelmux/internal/selector"
	"github.com/austenvale/modelmux/internal/tracing"
)

// version is set at build time via -ldflags.
var version = "dev"

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runHealthCheck performs an HTTP health check against the given address,
// for use as a Docker HEALTHCHECK in distroless images that have no curl.
func runHealthCheck(addr string) error {
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/healthz", addr))
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	listenAddr := getenv("MODELMUX_LISTEN_ADDR", ":8080")

	if len(os.Args) > 1 && os.Args[1] == "-healthcheck" {
		if err := runHealthCheck(listenAddr); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := logging.Setup(getenv("MODELMUX_LOG_LEVEL", "info"))
	logger.Info("modelmux starting", slog.String("version", version))

	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:     getenv("MODELMUX_OTEL_ENABLED", "false") == "true",
		Endpoint:    getenv("MODELMUX_OTEL_ENDPOINT", "localhost:4318"),
		ServiceName: "modelmux",
	})
	if err != nil {
		log.Fatalf("tracing init error: %v", err)
	}

	seed, err := config.LoadSeed(getenv("MODELMUX_REGISTRY_SEED", "registry.yaml"))
	if err != nil {
		log.Fatalf("registry seed error: %v", err)
	}
	reg := registry.New(seed.Capabilities())
	creds := config.NewEnvCredentialProvider(seed.Providers)

	bus := events.NewBus()
	sub := bus.Subscribe(64)
	go func() {
		for {
			select {
			case evt := <-sub.C:
				logEvent(logger, evt)
			case <-sub.Done():
				return
			}
		}
	}()
	tracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))

	pool := clientpool.New(creds, providerFactories())
	an := analyzer.New()
	sel := selector.New(reg, tracker)
	ledger := cost.New()
	exec := executor.New(ledger)
	metricsReg := metrics.New()

	orch := orchestrator.New(reg, an, sel, pool, exec, ledger,
		orchestrator.WithHealthRecorder(tracker),
		orchestrator.WithMetricsRecorder(metricsReg),
		orchestrator.WithRewardSink(slogRewardSink{logger: logger}),
		orchestrator.WithEventBus(bus),
	)
	// Routing and consensus stay library APIs; this process exposes only
	// the ops surface below and serves as the reference composition an
	// embedding caller (or a future cmd/*) constructs identically.
	_ = consensus.New(orch, reg, sel, an)

	r := chi.NewRouter()
	r.Use(logging.RequestLogger(logger))
	r.Use(tracing.Middleware())
	opsapi.Mount(r, opsapi.Dependencies{Orchestrator: orch, Metrics: metricsReg})

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      300 * time.Second, // allow long tool-call loops to finish
	}

	go func() {
		logger.Info("modelmux listening", slog.String("addr", listenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down (draining in-flight requests)...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", slog.Any("error", err))
	}
	if err := orch.Shutdown(); err != nil {
		logger.Error("orchestrator shutdown error", slog.Any("error", err))
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown error", slog.Any("error", err))
	}
	bus.Unsubscribe(sub)
	logger.Info("shutdown complete")
}

// logEvent fans an events.Bus event out to the structured logger. Both
// health.Tracker (health_change) and orchestrator.Orchestrator
// (route_success/route_error) publish onto the same bus.
func logEvent(logger *slog.Logger, evt events.Event) {
	switch evt.Type {
	case events.EventHealthChange:
		logger.Info("health_change",
			slog.String("provider_id", evt.ProviderID),
			slog.String("old_state", evt.OldState),
			slog.String("new_state", evt.NewState),
			slog.String("reason", evt.Reason),
		)
	case events.EventRouteSuccess, events.EventRouteError:
		logger.Info(string(evt.Type),
			slog.String("model_id", evt.ModelID),
			slog.String("provider_id", evt.ProviderID),
			slog.Float64("latency_ms", evt.LatencyMs),
			slog.Float64("cost_usd", evt.CostUSD),
			slog.String("error_class", evt.ErrorClass),
			slog.String("error_msg", evt.ErrorMsg),
		)
	default:
		logger.Info(string(evt.Type))
	}
}

// providerFactories registers every adapter this process knows how to
// build. Factory closures resolve provider-specific fields out of the
// credentials map the Client Pool hands them at first use; they make no
// network calls themselves.
func providerFactories() map[string]clientpool.Factory {
	return map[string]clientpool.Factory{
		"openai": func(creds clientpool.Credentials) (providers.Sender, error) {
			return openai.New("openai", creds["api_key"], creds["base_url"]), nil
		},
		"anthropic": func(creds clientpool.Credentials) (providers.Sender, error) {
			return anthropic.New("anthropic", creds["api_key"], creds["base_url"]), nil
		},
		"google": func(creds clientpool.Credentials) (providers.Sender, error) {
			return google.New("google", creds["api_key"], creds["base_url"]), nil
		},
		"xai": func(creds clientpool.Credentials) (providers.Sender, error) {
			return xai.New("xai", creds["api_key"], creds["base_url"]), nil
		},
		"azure": func(creds clientpool.Credentials) (providers.Sender, error) {
			return azure.New("azure", creds["api_key"], creds["base_url"]), nil
		},
		"bedrock": func(creds clientpool.Credentials) (providers.Sender, error) {
			// bedrock has no single api_key: "api_key" holds the access key
			// id (config.ProviderSeed.APIKeyEnv), "secret_access_key" and
			// "region" come from ProviderSeed.ExtraEnv.
			return bedrock.New("bedrock", creds["region"], creds["api_key"], creds["secret_access_key"], creds["base_url"]), nil
		},
		"local": func(creds clientpool.Credentials) (providers.Sender, error) {
			return local.New("local", creds["base_url"]), nil
		},
	}
}

// slogRewardSink is the only concrete RewardSink this process installs:
// every reward signal is logged structurally for later offline analysis.
type slogRewardSink struct {
	logger *slog.Logger
}

func (s slogRewardSink) RecordReward(requestID, modelID string, latency time.Duration, costUSD float64, success bool) {
	s.logger.Info("reward",
		slog.String("request_id", requestID),
		slog.String("model_id", modelID),
		slog.Duration("latency", latency),
		slog.Float64("cost_usd", costUSD),
		slog.Bool("success", success),
	)
}
