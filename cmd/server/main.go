package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentsight/call-copilot/internal/config"
	"github.com/agentsight/call-copilot/internal/disposition"
	"github.com/agentsight/call-copilot/internal/events"
	"github.com/agentsight/call-copilot/internal/fanout"
	"github.com/agentsight/call-copilot/internal/frontend"
	"github.com/agentsight/call-copilot/internal/intent"
	"github.com/agentsight/call-copilot/internal/kb"
	"github.com/agentsight/call-copilot/internal/llm"
	"github.com/agentsight/call-copilot/internal/observability"
	"github.com/agentsight/call-copilot/internal/pipeline"
	"github.com/agentsight/call-copilot/internal/resilience"
	"github.com/agentsight/call-copilot/internal/session"
	"github.com/agentsight/call-copilot/internal/stt"
	"github.com/agentsight/call-copilot/internal/telephony"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("llm_provider", cfg.LLMProvider).
		Str("frontend_api_url", cfg.FrontendAPIURL).
		Bool("kafka_enabled", cfg.KafkaEnabled()).
		Str("log_level", cfg.LogLevel).
		Msg("Call Copilot Service starting")

	ctx := context.Background()

	// Resilience building blocks: one breaker per destination
	recoveryTimeout := time.Duration(cfg.CircuitBreakerRecoveryTimeout) * time.Second
	frontendBreaker := resilience.NewCircuitBreaker("frontend", cfg.CircuitBreakerFailureThreshold, recoveryTimeout)
	llmBreaker := resilience.NewCircuitBreaker("llm", cfg.CircuitBreakerFailureThreshold, recoveryTimeout)
	kbBreaker := resilience.NewCircuitBreaker("kb", cfg.CircuitBreakerFailureThreshold, recoveryTimeout)

	retryPolicy := resilience.Policy{
		MaxRetries:   cfg.RetryMaxRetries,
		InitialDelay: time.Duration(cfg.RetryInitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.RetryMaxDelay) * time.Millisecond,
		Multiplier:   2.0,
	}

	// Domain capabilities
	llmClient, err := llm.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create LLM client")
	}

	sttFactory, err := stt.NewFactory(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create STT factory")
	}

	pipelines := pipeline.NewManager(cfg, sttFactory, logger)
	requestTimeout := time.Duration(cfg.RequestTimeout) * time.Second

	frontendClient := frontend.NewClient(cfg.FrontendAPIURL, pipelines.HTTPClient(), frontendBreaker, retryPolicy, logger)
	detector := intent.NewDetector(llmClient, llmBreaker, logger)
	kbService := kb.NewService(cfg.FrontendAPIURL, cfg.KBMaxResults, pipelines.HTTPClient(), kbBreaker, logger)
	dispositions := disposition.NewGenerator(llmClient, llmBreaker, retryPolicy, logger)

	var publisher *events.Publisher
	if cfg.KafkaEnabled() {
		publisher = events.New(&events.Config{
			Brokers:      cfg.KafkaBrokers,
			TopicPartial: cfg.KafkaTopicPartial,
			TopicFinal:   cfg.KafkaTopicFinal,
		}, logger)
	}

	fan := fanout.New(frontendClient, detector, kbService, publisher, requestTimeout, logger)

	sessions := session.NewRegistry()
	handler := telephony.NewHandler(cfg, sessions, pipelines, fan, dispositions, frontendClient, logger)

	// HTTP surface
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ingest", handler.ServeWS)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"service":"call-copilot","status":"running","ingest":"/v1/ingest"}`)
	})

	frontendCheck := func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.FrontendAPIURL, nil)
		if err != nil {
			return false, err
		}
		resp, err := pipelines.HTTPClient().Do(req)
		if err != nil {
			return false, err
		}
		resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError, nil
	}
	sttCheck := func(ctx context.Context) (bool, error) {
		// Validates the provider configuration without opening a stream
		_, err := stt.NewFactory(cfg, logger)
		return err == nil, err
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"frontend": frontendCheck,
		"stt":      sttCheck,
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/v1/ingest", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	pipelines.Shutdown(shutdownCtx)
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing event publisher")
		}
	}

	logger.Info().Msg("Server exited gracefully")
}
