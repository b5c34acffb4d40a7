// Package server composes the intentd engine: configuration, resilience,
// matchers, orchestration, scheduled jobs, and the HTTP transport. It is
// the single entry point main.go builds from.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pelangihq/intentd/internal/api"
	"github.com/pelangihq/intentd/internal/api/handlers"
	"github.com/pelangihq/intentd/internal/backends"
	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/internal/content"
	"github.com/pelangihq/intentd/internal/conversation"
	"github.com/pelangihq/intentd/internal/embeddings"
	"github.com/pelangihq/intentd/internal/engine"
	"github.com/pelangihq/intentd/internal/match"
	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/internal/notify"
	"github.com/pelangihq/intentd/internal/orchestrator"
	"github.com/pelangihq/intentd/internal/promptcache"
	"github.com/pelangihq/intentd/internal/registry"
	"github.com/pelangihq/intentd/internal/report"
	"github.com/pelangihq/intentd/internal/resilience"
	"github.com/pelangihq/intentd/internal/routing"
	"github.com/pelangihq/intentd/internal/telemetry"
	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized engine and its background machinery.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Engine is the resolution engine, exposed for embedding callers.
	Engine *engine.Engine

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error

	cfg       *config.Config
	domain    *config.DomainConfig
	store     *conversation.Store
	janitor   *conversation.Janitor
	scheduler *report.Scheduler
	semantic  *match.Semantic
	embedder  contracts.EmbeddingDriver
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	domain, err := config.LoadDomain(cfg.Engine.DomainConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load domain config: %w", err)
	}

	notifier := notify.NewWebhookDispatcher(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret)
	governor := resilience.NewGovernor(governorConfig(cfg, notifier))

	executor := backends.NewExecutor(backends.WithTimeout(cfg.Engine.ChatTimeout))
	reg := registry.New(domain)
	orch := orchestrator.New(reg, governor, executor)

	store := conversation.NewStore(cfg.Engine.ConversationTTL)
	blocks := content.NewStore(domain)
	prompts := promptcache.New(domain, blocks)

	embedder := buildEmbedder(cfg)
	semantic := match.NewSemantic(embedder)

	eng := engine.New(engine.Config{
		Provider:         domain,
		Deterministic:    match.NewDeterministic(domain.DefaultThreshold()),
		Semantic:         semantic,
		Orchestrator:     orch,
		Executor:         executor,
		Registry:         reg,
		Store:            store,
		Prompts:          prompts,
		Router:           routing.New(domain),
		Notifier:         notifier,
		SmartTimeout:     cfg.Engine.SmartChatTimeout,
		RepeatAlertAfter: cfg.Engine.RateLimitAlertAfter,
	})

	h := handlers.New(eng, domain, prompts)

	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Engine:       eng,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		cfg:          cfg,
		domain:       domain,
		store:        store,
		janitor:      conversation.NewJanitor(store, cfg.Engine.SweepInterval),
		scheduler:    report.New(cfg.Engine.ReportSchedule, orch, store, prompts, notifier),
		semantic:     semantic,
		embedder:     embedder,
	}, nil
}

// Start launches the background tasks: the conversation sweep, the report
// scheduler, and the one-time semantic matcher initialization. It returns
// immediately; tasks stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	go s.janitor.Start(ctx)

	if s.embedder != nil {
		go s.initSemantic(ctx)
	} else {
		log.Info().Msg("No embedding provider configured, semantic tier disabled")
	}
	return nil
}

// Stop halts the scheduled jobs. The janitor and semantic init exit with
// the context passed to Start.
func (s *Server) Stop() {
	s.scheduler.Stop()
}

// initSemantic builds the per-intent centroids, retrying with exponential
// backoff while the embedding provider is unreachable.
func (s *Server) initSemantic(ctx context.Context) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Second),
		backoff.WithMaxInterval(2*time.Minute),
		backoff.WithMaxElapsedTime(0),
	)
	op := func() error {
		return s.semantic.Initialize(ctx, s.domain.Intents())
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		log.Warn().Err(err).Msg("Semantic matcher initialization abandoned")
		return
	}
	log.Info().Msg("Semantic matcher ready")
}

// governorConfig wires circuit and rate-limit transitions into metrics and
// the notification channels.
func governorConfig(cfg *config.Config, notifier *notify.Dispatcher) resilience.GovernorConfig {
	m := metrics.Default()

	gc := resilience.DefaultGovernorConfig()
	gc.Breaker.FailureThreshold = cfg.Engine.BreakerThreshold
	gc.Breaker.Cooldown = cfg.Engine.BreakerCooldown
	gc.RateLimit.AlertAfter = cfg.Engine.RateLimitAlertAfter

	gc.Breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		m.CircuitTransitions.WithLabelValues(name, to.String()).Inc()
		evt := log.Warn()
		if to == resilience.CircuitClosed {
			evt = log.Info()
		}
		evt.Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit state changed")

		if to == resilience.CircuitOpen {
			notifier.Dispatch(context.Background(), models.Event{
				ID:      uuid.NewString(),
				Type:    models.EventCircuitOpened,
				Backend: name,
				Message: fmt.Sprintf("circuit for backend %q opened", name),
			})
		}
	}
	gc.RateLimit.OnAlert = func(name string, consecutive int, cooldownUntil time.Time) {
		notifier.Dispatch(context.Background(), models.Event{
			ID:      uuid.NewString(),
			Type:    models.EventRateLimited,
			Backend: name,
			Message: fmt.Sprintf("backend %q rate limited %d times, cooling down until %s", name, consecutive, cooldownUntil.Format(time.RFC3339)),
			Payload: map[string]interface{}{
				"consecutive":    consecutive,
				"cooldown_until": cooldownUntil,
			},
		})
	}
	return gc
}

// buildEmbedder selects the embedding driver for the semantic tier, or nil
// when none is configured.
func buildEmbedder(cfg *config.Config) contracts.EmbeddingDriver {
	ec := cfg.Engine
	switch ec.EmbeddingProvider {
	case "ollama":
		return embeddings.NewOllamaDriver(ec.EmbeddingEndpoint, ec.EmbeddingModel)
	case "openai":
		return embeddings.NewOpenAIDriver(os.Getenv("OPENAI_API_KEY"), ec.EmbeddingModel, ec.EmbeddingEndpoint)
	case "":
		return nil
	default:
		log.Warn().Str("provider", ec.EmbeddingProvider).Msg("Unknown embedding provider, semantic tier disabled")
		return nil
	}
}
