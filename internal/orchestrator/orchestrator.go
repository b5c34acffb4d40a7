// Package orchestrator walks the eligible backends in priority order and
// returns the first usable reply. Backends whose circuit is open or whose
// rate-limit cooldown has not elapsed are skipped without a network call;
// failures are recorded so the resilience layer can react.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pelangihq/intentd/internal/backends"
	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/internal/registry"
	"github.com/pelangihq/intentd/internal/resilience"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNoContent is returned when every candidate backend was skipped or
// failed.
var ErrNoContent = errors.New("no backend produced a reply")

// Caller issues one chat call against one backend. *backends.Executor
// satisfies it.
type Caller interface {
	Chat(ctx context.Context, backend *models.Backend, messages []models.ChatMessage, params models.GenerateParams) (string, error)
}

// Result is a successful generation.
type Result struct {
	Reply     string
	BackendID string
	Attempts  int
	Elapsed   time.Duration
}

// Orchestrator coordinates backend selection, resilience bookkeeping, and
// the actual chat calls.
type Orchestrator struct {
	registry *registry.Registry
	governor *resilience.Governor
	caller   Caller
	metrics  *metrics.Metrics

	mu      sync.Mutex
	latency map[string]time.Duration
}

// New creates an orchestrator.
func New(reg *registry.Registry, gov *resilience.Governor, caller Caller) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		governor: gov,
		caller:   caller,
		metrics:  metrics.Default(),
		latency:  make(map[string]time.Duration),
	}
}

// Generate walks every eligible backend in ascending priority order.
func (o *Orchestrator) Generate(ctx context.Context, messages []models.ChatMessage, params models.GenerateParams) (Result, error) {
	return o.walk(ctx, o.registry.Candidates(), messages, params)
}

// GenerateWith restricts the walk to the named backends, keeping their
// priority order. An empty ID list means every eligible backend.
func (o *Orchestrator) GenerateWith(ctx context.Context, ids []string, messages []models.ChatMessage, params models.GenerateParams) (Result, error) {
	return o.walk(ctx, o.registry.Subset(ids), messages, params)
}

func (o *Orchestrator) walk(ctx context.Context, candidates []models.Backend, messages []models.ChatMessage, params models.GenerateParams) (Result, error) {
	start := time.Now()
	attempts := 0

	for i := range candidates {
		b := &candidates[i]

		if err := o.governor.Allow(b.ID); err != nil {
			log.Debug().Str("backend", b.ID).Err(err).Msg("Backend skipped")
			o.metrics.BackendCallsTotal.WithLabelValues(b.ID, "skipped").Inc()
			continue
		}

		attempts++
		callStart := time.Now()
		reply, err := o.caller.Chat(ctx, b, messages, params)
		elapsed := time.Since(callStart)

		if err != nil {
			rateLimited := backends.IsRateLimited(err)
			o.governor.RecordFailure(b.ID, rateLimited)
			status := "error"
			if rateLimited {
				status = "rate_limited"
				o.metrics.BackendRateLimits.WithLabelValues(b.ID).Inc()
			}
			o.metrics.RecordBackendCall(b.ID, status, elapsed)
			log.Warn().
				Str("backend", b.ID).
				Dur("elapsed", elapsed).
				Err(err).
				Msg("Backend call failed, trying next candidate")

			if ctx.Err() != nil {
				return Result{Attempts: attempts}, ctx.Err()
			}
			continue
		}

		o.governor.RecordSuccess(b.ID)
		o.observeLatency(b.ID, elapsed)
		o.metrics.RecordBackendCall(b.ID, "ok", elapsed)
		o.metrics.FallbackDepth.Observe(float64(attempts))
		return Result{
			Reply:     reply,
			BackendID: b.ID,
			Attempts:  attempts,
			Elapsed:   time.Since(start),
		}, nil
	}

	o.metrics.FallbackExhausted.Inc()
	log.Error().
		Int("candidates", len(candidates)).
		Int("attempts", attempts).
		Msg("All backends exhausted")
	return Result{Attempts: attempts, Elapsed: time.Since(start)}, ErrNoContent
}

// observeLatency folds one successful call into the backend's moving
// average (weight 1/4 on the new sample).
func (o *Orchestrator) observeLatency(id string, sample time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.latency[id]
	if !ok {
		o.latency[id] = sample
		return
	}
	o.latency[id] = prev + (sample-prev)/4
}

// Status reports the live resilience state for every configured backend.
func (o *Orchestrator) Status() []models.BackendStatus {
	all := o.registry.All()
	out := make([]models.BackendStatus, 0, len(all))

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range all {
		st := o.governor.State(b.ID)
		_, credOK := b.ResolveCredential()
		out = append(out, models.BackendStatus{
			Backend:        b,
			CredentialOK:   credOK,
			CircuitState:   st.Circuit.String(),
			Failures:       st.Failures,
			RateLimited:    st.RateLimited,
			CooldownUntil:  st.CooldownUntil,
			LifetimeErrors: st.LifetimeErrors,
			AvgLatency:     o.latency[b.ID],
		})
	}
	return out
}
