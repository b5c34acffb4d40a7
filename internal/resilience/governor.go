package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned when a backend's circuit rejects a call.
var ErrCircuitOpen = errors.New("circuit open")

// ErrCoolingDown is returned while a backend's rate-limit cooldown is active.
var ErrCoolingDown = errors.New("rate-limit cooldown active")

// GovernorConfig configures per-backend trackers created on first use.
type GovernorConfig struct {
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
}

// DefaultGovernorConfig returns defaults for both sub-trackers.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		Breaker:   DefaultBreakerConfig(),
		RateLimit: DefaultRateLimitConfig(),
	}
}

// BackendState is the observable resilience state of one backend.
type BackendState struct {
	Circuit        CircuitState
	Failures       int
	RateLimited    bool
	CooldownUntil  time.Time
	LifetimeErrors int64
}

// Governor holds one circuit breaker and one rate-limit tracker per backend
// ID. Both are advisory filters: they never mutate backend configuration.
type Governor struct {
	config GovernorConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	limits   map[string]*RateLimitTracker
}

// NewGovernor creates an empty governor; trackers are created lazily.
func NewGovernor(config GovernorConfig) *Governor {
	return &Governor{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
		limits:   make(map[string]*RateLimitTracker),
	}
}

// Allow reports whether a call to the backend should be attempted. The
// returned error names which tracker rejected it.
func (g *Governor) Allow(backendID string) error {
	cb, rt := g.trackers(backendID)
	if !rt.Allow() {
		return ErrCoolingDown
	}
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess resets both trackers for the backend.
func (g *Governor) RecordSuccess(backendID string) {
	cb, rt := g.trackers(backendID)
	cb.RecordSuccess()
	rt.RecordSuccess()
}

// RecordFailure counts a failed call. Rate-limit signals feed the cooldown
// tracker in addition to the breaker, so persistent throttling opens the
// circuit too.
func (g *Governor) RecordFailure(backendID string, rateLimited bool) {
	cb, rt := g.trackers(backendID)
	if rateLimited {
		rt.RecordRateLimit()
	}
	cb.RecordFailure()
}

// State returns the combined resilience state for one backend.
func (g *Governor) State(backendID string) BackendState {
	cb, rt := g.trackers(backendID)
	_, lifetime, until := rt.Snapshot()
	return BackendState{
		Circuit:        cb.State(),
		Failures:       cb.Failures(),
		RateLimited:    !rt.Allow(),
		CooldownUntil:  until,
		LifetimeErrors: lifetime,
	}
}

// trackers returns (creating if needed) the per-backend trackers.
func (g *Governor) trackers(backendID string) (*CircuitBreaker, *RateLimitTracker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[backendID]
	if !ok {
		cfg := g.config.Breaker
		if cfg.OnStateChange == nil {
			cfg.OnStateChange = logStateChange
		}
		cb = NewCircuitBreaker(backendID, cfg)
		g.breakers[backendID] = cb
	}
	rt, ok := g.limits[backendID]
	if !ok {
		rt = NewRateLimitTracker(backendID, g.config.RateLimit)
		g.limits[backendID] = rt
	}
	return cb, rt
}

func logStateChange(name string, from, to CircuitState) {
	evt := log.Warn()
	if to == CircuitClosed {
		evt = log.Info()
	}
	evt.
		Str("backend", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit state changed")
}
