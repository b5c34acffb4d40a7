// Package resilience shields the engine from failing or rate-limited
// backends. It combines a per-backend circuit breaker with a rate-limit
// cooldown tracker; both are advisory filters consulted by the fallback
// orchestrator before every generative attempt.
package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state, requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit has tripped, requests are rejected locally.
	CircuitOpen
	// CircuitHalfOpen allows a single trial request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before the circuit opens.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects calls before allowing
	// a half-open trial.
	Cooldown time.Duration

	// BackoffMultiplier extends the cooldown each time a half-open trial
	// fails. 1.0 keeps the cooldown constant.
	BackoffMultiplier float64

	// MaxCooldown caps the extended cooldown.
	MaxCooldown time.Duration

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  3,
		Cooldown:          30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxCooldown:       10 * time.Minute,
	}
}

// CircuitBreaker tracks consecutive failures for one named backend and
// rejects calls locally while the backend is considered down. Only one
// half-open trial request may be in flight at a time.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	cooldown      time.Duration
	lastChange    time.Time
	probeInFlight bool
	now           func() time.Time
}

// NewCircuitBreaker creates a breaker for a named backend.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 1
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 10 * time.Minute
	}
	return &CircuitBreaker{
		name:       name,
		config:     config,
		state:      CircuitClosed,
		cooldown:   config.Cooldown,
		lastChange: time.Now(),
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed. In the half-open state only
// the first caller gets through; everyone else is rejected until the trial
// outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastChange) < cb.cooldown {
			return false
		}
		cb.transition(CircuitHalfOpen)
		cb.probeInFlight = true
		return true
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the breaker after a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probeInFlight = false
	cb.cooldown = cb.config.Cooldown
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure counts a failed call. The circuit opens at the configured
// threshold; a failed half-open trial re-opens it with an extended cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.probeInFlight = false
		next := time.Duration(float64(cb.cooldown) * cb.config.BackoffMultiplier)
		if next > cb.config.MaxCooldown {
			next = cb.config.MaxCooldown
		}
		cb.cooldown = next
		cb.transition(CircuitOpen)
	}
}

// State returns the current circuit state, accounting for an elapsed
// cooldown (an open circuit past its cooldown reads as half-open).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastChange) >= cb.cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.lastChange = cb.now()
	if cb.config.OnStateChange != nil && from != to {
		go cb.config.OnStateChange(cb.name, from, to)
	}
}
