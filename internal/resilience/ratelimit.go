package resilience

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RateLimitConfig configures the rate-limit cooldown tracker.
type RateLimitConfig struct {
	// InitialCooldown is the cooldown after the first rate-limit signal.
	InitialCooldown time.Duration

	// MaxCooldown bounds the exponential backoff.
	MaxCooldown time.Duration

	// Multiplier grows the cooldown per consecutive signal.
	Multiplier float64

	// AlertAfter is consecutive signals before OnAlert fires. Zero disables
	// alerting.
	AlertAfter int

	// OnAlert is invoked at most once per cooldown window when the
	// consecutive counter crosses AlertAfter.
	OnAlert func(name string, consecutive int, cooldownUntil time.Time)
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		InitialCooldown: 5 * time.Second,
		MaxCooldown:     5 * time.Minute,
		Multiplier:      2.0,
		AlertAfter:      3,
	}
}

// RateLimitTracker tracks upstream "too many requests" signals for one
// backend, separately from generic failures. Consecutive signals grow an
// exponential cooldown window; any success resets the consecutive counter
// but keeps the lifetime counter for observability.
type RateLimitTracker struct {
	name   string
	config RateLimitConfig

	mu             sync.Mutex
	bo             *backoff.ExponentialBackOff
	consecutive    int
	successes      int64
	lifetimeErrors int64
	cooldownUntil  time.Time
	lastNotified   time.Time
	now            func() time.Time
}

// NewRateLimitTracker creates a tracker for a named backend.
func NewRateLimitTracker(name string, config RateLimitConfig) *RateLimitTracker {
	if config.InitialCooldown <= 0 {
		config.InitialCooldown = 5 * time.Second
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 5 * time.Minute
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	return &RateLimitTracker{
		name:   name,
		config: config,
		bo:     newBackoff(config),
		now:    time.Now,
	}
}

func newBackoff(config RateLimitConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(config.InitialCooldown),
		backoff.WithMaxInterval(config.MaxCooldown),
		backoff.WithMultiplier(config.Multiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	bo.Reset()
	return bo
}

// Allow reports whether the cooldown window has elapsed.
func (rt *RateLimitTracker) Allow() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return !rt.now().Before(rt.cooldownUntil)
}

// RecordSuccess resets the consecutive counter and the backoff schedule.
func (rt *RateLimitTracker) RecordSuccess() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.successes++
	rt.consecutive = 0
	rt.cooldownUntil = time.Time{}
	rt.lastNotified = time.Time{}
	rt.bo = newBackoff(rt.config)
}

// RecordRateLimit counts one rate-limit signal and extends the cooldown
// window. The cooldown-until timestamp never moves backwards while signals
// continue. When the consecutive counter crosses AlertAfter, OnAlert fires
// once per cooldown window, deduplicated via the last-notified timestamp.
func (rt *RateLimitTracker) RecordRateLimit() {
	rt.mu.Lock()

	now := rt.now()
	if now.After(rt.cooldownUntil) {
		// Previous window expired; this signal starts a new one.
		rt.lastNotified = time.Time{}
	}

	rt.consecutive++
	rt.lifetimeErrors++

	until := now.Add(rt.bo.NextBackOff())
	if until.After(rt.cooldownUntil) {
		rt.cooldownUntil = until
	}

	shouldAlert := rt.config.AlertAfter > 0 &&
		rt.config.OnAlert != nil &&
		rt.consecutive >= rt.config.AlertAfter &&
		rt.lastNotified.IsZero()
	if shouldAlert {
		rt.lastNotified = now
	}

	name := rt.name
	consecutive := rt.consecutive
	cooldownUntil := rt.cooldownUntil
	alertFn := rt.config.OnAlert
	rt.mu.Unlock()

	if shouldAlert {
		alertFn(name, consecutive, cooldownUntil)
	}
}

// Snapshot returns the tracker's observable state.
func (rt *RateLimitTracker) Snapshot() (consecutive int, lifetime int64, cooldownUntil time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.consecutive, rt.lifetimeErrors, rt.cooldownUntil
}
