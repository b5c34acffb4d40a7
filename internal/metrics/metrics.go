// Package metrics exposes Prometheus metrics for the resolution engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Classification metrics
	ClassificationsTotal   *prometheus.CounterVec
	ClassificationDuration *prometheus.HistogramVec
	UnknownIntentsTotal    prometheus.Counter

	// Backend call metrics
	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	BackendRateLimits   *prometheus.CounterVec
	CircuitTransitions  *prometheus.CounterVec

	// Fallback metrics
	FallbackDepth     prometheus.Histogram
	FallbackExhausted prometheus.Counter

	// Conversation metrics
	ConversationsActive prometheus.Gauge
	PromptCacheRebuilds prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = newMetrics()
	})
	return defaultM
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentd_classifications_total",
			Help: "Total classifications by resolving tier and intent",
		},
		[]string{"tier", "intent"},
	)

	m.ClassificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intentd_classification_duration_seconds",
			Help:    "Duration of classification by resolving tier",
			Buckets: []float64{.001, .005, .025, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tier"},
	)

	m.UnknownIntentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intentd_unknown_intents_total",
			Help: "Classifications that resolved to the unknown intent",
		},
	)

	m.BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentd_backend_calls_total",
			Help: "Total backend chat calls by backend and status",
		},
		[]string{"backend", "status"},
	)

	m.BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intentd_backend_call_duration_seconds",
			Help:    "Duration of backend chat calls",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"backend"},
	)

	m.BackendRateLimits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentd_backend_rate_limits_total",
			Help: "Rate-limit responses observed per backend",
		},
		[]string{"backend"},
	)

	m.CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intentd_circuit_transitions_total",
			Help: "Circuit breaker state transitions per backend",
		},
		[]string{"backend", "state"},
	)

	m.FallbackDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intentd_fallback_depth",
			Help:    "Number of backends tried before a reply was produced",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	m.FallbackExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intentd_fallback_exhausted_total",
			Help: "Generation attempts where every candidate backend failed",
		},
	)

	m.ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intentd_conversations_active",
			Help: "Conversations currently held in the store",
		},
	)

	m.PromptCacheRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intentd_prompt_cache_rebuilds_total",
			Help: "Base prompt rebuilds after invalidation or rollover",
		},
	)

	return m
}

// RecordClassification records one resolved classification.
func (m *Metrics) RecordClassification(tier, intent string, duration time.Duration) {
	m.ClassificationsTotal.WithLabelValues(tier, intent).Inc()
	m.ClassificationDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordBackendCall records one backend chat attempt.
func (m *Metrics) RecordBackendCall(backend, status string, duration time.Duration) {
	m.BackendCallsTotal.WithLabelValues(backend, status).Inc()
	m.BackendCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
}
