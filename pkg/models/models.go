// Package models defines the shared data model for the intentd engine:
// generation backends, classification results, conversation state, and the
// intent/routing configuration shapes the engine consumes.
package models

import (
	"os"
	"time"
)

// ── Backend ──────────────────────────────────────────────────

// BackendKind identifies the wire protocol a backend speaks.
type BackendKind string

const (
	// KindHosted is a key-based hosted API (Anthropic-style messages endpoint).
	KindHosted BackendKind = "hosted"
	// KindLocal is a self-hosted runtime (Ollama) that needs no credential.
	KindLocal BackendKind = "local"
	// KindOpenAICompat is any generic OpenAI-compatible chat completions API.
	KindOpenAICompat BackendKind = "openai-compat"
)

// CredentialSource describes where a backend's API key comes from.
type CredentialSource string

const (
	// CredentialInline means the key is stored directly in configuration.
	CredentialInline CredentialSource = "inline"
	// CredentialEnv means the key is resolved from an environment variable.
	CredentialEnv CredentialSource = "env"
	// CredentialNone means the backend requires no credential (local runtimes).
	CredentialNone CredentialSource = "none"
)

// Backend is one configured generation backend. Enabled backends form a
// total order by Priority (lower tried first); ties keep declaration order.
type Backend struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name" yaml:"name"`
	Kind       BackendKind      `json:"kind" yaml:"kind"`
	Priority   int              `json:"priority" yaml:"priority"`
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	Model      string           `json:"model" yaml:"model"`
	Endpoint   string           `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Credential CredentialSource `json:"credential" yaml:"credential"`
	APIKey     string           `json:"-" yaml:"api_key,omitempty"`
	APIKeyEnv  string           `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// ResolveCredential returns the backend's API key following the fixed
// precedence: inline value > environment variable > none required.
// ok is false when a credential is needed but cannot be resolved.
func (b *Backend) ResolveCredential() (key string, ok bool) {
	switch b.Credential {
	case CredentialInline:
		return b.APIKey, b.APIKey != ""
	case CredentialEnv:
		v := os.Getenv(b.APIKeyEnv)
		return v, v != ""
	case CredentialNone:
		return "", true
	default:
		if b.APIKey != "" {
			return b.APIKey, true
		}
		if b.APIKeyEnv != "" {
			v := os.Getenv(b.APIKeyEnv)
			return v, v != ""
		}
		return "", false
	}
}

// BackendStatus is the administrative view of one backend, including
// resilience state. Returned by the status endpoint for every configured
// backend, even those excluded from generative attempts.
type BackendStatus struct {
	Backend        Backend       `json:"backend"`
	CredentialOK   bool          `json:"credential_ok"`
	CircuitState   string        `json:"circuit_state"`
	Failures       int           `json:"failures"`
	RateLimited    bool          `json:"rate_limited"`
	CooldownUntil  time.Time     `json:"cooldown_until,omitempty"`
	LifetimeErrors int64         `json:"lifetime_errors"`
	AvgLatency     time.Duration `json:"avg_latency_ms"`
}

// BackendTestResult reports a single validation call against one backend.
type BackendTestResult struct {
	ID          string        `json:"id"`
	OK          bool          `json:"ok"`
	Latency     time.Duration `json:"latency_ms"`
	SampleReply string        `json:"sample_reply,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ── Chat ─────────────────────────────────────────────────────

// ChatMessage is one turn in a conversation sent to a backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateParams are the knobs for one generation call.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
	// Structured asks the backend for a JSON verdict instead of prose.
	Structured bool
}

// ── Classification ───────────────────────────────────────────

// IntentUnknown is the reserved category returned when no tier reaches
// its confidence threshold.
const IntentUnknown = "unknown"

// BackendFailed is the backend identifier reported when every candidate
// backend was exhausted.
const BackendFailed = "failed"

// Tier is one stage of the classification cascade, cheapest first.
type Tier string

const (
	TierKeyword  Tier = "keyword"
	TierFuzzy    Tier = "fuzzy"
	TierSemantic Tier = "semantic"
	TierLLM      Tier = "llm"
	TierSmartLLM Tier = "llm-smart"
)

// ClassificationResult is the outcome of resolving one message.
type ClassificationResult struct {
	Category   string            `json:"category"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
	Source     Tier              `json:"source"`
	Backend    string            `json:"backend,omitempty"`
	Latency    time.Duration     `json:"latency_ms"`
	// Reply is a free-form reply produced during generative
	// classification: the verdict's reply field when present, or the
	// raw backend text when the verdict could not be parsed.
	Reply string `json:"reply,omitempty"`
}

// EngineResult is the combined classify-and-respond outcome.
type EngineResult struct {
	Intent     string        `json:"intent"`
	Action     string        `json:"action,omitempty"`
	Response   string        `json:"response"`
	Confidence float64       `json:"confidence"`
	Backend    string        `json:"backend"`
	Latency    time.Duration `json:"latency_ms"`
}

// ── Intent configuration ─────────────────────────────────────

// IntentDefinition configures one recognizable intent. Keywords are grouped
// by language code; Examples feed the semantic matcher's centroid.
type IntentDefinition struct {
	Name      string              `json:"name" yaml:"name"`
	Keywords  map[string][]string `json:"keywords" yaml:"keywords"`
	Examples  []string            `json:"examples" yaml:"examples"`
	Threshold float64             `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// RoutingRule maps an intent to the action the workflow layer should run.
// Condition is an optional expr guard evaluated against the extracted
// entities and conversation slots; an empty condition always matches.
type RoutingRule struct {
	Intent    string `json:"intent" yaml:"intent"`
	Action    string `json:"action" yaml:"action"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Persona is the configured bot identity fed into the base prompt.
type Persona struct {
	Name     string `json:"name" yaml:"name"`
	Style    string `json:"style" yaml:"style"`
	Language string `json:"language" yaml:"language"`
}

// ── Conversation ─────────────────────────────────────────────

// MaxHistoryMessages caps the per-user bounded message list; the oldest
// entry is evicted when a new one would exceed it.
const MaxHistoryMessages = 20

// HistoryEntry is one stored conversation turn.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the bounded per-user context. It is exclusively
// owned by the conversation store; callers receive snapshots.
type ConversationState struct {
	Key            string            `json:"key"`
	History        []HistoryEntry    `json:"history"`
	Language       string            `json:"language"`
	LastIntent     string            `json:"last_intent,omitempty"`
	LastConfidence float64           `json:"last_confidence,omitempty"`
	LastIntentAt   time.Time         `json:"last_intent_at,omitempty"`
	RepeatCount    int               `json:"repeat_count"`
	Slots          map[string]string `json:"slots,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActive     time.Time         `json:"last_active"`
}

// ── Notifications ────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventRateLimited    EventType = "backend_rate_limited"
	EventCircuitOpened  EventType = "backend_circuit_opened"
	EventDailyReport    EventType = "daily_report"
	EventRepeatedIntent EventType = "repeated_intent"
)

// Event is the notification payload dispatched to registered channels.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Backend   string                 `json:"backend,omitempty"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
