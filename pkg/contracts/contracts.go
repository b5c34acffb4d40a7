// Package contracts defines the service interfaces at the engine's
// boundaries. The engine depends only on these, so the transport layer,
// configuration surface, and content sources can be swapped without
// touching the classification or resilience code.
package contracts

import (
	"context"

	"github.com/pelangihq/intentd/pkg/models"
)

// ── Backend Driver ──────────────────────────────────────────

// BackendDriver issues exactly one chat request against one backend kind.
// Drivers never retry; retry and fallback belong to the orchestrator.
//
// Built in: hosted (key-based messages API), local (Ollama),
// openai-compat (generic chat completions).
type BackendDriver interface {
	// Kind returns the backend kind this driver handles.
	Kind() models.BackendKind

	// Chat sends one bounded request and returns the extracted reply text.
	// Failures are surfaced as *backends.CallError so the resilience layer
	// can tell rate limits from generic faults.
	Chat(ctx context.Context, backend *models.Backend, messages []models.ChatMessage, params models.GenerateParams) (string, error)
}

// ── Embedding Driver ────────────────────────────────────────

// EmbeddingDriver computes vector embeddings for the semantic matcher.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g. "ollama", "openai").
	Kind() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Embed generates one embedding per input text.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the embedding endpoint is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Configuration Provider ──────────────────────────────────

// ConfigProvider exposes the current domain configuration. Version returns
// a counter bumped on every reload; the prompt cache compares it on each
// read instead of subscribing to change events.
type ConfigProvider interface {
	Backends() []models.Backend
	Intents() []models.IntentDefinition
	RoutingRules() []models.RoutingRule
	Persona() models.Persona
	SmartBackends() []string
	DefaultThreshold() float64
	Params() models.GenerateParams
	Version() uint64
}

// ── Content Provider ────────────────────────────────────────

// ContentProvider supplies reference text blocks for prompt assembly.
type ContentProvider interface {
	// AlwaysOn returns the blocks included in every base prompt.
	AlwaysOn(ctx context.Context) ([]string, error)

	// ForTopic returns blocks selected for a specific topic; these are
	// concatenated per message and never cached.
	ForTopic(ctx context.Context, topic string) ([]string, error)

	// RecentActivity returns bounded operational notes for the base prompt.
	RecentActivity(ctx context.Context, limit int) ([]string, error)
}

// ── Notification Channel ────────────────────────────────────

// ChannelDriver delivers notification events to one destination kind.
type ChannelDriver interface {
	// Kind returns the channel identifier (e.g. "webhook").
	Kind() string

	// Send delivers the event. Errors are logged, never fatal.
	Send(ctx context.Context, event models.Event) error
}
