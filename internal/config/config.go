package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration for the intentd engine.
type Config struct {
	Port      int
	Version   string
	Engine    EngineConfig
	Telemetry TelemetryConfig
	Notify    NotifyConfig
}

type EngineConfig struct {
	// DomainConfigPath is the YAML file holding backends, intents,
	// routing rules, and persona.
	DomainConfigPath string

	// ConversationTTL is how long idle conversation state survives.
	ConversationTTL time.Duration

	// SweepInterval is how often the conversation janitor runs.
	SweepInterval time.Duration

	// ChatTimeout bounds one standard generation call.
	ChatTimeout time.Duration

	// SmartChatTimeout bounds one widened-context smart-fallback call.
	SmartChatTimeout time.Duration

	// BreakerThreshold is consecutive failures before a circuit opens.
	BreakerThreshold int

	// BreakerCooldown is how long an open circuit rejects calls.
	BreakerCooldown time.Duration

	// RateLimitAlertAfter is consecutive rate-limit hits before notifying.
	RateLimitAlertAfter int

	// ReportSchedule is the cron spec for the daily report.
	ReportSchedule string

	// EmbeddingProvider selects the semantic matcher's embedding driver
	// ("ollama" or "openai"); empty disables the semantic tier.
	EmbeddingProvider string

	// EmbeddingModel is the embedding model name.
	EmbeddingModel string

	// EmbeddingEndpoint overrides the driver's default endpoint.
	EmbeddingEndpoint string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("INTENTD_PORT", 8080),
		Version: envStr("INTENTD_VERSION", "0.2.0"),
		Engine: EngineConfig{
			DomainConfigPath:    envStr("INTENTD_CONFIG", "intentd.yaml"),
			ConversationTTL:     envDur("INTENTD_CONVERSATION_TTL", time.Hour),
			SweepInterval:       envDur("INTENTD_SWEEP_INTERVAL", 5*time.Minute),
			ChatTimeout:         envDur("INTENTD_CHAT_TIMEOUT", 60*time.Second),
			SmartChatTimeout:    envDur("INTENTD_SMART_CHAT_TIMEOUT", 90*time.Second),
			BreakerThreshold:    envInt("INTENTD_BREAKER_THRESHOLD", 3),
			BreakerCooldown:     envDur("INTENTD_BREAKER_COOLDOWN", 30*time.Second),
			RateLimitAlertAfter: envInt("INTENTD_RATELIMIT_ALERT_AFTER", 3),
			ReportSchedule:      envStr("INTENTD_REPORT_SCHEDULE", "0 9 * * *"),
			EmbeddingProvider:   envStr("INTENTD_EMBEDDING_PROVIDER", ""),
			EmbeddingModel:      envStr("INTENTD_EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingEndpoint:   envStr("INTENTD_EMBEDDING_ENDPOINT", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "intentd"),
		},
		Notify: NotifyConfig{
			WebhookURL:    envStr("INTENTD_WEBHOOK_URL", ""),
			WebhookSecret: envStr("INTENTD_WEBHOOK_SECRET", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
