package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultConfidenceThreshold is used for intents without an override.
const DefaultConfidenceThreshold = 0.7

// DomainFile is the on-disk YAML shape of the domain configuration.
type DomainFile struct {
	Backends      []models.Backend          `yaml:"backends"`
	Intents       []models.IntentDefinition `yaml:"intents"`
	Routing       []models.RoutingRule      `yaml:"routing"`
	Persona       models.Persona            `yaml:"persona"`
	SmartBackends []string                  `yaml:"smart_backends"`
	Threshold     float64                   `yaml:"default_threshold"`
	MaxTokens     int                       `yaml:"max_tokens"`
	Temperature   float64                   `yaml:"temperature"`
	Content       ContentFile               `yaml:"content"`
}

// ContentFile holds the reference text blocks for prompt assembly.
type ContentFile struct {
	AlwaysOn []string            `yaml:"always_on"`
	Topics   map[string][]string `yaml:"topics"`
}

// DomainConfig is the live, reloadable domain configuration. It implements
// contracts.ConfigProvider. Version is bumped on every successful Reload so
// cache layers can compare instead of subscribing to change events.
type DomainConfig struct {
	mu      sync.RWMutex
	file    DomainFile
	path    string
	version atomic.Uint64
}

// LoadDomain parses the YAML domain configuration at path.
func LoadDomain(path string) (*DomainConfig, error) {
	dc := &DomainConfig{path: path}
	if err := dc.Reload(); err != nil {
		return nil, err
	}
	return dc, nil
}

// NewDomainConfig wraps an already-parsed DomainFile; used by tests and by
// callers that assemble configuration programmatically.
func NewDomainConfig(file DomainFile) *DomainConfig {
	dc := &DomainConfig{file: file}
	dc.applyDefaults()
	dc.version.Add(1)
	return dc
}

// Reload re-reads the YAML file and bumps the version on success. The
// previous configuration stays active when the file is unreadable.
func (dc *DomainConfig) Reload() error {
	data, err := os.ReadFile(dc.path)
	if err != nil {
		return fmt.Errorf("read domain config: %w", err)
	}

	var file DomainFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse domain config: %w", err)
	}
	if err := validate(&file); err != nil {
		return fmt.Errorf("validate domain config: %w", err)
	}

	dc.mu.Lock()
	dc.file = file
	dc.applyDefaults()
	dc.mu.Unlock()
	v := dc.version.Add(1)

	log.Info().
		Str("path", dc.path).
		Int("backends", len(file.Backends)).
		Int("intents", len(file.Intents)).
		Uint64("version", v).
		Msg("Domain configuration loaded")
	return nil
}

func (dc *DomainConfig) applyDefaults() {
	if dc.file.Threshold <= 0 || dc.file.Threshold > 1 {
		dc.file.Threshold = DefaultConfidenceThreshold
	}
	if dc.file.MaxTokens <= 0 {
		dc.file.MaxTokens = 1024
	}
	if dc.file.Temperature <= 0 {
		dc.file.Temperature = 0.3
	}
}

func validate(file *DomainFile) error {
	seen := make(map[string]bool, len(file.Backends))
	for i := range file.Backends {
		b := &file.Backends[i]
		if b.ID == "" {
			return fmt.Errorf("backend %d: missing id", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("backend %q: duplicate id", b.ID)
		}
		seen[b.ID] = true
		switch b.Kind {
		case models.KindHosted, models.KindLocal, models.KindOpenAICompat:
		default:
			return fmt.Errorf("backend %q: unknown kind %q", b.ID, b.Kind)
		}
	}
	for i, in := range file.Intents {
		if in.Name == "" {
			return fmt.Errorf("intent %d: missing name", i)
		}
		if in.Threshold < 0 || in.Threshold > 1 {
			return fmt.Errorf("intent %q: threshold out of range", in.Name)
		}
	}
	return nil
}

// Backends returns the configured backends in declaration order.
func (dc *DomainConfig) Backends() []models.Backend {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	out := make([]models.Backend, len(dc.file.Backends))
	copy(out, dc.file.Backends)
	return out
}

// Intents returns the configured intent definitions in declaration order.
func (dc *DomainConfig) Intents() []models.IntentDefinition {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	out := make([]models.IntentDefinition, len(dc.file.Intents))
	copy(out, dc.file.Intents)
	return out
}

// RoutingRules returns the intent → action routing table.
func (dc *DomainConfig) RoutingRules() []models.RoutingRule {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	out := make([]models.RoutingRule, len(dc.file.Routing))
	copy(out, dc.file.Routing)
	return out
}

// Persona returns the configured bot persona.
func (dc *DomainConfig) Persona() models.Persona {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.file.Persona
}

// SmartBackends returns the curated high-capability backend IDs used by the
// smart-fallback tier. Empty means every backend is eligible.
func (dc *DomainConfig) SmartBackends() []string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	out := make([]string, len(dc.file.SmartBackends))
	copy(out, dc.file.SmartBackends)
	return out
}

// DefaultThreshold returns the global confidence threshold.
func (dc *DomainConfig) DefaultThreshold() float64 {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.file.Threshold
}

// Params returns the configured generation parameters.
func (dc *DomainConfig) Params() models.GenerateParams {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return models.GenerateParams{
		MaxTokens:   dc.file.MaxTokens,
		Temperature: dc.file.Temperature,
	}
}

// ContentAlwaysOn returns the blocks included in every base prompt.
func (dc *DomainConfig) ContentAlwaysOn() []string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	out := make([]string, len(dc.file.Content.AlwaysOn))
	copy(out, dc.file.Content.AlwaysOn)
	return out
}

// ContentForTopic returns the blocks registered for a topic, or nil.
func (dc *DomainConfig) ContentForTopic(topic string) []string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	blocks, ok := dc.file.Content.Topics[topic]
	if !ok {
		return nil
	}
	out := make([]string, len(blocks))
	copy(out, blocks)
	return out
}

// Version returns the configuration version counter.
func (dc *DomainConfig) Version() uint64 {
	return dc.version.Load()
}

// BumpVersion advances the version counter without reloading; used when a
// caller mutates derived state that consumers key off the version.
func (dc *DomainConfig) BumpVersion() {
	dc.version.Add(1)
}
