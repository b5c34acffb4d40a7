// Package promptcache assembles and memoizes the shared instruction block
// fed into every generation call. A cached entry stays valid only while
// the persona, the calendar day, and the configuration version all match;
// any one mismatch forces a rebuild.
package promptcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxActivityNotes bounds the recent-activity section of the base prompt.
const maxActivityNotes = 5

type entry struct {
	text    string
	persona string
	day     string
	version uint64
}

// Cache memoizes one assembled base prompt.
type Cache struct {
	config  contracts.ConfigProvider
	content contracts.ContentProvider
	metrics *metrics.Metrics

	mu    sync.Mutex
	cur   *entry
	bumps atomic.Uint64
	now   func() time.Time
}

// New creates a cache over the configuration and content providers.
func New(config contracts.ConfigProvider, content contracts.ContentProvider) *Cache {
	return &Cache{
		config:  config,
		content: content,
		metrics: metrics.Default(),
		now:     time.Now,
	}
}

// Get returns the assembled base prompt for the persona, rebuilding only
// when the persona, day, or effective version changed since the cached
// build.
func (c *Cache) Get(ctx context.Context, persona models.Persona) (string, error) {
	day := c.now().Format("2006-01-02")
	version := c.version()

	c.mu.Lock()
	if c.cur != nil && c.cur.persona == personaKey(persona) && c.cur.day == day && c.cur.version == version {
		text := c.cur.text
		c.mu.Unlock()
		return text, nil
	}
	c.mu.Unlock()

	text, err := c.build(ctx, persona, day)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cur = &entry{
		text:    text,
		persona: personaKey(persona),
		day:     day,
		version: version,
	}
	c.mu.Unlock()

	c.metrics.PromptCacheRebuilds.Inc()
	log.Debug().Str("day", day).Uint64("version", version).Msg("Base prompt rebuilt")
	return text, nil
}

// GetWithTopic returns the cached base prompt with topic-selected content
// appended. The topic blocks are fetched per call and never cached.
func (c *Cache) GetWithTopic(ctx context.Context, persona models.Persona, topic string) (string, error) {
	base, err := c.Get(ctx, persona)
	if err != nil {
		return "", err
	}
	if topic == "" {
		return base, nil
	}
	blocks, err := c.content.ForTopic(ctx, topic)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Topic content unavailable")
		return base, nil
	}
	if len(blocks) == 0 {
		return base, nil
	}
	return base + "\n\n## Topic reference\n" + strings.Join(blocks, "\n"), nil
}

// Invalidate unconditionally bumps the effective version so the next Get
// rebuilds. Called when reference content, routing rules, the persona, or
// the calendar day change.
func (c *Cache) Invalidate() {
	c.bumps.Add(1)
}

// version combines the configuration version with local invalidations.
func (c *Cache) version() uint64 {
	return c.config.Version() + c.bumps.Load()
}

func personaKey(p models.Persona) string {
	return p.Name + "\x00" + p.Style + "\x00" + p.Language
}

func (c *Cache) build(ctx context.Context, persona models.Persona, day string) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s.", persona.Name)
	if persona.Style != "" {
		fmt.Fprintf(&sb, " %s", persona.Style)
	}
	if persona.Language != "" {
		fmt.Fprintf(&sb, " Reply in the guest's language; default to %s.", persona.Language)
	}
	fmt.Fprintf(&sb, "\nToday is %s.\n", day)

	if rules := c.config.RoutingRules(); len(rules) > 0 {
		sb.WriteString("\n## Known intents and actions\n")
		for _, r := range rules {
			if r.Action != "" {
				fmt.Fprintf(&sb, "- %s => %s\n", r.Intent, r.Action)
			} else {
				fmt.Fprintf(&sb, "- %s\n", r.Intent)
			}
		}
	}

	always, err := c.content.AlwaysOn(ctx)
	if err != nil {
		return "", fmt.Errorf("load reference content: %w", err)
	}
	if len(always) > 0 {
		sb.WriteString("\n## Reference\n")
		sb.WriteString(strings.Join(always, "\n"))
		sb.WriteString("\n")
	}

	notes, err := c.content.RecentActivity(ctx, maxActivityNotes)
	if err != nil {
		log.Warn().Err(err).Msg("Recent activity unavailable, building prompt without it")
	} else if len(notes) > 0 {
		sb.WriteString("\n## Recent activity\n")
		sb.WriteString(strings.Join(notes, "\n"))
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
