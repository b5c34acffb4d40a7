package promptcache

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/internal/content"
	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testPersona() models.Persona {
	return models.Persona{
		Name:     "Pelangi Concierge",
		Style:    "Be warm and concise.",
		Language: "en",
	}
}

type countingContent struct {
	*content.Store
	alwaysCalls atomic.Int64
}

func (c *countingContent) AlwaysOn(ctx context.Context) ([]string, error) {
	c.alwaysCalls.Add(1)
	return c.Store.AlwaysOn(ctx)
}

func newCache(t *testing.T) (*Cache, *config.DomainConfig, *countingContent) {
	t.Helper()
	dc := config.NewDomainConfig(config.DomainFile{
		Routing: []models.RoutingRule{
			{Intent: "checkin", Action: "send_checkin_guide"},
			{Intent: "wifi"},
		},
		Content: config.ContentFile{
			AlwaysOn: []string{"Check-in is from 2pm.", "Check-out is by 12pm."},
			Topics: map[string][]string{
				"wifi": {"SSID: PelangiGuest, password at the front desk."},
			},
		},
	})
	cc := &countingContent{Store: content.NewStore(dc)}
	return New(dc, cc), dc, cc
}

func TestGetReturnsCachedTextUnchanged(t *testing.T) {
	c, _, cc := newCache(t)
	ctx := context.Background()

	first, err := c.Get(ctx, testPersona())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(ctx, testPersona())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected identical cached text on unchanged persona/day/version")
	}
	if got := cc.alwaysCalls.Load(); got != 1 {
		t.Errorf("expected 1 content build, got %d", got)
	}
}

func TestGetIncludesPersonaRoutingAndContent(t *testing.T) {
	c, _, _ := newCache(t)

	text, err := c.Get(context.Background(), testPersona())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, want := range []string{
		"Pelangi Concierge",
		"checkin => send_checkin_guide",
		"Check-in is from 2pm.",
		time.Now().Format("2006-01-02"),
	} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q:\n%s", want, text)
		}
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	c, _, cc := newCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate()
	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := cc.alwaysCalls.Load(); got != 2 {
		t.Errorf("expected rebuild after Invalidate, got %d builds", got)
	}
}

func TestRebuildCounterTracksBuilds(t *testing.T) {
	c, _, _ := newCache(t)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.Default().PromptCacheRebuilds)

	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Default().PromptCacheRebuilds) - before; got != 1 {
		t.Errorf("counter advanced by %v after a cached Get, want 1", got)
	}

	c.Invalidate()
	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Default().PromptCacheRebuilds) - before; got != 2 {
		t.Errorf("counter advanced by %v after invalidation, want 2", got)
	}
}

func TestConfigVersionBumpForcesRebuild(t *testing.T) {
	c, dc, cc := newCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	dc.BumpVersion()
	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := cc.alwaysCalls.Load(); got != 2 {
		t.Errorf("expected rebuild after version bump, got %d builds", got)
	}
}

func TestDayRolloverForcesRebuild(t *testing.T) {
	c, _, cc := newCache(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	text, err := c.Get(ctx, testPersona())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(text, "2026-08-30") {
		t.Errorf("expected rebuilt prompt with new date:\n%s", text)
	}
	if got := cc.alwaysCalls.Load(); got != 2 {
		t.Errorf("expected rebuild after day rollover, got %d builds", got)
	}
}

func TestPersonaChangeForcesRebuild(t *testing.T) {
	c, _, cc := newCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, testPersona()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	other := testPersona()
	other.Name = "Night Desk"
	text, err := c.Get(ctx, other)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(text, "Night Desk") {
		t.Error("expected prompt rebuilt for new persona")
	}
	if got := cc.alwaysCalls.Load(); got != 2 {
		t.Errorf("expected rebuild after persona change, got %d builds", got)
	}
}

func TestGetWithTopicAppendsBlocksUncached(t *testing.T) {
	c, _, _ := newCache(t)
	ctx := context.Background()

	text, err := c.GetWithTopic(ctx, testPersona(), "wifi")
	if err != nil {
		t.Fatalf("GetWithTopic: %v", err)
	}
	if !strings.Contains(text, "SSID: PelangiGuest") {
		t.Errorf("expected topic block appended:\n%s", text)
	}

	plain, err := c.GetWithTopic(ctx, testPersona(), "unknown-topic")
	if err != nil {
		t.Fatalf("GetWithTopic: %v", err)
	}
	if strings.Contains(plain, "SSID") {
		t.Error("unknown topic should not carry blocks")
	}
}

func TestRecentActivityIncludedAndBounded(t *testing.T) {
	dc := config.NewDomainConfig(config.DomainFile{})
	store := content.NewStore(dc)
	for _, n := range []string{"note-1", "note-2", "note-3", "note-4", "note-5", "note-6"} {
		store.Note(n)
	}
	c := New(dc, store)

	text, err := c.Get(context.Background(), testPersona())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(text, "note-1") {
		t.Error("expected oldest note beyond the limit to be dropped")
	}
	if !strings.Contains(text, "note-6") {
		t.Error("expected newest note included")
	}
}
