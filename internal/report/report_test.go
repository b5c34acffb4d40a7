package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/internal/content"
	"github.com/pelangihq/intentd/internal/conversation"
	"github.com/pelangihq/intentd/internal/orchestrator"
	"github.com/pelangihq/intentd/internal/promptcache"
	"github.com/pelangihq/intentd/internal/registry"
	"github.com/pelangihq/intentd/internal/resilience"
	"github.com/pelangihq/intentd/pkg/models"
)

type failingCaller struct{}

func (failingCaller) Chat(context.Context, *models.Backend, []models.ChatMessage, models.GenerateParams) (string, error) {
	return "", errors.New("down")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, ev models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func newScheduler(bs []models.Backend) (*Scheduler, *conversation.Store, *orchestrator.Orchestrator) {
	provider := config.NewDomainConfig(config.DomainFile{Backends: bs})
	reg := registry.New(provider)
	gov := resilience.NewGovernor(resilience.DefaultGovernorConfig())
	orch := orchestrator.New(reg, gov, failingCaller{})
	store := conversation.NewStore(time.Hour)
	prompts := promptcache.New(provider, content.NewStore(provider))
	return New("0 9 * * *", orch, store, prompts, &recordingNotifier{}), store, orch
}

func TestBuildReportHealthy(t *testing.T) {
	s, store, _ := newScheduler([]models.Backend{
		{ID: "primary", Kind: models.KindLocal, Enabled: true, Credential: models.CredentialNone},
	})
	store.Append("guest-1", "user", "hello")

	ev := s.BuildReport()
	if ev.Type != models.EventDailyReport {
		t.Errorf("type = %s", ev.Type)
	}
	if !strings.Contains(ev.Message, "All backends healthy") {
		t.Errorf("message = %q", ev.Message)
	}
	if ev.Payload["conversations"] != 1 {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestBuildReportListsDegradedBackends(t *testing.T) {
	s, _, orch := newScheduler([]models.Backend{
		{ID: "primary", Kind: models.KindLocal, Enabled: true, Credential: models.CredentialNone},
	})
	// One failed walk marks the backend degraded via its lifetime counter.
	if _, err := orch.Generate(context.Background(), nil, models.GenerateParams{}); err == nil {
		t.Fatal("expected walk to fail")
	}

	ev := s.BuildReport()
	if !strings.Contains(ev.Message, "primary") {
		t.Errorf("message = %q", ev.Message)
	}
	if ev.Payload["degraded"] != 1 {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestBuildReportCountsIntents(t *testing.T) {
	s, store, _ := newScheduler([]models.Backend{
		{ID: "primary", Kind: models.KindLocal, Enabled: true, Credential: models.CredentialNone},
	})
	store.RecordIntent("guest-1", "wifi", 0.9, time.Minute)
	store.RecordIntent("guest-2", "wifi", 0.8, time.Minute)
	store.RecordIntent("guest-2", "checkin", 0.7, time.Minute)

	ev := s.BuildReport()
	if !strings.Contains(ev.Message, "wifi=2") || !strings.Contains(ev.Message, "checkin=1") {
		t.Errorf("message = %q", ev.Message)
	}

	// The tally drains with each report; the next cycle starts clean.
	ev = s.BuildReport()
	if strings.Contains(ev.Message, "wifi") {
		t.Errorf("tally should reset between reports, message = %q", ev.Message)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s, _, _ := newScheduler(nil)
	s.schedule = "not a cron spec"
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s, _, _ := newScheduler(nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
