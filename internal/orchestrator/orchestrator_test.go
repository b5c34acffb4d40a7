package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pelangihq/intentd/internal/backends"
	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/internal/registry"
	"github.com/pelangihq/intentd/internal/resilience"
	"github.com/pelangihq/intentd/pkg/models"
)

// fakeCaller scripts per-backend outcomes and counts calls.
type fakeCaller struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   map[string]int
	order   []string
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		replies: make(map[string]string),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeCaller) Chat(ctx context.Context, b *models.Backend, _ []models.ChatMessage, _ models.GenerateParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[b.ID]++
	f.order = append(f.order, b.ID)
	if err, ok := f.errs[b.ID]; ok {
		return "", err
	}
	return f.replies[b.ID], nil
}

func (f *fakeCaller) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func testBackends() []models.Backend {
	return []models.Backend{
		{ID: "primary", Kind: models.KindLocal, Priority: 1, Enabled: true, Model: "llama3", Credential: models.CredentialNone},
		{ID: "secondary", Kind: models.KindLocal, Priority: 2, Enabled: true, Model: "mistral", Credential: models.CredentialNone},
		{ID: "tertiary", Kind: models.KindLocal, Priority: 3, Enabled: true, Model: "qwen", Credential: models.CredentialNone},
	}
}

func newOrchestrator(caller Caller, bs []models.Backend) (*Orchestrator, *resilience.Governor) {
	reg := registry.New(config.NewDomainConfig(config.DomainFile{Backends: bs}))
	gov := resilience.NewGovernor(resilience.GovernorConfig{
		Breaker: resilience.BreakerConfig{
			FailureThreshold: 2,
			Cooldown:         50 * time.Millisecond,
		},
		RateLimit: resilience.RateLimitConfig{
			InitialCooldown: 50 * time.Millisecond,
			MaxCooldown:     time.Second,
			Multiplier:      2,
			AlertAfter:      100,
		},
	})
	return New(reg, gov, caller), gov
}

func TestGenerateFirstBackendWins(t *testing.T) {
	fc := newFakeCaller()
	fc.replies["primary"] = "hello from primary"
	o, _ := newOrchestrator(fc, testBackends())

	res, err := o.Generate(context.Background(), nil, models.GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.BackendID != "primary" || res.Reply != "hello from primary" || res.Attempts != 1 {
		t.Errorf("got %+v", res)
	}
	if fc.callCount("secondary") != 0 {
		t.Error("secondary should not be called when primary succeeds")
	}
}

func TestGenerateFallsBackInPriorityOrder(t *testing.T) {
	fc := newFakeCaller()
	fc.errs["primary"] = errors.New("boom")
	fc.errs["secondary"] = errors.New("boom")
	fc.replies["tertiary"] = "third time lucky"
	o, _ := newOrchestrator(fc, testBackends())

	res, err := o.Generate(context.Background(), nil, models.GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.BackendID != "tertiary" || res.Attempts != 3 {
		t.Errorf("got %+v", res)
	}
	want := []string{"primary", "secondary", "tertiary"}
	for i, id := range want {
		if fc.order[i] != id {
			t.Errorf("call %d: got %s, want %s", i, fc.order[i], id)
		}
	}
}

func TestGenerateSkipsOpenCircuit(t *testing.T) {
	fc := newFakeCaller()
	fc.errs["primary"] = errors.New("down")
	fc.replies["secondary"] = "ok"
	o, _ := newOrchestrator(fc, testBackends())
	ctx := context.Background()

	// Two failed walks trip primary's breaker (threshold 2).
	for i := 0; i < 2; i++ {
		if _, err := o.Generate(ctx, nil, models.GenerateParams{}); err != nil {
			t.Fatalf("walk %d: %v", i, err)
		}
	}
	before := fc.callCount("primary")

	res, err := o.Generate(ctx, nil, models.GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.BackendID != "secondary" {
		t.Errorf("got backend %s", res.BackendID)
	}
	if fc.callCount("primary") != before {
		t.Error("open-circuit backend should be skipped without a call")
	}
}

func TestGenerateSkipsRateLimitedBackend(t *testing.T) {
	fc := newFakeCaller()
	fc.errs["primary"] = &backends.CallError{Backend: "primary", Status: 429, Err: errors.New("429")}
	fc.replies["secondary"] = "ok"
	o, gov := newOrchestrator(fc, testBackends())
	ctx := context.Background()

	if _, err := o.Generate(ctx, nil, models.GenerateParams{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := gov.Allow("primary"); !errors.Is(err, resilience.ErrCoolingDown) {
		t.Errorf("expected primary cooling down, got %v", err)
	}

	before := fc.callCount("primary")
	if _, err := o.Generate(ctx, nil, models.GenerateParams{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if fc.callCount("primary") != before {
		t.Error("cooling-down backend should be skipped without a call")
	}
}

func TestGenerateExhaustionReturnsErrNoContent(t *testing.T) {
	fc := newFakeCaller()
	for _, id := range []string{"primary", "secondary", "tertiary"} {
		fc.errs[id] = errors.New("down")
	}
	o, _ := newOrchestrator(fc, testBackends())

	_, err := o.Generate(context.Background(), nil, models.GenerateParams{})
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("got %v, want ErrNoContent", err)
	}
}

func TestGenerateEmptySubsetMeansEveryBackend(t *testing.T) {
	fc := newFakeCaller()
	fc.replies["primary"] = "ok"
	o, _ := newOrchestrator(fc, testBackends())

	res, err := o.GenerateWith(context.Background(), nil, nil, models.GenerateParams{})
	if err != nil {
		t.Fatalf("GenerateWith: %v", err)
	}
	if res.BackendID != "primary" {
		t.Errorf("got %s", res.BackendID)
	}
}

func TestGenerateWithSubsetKeepsPriorityOrder(t *testing.T) {
	fc := newFakeCaller()
	fc.errs["secondary"] = errors.New("down")
	fc.replies["tertiary"] = "smart reply"
	o, _ := newOrchestrator(fc, testBackends())

	res, err := o.GenerateWith(context.Background(), []string{"tertiary", "secondary"}, nil, models.GenerateParams{})
	if err != nil {
		t.Fatalf("GenerateWith: %v", err)
	}
	if res.BackendID != "tertiary" {
		t.Errorf("got %s", res.BackendID)
	}
	if fc.callCount("primary") != 0 {
		t.Error("primary is outside the subset")
	}
	if fc.order[0] != "secondary" {
		t.Errorf("expected secondary tried first by priority, got %s", fc.order[0])
	}
}

func TestStatusReportsCircuitAndLatency(t *testing.T) {
	fc := newFakeCaller()
	fc.replies["primary"] = "ok"
	o, _ := newOrchestrator(fc, testBackends())

	if _, err := o.Generate(context.Background(), nil, models.GenerateParams{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, st := range o.Status() {
		if st.CircuitState != "closed" {
			t.Errorf("backend %s: circuit %s", st.Backend.ID, st.CircuitState)
		}
		if !st.CredentialOK {
			t.Errorf("backend %s: credential not ok", st.Backend.ID)
		}
		if st.Backend.ID == "primary" && st.AvgLatency <= 0 {
			t.Error("primary should have recorded latency")
		}
	}
}
