package registry

import (
	"testing"

	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/pkg/models"
)

func newTestRegistry(t *testing.T, backends []models.Backend) *Registry {
	t.Helper()
	return New(config.NewDomainConfig(config.DomainFile{Backends: backends}))
}

func TestCandidatesOrderedByPriority(t *testing.T) {
	r := newTestRegistry(t, []models.Backend{
		{ID: "slow", Kind: models.KindLocal, Priority: 3, Enabled: true, Credential: models.CredentialNone},
		{ID: "fast", Kind: models.KindLocal, Priority: 1, Enabled: true, Credential: models.CredentialNone},
		{ID: "mid", Kind: models.KindLocal, Priority: 2, Enabled: true, Credential: models.CredentialNone},
	})

	got := r.Candidates()
	want := []string{"fast", "mid", "slow"}
	if len(got) != len(want) {
		t.Fatalf("Candidates() returned %d backends, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Candidates()[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestCandidatesTieKeepsDeclarationOrder(t *testing.T) {
	r := newTestRegistry(t, []models.Backend{
		{ID: "first", Kind: models.KindLocal, Priority: 1, Enabled: true, Credential: models.CredentialNone},
		{ID: "second", Kind: models.KindLocal, Priority: 1, Enabled: true, Credential: models.CredentialNone},
	})

	got := r.Candidates()
	if got[0].ID != "first" || got[1].ID != "second" {
		t.Errorf("tie order = [%s, %s], want declaration order", got[0].ID, got[1].ID)
	}
}

func TestCandidatesExcludesDisabledAndNoCredential(t *testing.T) {
	r := newTestRegistry(t, []models.Backend{
		{ID: "off", Kind: models.KindLocal, Priority: 1, Enabled: false, Credential: models.CredentialNone},
		{ID: "nokey", Kind: models.KindHosted, Priority: 2, Enabled: true, Credential: models.CredentialEnv, APIKeyEnv: "INTENTD_TEST_UNSET_KEY"},
		{ID: "ok", Kind: models.KindLocal, Priority: 3, Enabled: true, Credential: models.CredentialNone},
	})

	got := r.Candidates()
	if len(got) != 1 || got[0].ID != "ok" {
		t.Fatalf("Candidates() = %v, want only [ok]", got)
	}

	// Excluded backends stay visible to status queries.
	if len(r.All()) != 3 {
		t.Errorf("All() = %d backends, want 3", len(r.All()))
	}
}

func TestSubset(t *testing.T) {
	r := newTestRegistry(t, []models.Backend{
		{ID: "a", Kind: models.KindLocal, Priority: 1, Enabled: true, Credential: models.CredentialNone},
		{ID: "b", Kind: models.KindLocal, Priority: 2, Enabled: true, Credential: models.CredentialNone},
		{ID: "c", Kind: models.KindLocal, Priority: 3, Enabled: true, Credential: models.CredentialNone},
	})

	got := r.Subset([]string{"c", "a"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Subset() = %v, want [a c] in priority order", got)
	}

	if n := len(r.Subset(nil)); n != 3 {
		t.Errorf("Subset(nil) = %d backends, want all 3", n)
	}
}

func TestGet(t *testing.T) {
	r := newTestRegistry(t, []models.Backend{
		{ID: "off", Kind: models.KindLocal, Enabled: false, Credential: models.CredentialNone},
	})

	if _, ok := r.Get("off"); !ok {
		t.Error("Get() should find disabled backends")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get() found a backend that does not exist")
	}
}
