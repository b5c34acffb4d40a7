// Package registry exposes the configured generation backends filtered and
// ordered for the fallback orchestrator.
package registry

import (
	"sort"

	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// Registry reads backends from the configuration provider on every call,
// so reloads take effect without restarting. It holds no state of its own.
type Registry struct {
	config contracts.ConfigProvider
}

// New creates a registry over the given configuration provider.
func New(config contracts.ConfigProvider) *Registry {
	return &Registry{config: config}
}

// Candidates returns the enabled backends with a resolvable credential,
// sorted by ascending priority. The sort is stable, so backends sharing a
// priority keep their declaration order. Backends without a credential are
// excluded here but still appear in All.
func (r *Registry) Candidates() []models.Backend {
	all := r.config.Backends()
	out := make([]models.Backend, 0, len(all))
	for _, b := range all {
		if !b.Enabled {
			continue
		}
		if _, ok := b.ResolveCredential(); !ok {
			log.Debug().Str("backend", b.ID).Msg("Backend excluded: credential unresolvable")
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Subset returns the candidates restricted to the given IDs, preserving
// priority order. An empty ID list means no restriction.
func (r *Registry) Subset(ids []string) []models.Backend {
	candidates := r.Candidates()
	if len(ids) == 0 {
		return candidates
	}
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	out := make([]models.Backend, 0, len(candidates))
	for _, b := range candidates {
		if allowed[b.ID] {
			out = append(out, b)
		}
	}
	return out
}

// Get returns the backend with the given ID, enabled or not.
func (r *Registry) Get(id string) (models.Backend, bool) {
	for _, b := range r.config.Backends() {
		if b.ID == id {
			return b, true
		}
	}
	return models.Backend{}, false
}

// All returns every configured backend in declaration order, for
// administrative status queries.
func (r *Registry) All() []models.Backend {
	return r.config.Backends()
}
