package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// Semantic matches paraphrases the deterministic tier misses by comparing
// the message embedding against one centroid per intent (the mean of its
// example embeddings). Until Initialize has completed, every call reports
// "no match" so the cascade can fall through to the generative tier.
type Semantic struct {
	driver contracts.EmbeddingDriver

	mu        sync.Mutex
	centroids map[string][]float64
	order     []string
	ready     bool
	initCh    chan struct{}
}

// NewSemantic creates the matcher over an embedding driver.
func NewSemantic(driver contracts.EmbeddingDriver) *Semantic {
	return &Semantic{driver: driver}
}

// Initialize computes one centroid per intent from its example texts and
// discards the raw embeddings. It is idempotent: concurrent callers await
// the same one-time setup, and a completed setup is never repeated. A
// failed attempt clears the guard so a later call can retry.
func (s *Semantic) Initialize(ctx context.Context, intents []models.IntentDefinition) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	if s.initCh != nil {
		ch := s.initCh
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ready {
			return nil
		}
		return fmt.Errorf("semantic matcher initialization failed")
	}
	ch := make(chan struct{})
	s.initCh = ch
	s.mu.Unlock()

	centroids, order, err := s.buildCentroids(ctx, intents)

	s.mu.Lock()
	defer s.mu.Unlock()
	close(ch)
	s.initCh = nil
	if err != nil {
		return fmt.Errorf("initialize semantic matcher: %w", err)
	}
	s.centroids = centroids
	s.order = order
	s.ready = true
	log.Info().Int("intents", len(order)).Msg("Semantic matcher initialized")
	return nil
}

func (s *Semantic) buildCentroids(ctx context.Context, intents []models.IntentDefinition) (map[string][]float64, []string, error) {
	centroids := make(map[string][]float64, len(intents))
	order := make([]string, 0, len(intents))

	for _, intent := range intents {
		if len(intent.Examples) == 0 {
			continue
		}
		vecs, err := s.driver.Embed(ctx, intent.Examples)
		if err != nil {
			return nil, nil, fmt.Errorf("embed examples for %q: %w", intent.Name, err)
		}
		if len(vecs) == 0 {
			continue
		}

		centroid := make([]float64, len(vecs[0]))
		for _, v := range vecs {
			for i := range centroid {
				centroid[i] += v[i]
			}
		}
		for i := range centroid {
			centroid[i] /= float64(len(vecs))
		}
		centroids[intent.Name] = centroid
		order = append(order, intent.Name)
	}
	return centroids, order, nil
}

// Ready reports whether centroids have been computed.
func (s *Semantic) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Match returns the single highest-scoring intent above threshold, or
// ok=false. A not-ready matcher reports no match rather than erroring.
func (s *Semantic) Match(ctx context.Context, text string, threshold float64) (Result, bool) {
	all := s.MatchAll(ctx, text, threshold)
	if len(all) == 0 {
		return Result{}, false
	}
	return all[0], true
}

// MatchAll returns every intent scoring above threshold, sorted by
// descending similarity. Equal scores keep intent declaration order.
func (s *Semantic) MatchAll(ctx context.Context, text string, threshold float64) []Result {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil
	}
	centroids := s.centroids
	order := s.order
	s.mu.Unlock()

	vecs, err := s.driver.Embed(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		log.Warn().Err(err).Msg("Semantic match: embedding failed")
		return nil
	}
	input := vecs[0]

	results := make([]Result, 0, len(order))
	for _, name := range order {
		score := cosineSimilarity(input, centroids[name])
		if score >= threshold {
			results = append(results, Result{Intent: name, Score: score, Tier: models.TierSemantic})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// cosineSimilarity returns 0 for zero-magnitude vectors instead of
// dividing by zero.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
