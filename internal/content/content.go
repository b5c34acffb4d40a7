// Package content serves the reference text blocks that prompt assembly
// pulls in, plus a bounded ring of recent operational notes.
package content

import (
	"context"
	"sync"
)

// maxNotes caps the in-memory activity ring.
const maxNotes = 50

// Source exposes the configured reference blocks. *config.DomainConfig
// satisfies it.
type Source interface {
	ContentAlwaysOn() []string
	ContentForTopic(topic string) []string
}

// Store implements contracts.ContentProvider over a configuration source
// and an in-memory activity ring.
type Store struct {
	source Source

	mu    sync.Mutex
	notes []string
}

// NewStore creates a content store over the configuration source.
func NewStore(source Source) *Store {
	return &Store{source: source}
}

// AlwaysOn returns the blocks included in every base prompt.
func (s *Store) AlwaysOn(ctx context.Context) ([]string, error) {
	return s.source.ContentAlwaysOn(), nil
}

// ForTopic returns the blocks registered for a topic.
func (s *Store) ForTopic(ctx context.Context, topic string) ([]string, error) {
	return s.source.ContentForTopic(topic), nil
}

// RecentActivity returns up to limit notes, newest last.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.notes) {
		limit = len(s.notes)
	}
	out := make([]string, limit)
	copy(out, s.notes[len(s.notes)-limit:])
	return out, nil
}

// Note appends an operational note, evicting the oldest past the cap.
func (s *Store) Note(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, text)
	if len(s.notes) > maxNotes {
		s.notes = s.notes[len(s.notes)-maxNotes:]
	}
}
