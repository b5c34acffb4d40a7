// Package conversation provides the bounded, TTL-expiring per-user context
// store. It is the only stateful component keyed by user identity; all
// other engine state is per-backend or global.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/pkg/models"
)

// DefaultTTL is how long idle state survives before getOrCreate replaces it.
const DefaultTTL = time.Hour

// DefaultRepeatWindow bounds how far apart two hits of the same intent may
// be to count as a repeat.
const DefaultRepeatWindow = 5 * time.Minute

// Store is a thread-safe in-memory conversation store.
type Store struct {
	mu      sync.RWMutex
	states  map[string]*models.ConversationState
	tally   map[string]int64
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewStore creates a store with the given TTL; zero uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		states:  make(map[string]*models.ConversationState),
		tally:   make(map[string]int64),
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics.Default(),
	}
}

// GetOrCreate returns a snapshot of the state for key. Expired state is
// replaced with a fresh one; last-active is bumped either way.
func (s *Store) GetOrCreate(key string) models.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(key)
	st.LastActive = s.now()
	return snapshot(st)
}

func (s *Store) getOrCreateLocked(key string) *models.ConversationState {
	now := s.now()
	st, ok := s.states[key]
	if ok && now.Sub(st.LastActive) <= s.ttl {
		return st
	}
	st = &models.ConversationState{
		Key:        key,
		Slots:      make(map[string]string),
		CreatedAt:  now,
		LastActive: now,
	}
	s.states[key] = st
	s.metrics.ConversationsActive.Set(float64(len(s.states)))
	return st
}

// Append adds one turn, trims history to the most recent entries, updates
// the detected language on end-user turns, and bumps last-active.
func (s *Store) Append(key, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(key)
	now := s.now()
	st.History = append(st.History, models.HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	if len(st.History) > models.MaxHistoryMessages {
		st.History = st.History[len(st.History)-models.MaxHistoryMessages:]
	}
	if role == "user" {
		if lang := DetectLanguage(content); lang != "" {
			st.Language = lang
		}
	}
	st.LastActive = now
}

// RecordIntent stores the latest classification and maintains the
// repeat-intent counter: the counter increments when the same intent
// recurs within window, and resets to zero otherwise. Returns the counter
// after the update.
func (s *Store) RecordIntent(key, intent string, confidence float64, window time.Duration) int {
	if window <= 0 {
		window = DefaultRepeatWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(key)
	s.tally[intent]++
	now := s.now()
	if st.LastIntent == intent && !st.LastIntentAt.IsZero() && now.Sub(st.LastIntentAt) <= window {
		st.RepeatCount++
	} else {
		st.RepeatCount = 0
	}
	st.LastIntent = intent
	st.LastConfidence = confidence
	st.LastIntentAt = now
	st.LastActive = now
	return st.RepeatCount
}

// SetSlot stores a free-form slot value.
func (s *Store) SetSlot(key, slot, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(key)
	st.Slots[slot] = value
	st.LastActive = s.now()
}

// History returns up to limit most recent turns as chat messages, oldest
// first. Zero limit returns the whole bounded history.
func (s *Store) History(key string, limit int) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok || s.now().Sub(st.LastActive) > s.ttl {
		return nil
	}
	entries := st.History
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.ChatMessage, len(entries))
	for i, e := range entries {
		out[i] = models.ChatMessage{Role: e.Role, Content: e.Content}
	}
	return out
}

// DrainIntentTally returns the intent counts accumulated since the last
// drain and resets them. The daily report consumes this once per cycle.
func (s *Store) DrainIntentTally() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tally
	s.tally = make(map[string]int64)
	return out
}

// Len returns the number of stored states, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Sweep removes entries whose last-active exceeds the TTL and returns how
// many were purged.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for key, st := range s.states {
		if now.Sub(st.LastActive) > s.ttl {
			delete(s.states, key)
			purged++
		}
	}
	s.metrics.ConversationsActive.Set(float64(len(s.states)))
	return purged
}

func snapshot(st *models.ConversationState) models.ConversationState {
	out := *st
	out.History = make([]models.HistoryEntry, len(st.History))
	copy(out.History, st.History)
	out.Slots = make(map[string]string, len(st.Slots))
	for k, v := range st.Slots {
		out.Slots[k] = v
	}
	return out
}

// malayMarkers are common Malay words used by the language heuristic.
var malayMarkers = map[string]bool{
	"saya": true, "anda": true, "terima": true, "kasih": true,
	"boleh": true, "tolong": true, "bilik": true, "harga": true,
	"berapa": true, "mana": true, "tandas": true, "makan": true,
	"selamat": true, "pagi": true, "malam": true, "esok": true,
	"nak": true, "ada": true, "tak": true, "tidak": true,
}

// DetectLanguage returns "ms" when the text leans Malay, "en" when it
// leans English, and "" when there is no signal.
func DetectLanguage(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return ""
	}
	hits := 0
	for _, w := range words {
		if malayMarkers[strings.Trim(w, ".,!?")] {
			hits++
		}
	}
	if hits == 0 {
		return "en"
	}
	if hits*2 >= len(words) || hits >= 2 {
		return "ms"
	}
	return "en"
}
