package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGetOrCreateRecreatesAfterTTL(t *testing.T) {
	s := NewStore(time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	first := s.GetOrCreate("X")
	s.Append("X", "user", "hello")

	// Within TTL the same state comes back.
	clock = clock.Add(30 * time.Minute)
	mid := s.GetOrCreate("X")
	if !mid.CreatedAt.Equal(first.CreatedAt) {
		t.Error("state replaced while within TTL")
	}
	if len(mid.History) != 1 {
		t.Errorf("history = %d entries, want 1", len(mid.History))
	}

	// Past TTL the state is dropped and recreated.
	clock = clock.Add(2 * time.Hour)
	fresh := s.GetOrCreate("X")
	if len(fresh.History) != 0 {
		t.Errorf("recreated state has %d history entries, want 0", len(fresh.History))
	}
	if fresh.CreatedAt.Equal(first.CreatedAt) {
		t.Error("state not recreated after TTL")
	}
}

func TestAppendTrimsHistory(t *testing.T) {
	s := NewStore(time.Hour)

	for i := 0; i < models.MaxHistoryMessages+5; i++ {
		s.Append("X", "user", fmt.Sprintf("message %d", i))
	}

	st := s.GetOrCreate("X")
	if len(st.History) != models.MaxHistoryMessages {
		t.Fatalf("history = %d entries, want %d", len(st.History), models.MaxHistoryMessages)
	}
	// Oldest evicted: first remaining entry is message 5.
	if st.History[0].Content != "message 5" {
		t.Errorf("oldest entry = %q, want %q", st.History[0].Content, "message 5")
	}
}

func TestAppendDetectsLanguageOnUserTurns(t *testing.T) {
	s := NewStore(time.Hour)

	s.Append("X", "user", "terima kasih banyak")
	if st := s.GetOrCreate("X"); st.Language != "ms" {
		t.Errorf("language = %q after Malay turn, want ms", st.Language)
	}

	// Assistant turns never change the detected language.
	s.Append("X", "assistant", "you are welcome, have a great day")
	if st := s.GetOrCreate("X"); st.Language != "ms" {
		t.Errorf("language = %q after assistant turn, want ms unchanged", st.Language)
	}
}

func TestRecordIntentRepeatCounter(t *testing.T) {
	s := NewStore(time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	if got := s.RecordIntent("X", "wifi", 0.9, time.Minute); got != 0 {
		t.Errorf("first intent repeat = %d, want 0", got)
	}
	clock = clock.Add(10 * time.Second)
	if got := s.RecordIntent("X", "wifi", 0.9, time.Minute); got != 1 {
		t.Errorf("repeat within window = %d, want 1", got)
	}
	clock = clock.Add(10 * time.Second)
	if got := s.RecordIntent("X", "wifi", 0.9, time.Minute); got != 2 {
		t.Errorf("second repeat = %d, want 2", got)
	}

	// A different intent resets the counter.
	if got := s.RecordIntent("X", "pricing", 0.8, time.Minute); got != 0 {
		t.Errorf("different intent repeat = %d, want 0", got)
	}

	// The same intent outside the window also resets.
	clock = clock.Add(5 * time.Minute)
	if got := s.RecordIntent("X", "pricing", 0.8, time.Minute); got != 0 {
		t.Errorf("repeat outside window = %d, want 0", got)
	}
}

func TestHistoryLimit(t *testing.T) {
	s := NewStore(time.Hour)
	for i := 0; i < 10; i++ {
		s.Append("X", "user", fmt.Sprintf("m%d", i))
	}

	got := s.History("X", 3)
	if len(got) != 3 {
		t.Fatalf("History(3) = %d messages, want 3", len(got))
	}
	if got[0].Content != "m7" || got[2].Content != "m9" {
		t.Errorf("History(3) = %v, want most recent three oldest-first", got)
	}

	if got := s.History("missing", 3); got != nil {
		t.Errorf("History(missing) = %v, want nil", got)
	}
}

func TestSweepPurgesOnlyExpired(t *testing.T) {
	s := NewStore(time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.Append("old", "user", "hi")
	clock = clock.Add(2 * time.Hour)
	s.Append("fresh", "user", "hi")

	if purged := s.Sweep(); purged != 1 {
		t.Errorf("Sweep() = %d, want 1", purged)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", s.Len())
	}
}

func TestActiveConversationsGauge(t *testing.T) {
	s := NewStore(time.Hour)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.Append("guest-1", "user", "hello")
	s.Append("guest-2", "user", "hi")
	if got := testutil.ToFloat64(metrics.Default().ConversationsActive); got != 2 {
		t.Errorf("gauge = %v after two conversations, want 2", got)
	}

	clock = clock.Add(2 * time.Hour)
	s.Sweep()
	if got := testutil.ToFloat64(metrics.Default().ConversationsActive); got != 0 {
		t.Errorf("gauge = %v after sweep, want 0", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text, want string
	}{
		{"terima kasih", "ms"},
		{"berapa harga bilik?", "ms"},
		{"what is the wifi password", "en"},
		{"hello", "en"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.text); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
