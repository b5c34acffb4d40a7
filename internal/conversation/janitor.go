package conversation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically purges expired conversation state. It is the only
// safeguard against unbounded growth and runs regardless of traffic.
type Janitor struct {
	store    *Store
	interval time.Duration
}

// NewJanitor creates a janitor sweeping on the given interval.
func NewJanitor(store *Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{store: store, interval: interval}
}

// Start runs the sweep loop in the calling goroutine until ctx is
// canceled. One sweep runs immediately on startup.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("Conversation janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.run()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Conversation janitor stopped")
			return
		case <-ticker.C:
			j.run()
		}
	}
}

func (j *Janitor) run() {
	if purged := j.store.Sweep(); purged > 0 {
		log.Info().Int("purged", purged).Int("remaining", j.store.Len()).Msg("Conversation sweep complete")
	}
}
