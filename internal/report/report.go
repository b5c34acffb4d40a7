// Package report runs the scheduled jobs: a daily operational report
// dispatched to the notification channels and the midnight prompt-cache
// rollover that keeps the date inside the base prompt current.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pelangihq/intentd/internal/conversation"
	"github.com/pelangihq/intentd/internal/orchestrator"
	"github.com/pelangihq/intentd/internal/promptcache"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// midnightSpec rolls the prompt cache over to the new calendar day.
const midnightSpec = "0 0 * * *"

// Notifier receives the daily report event.
type Notifier interface {
	Dispatch(ctx context.Context, event models.Event)
}

// Scheduler owns the cron runner and its two jobs.
type Scheduler struct {
	cron     *cron.Cron
	schedule string

	orch     *orchestrator.Orchestrator
	store    *conversation.Store
	prompts  *promptcache.Cache
	notifier Notifier
}

// New creates the scheduler. schedule is the cron spec for the daily
// report.
func New(schedule string, orch *orchestrator.Orchestrator, store *conversation.Store, prompts *promptcache.Cache, notifier Notifier) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		orch:     orch,
		store:    store,
		prompts:  prompts,
		notifier: notifier,
	}
}

// Start registers the jobs and launches the cron runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runDailyReport); err != nil {
		return fmt.Errorf("schedule daily report: %w", err)
	}
	if _, err := s.cron.AddFunc(midnightSpec, s.rolloverPromptCache); err != nil {
		return fmt.Errorf("schedule cache rollover: %w", err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("Report scheduler started")
	return nil
}

// Stop halts the runner and returns once running jobs finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Report scheduler stopped")
}

func (s *Scheduler) rolloverPromptCache() {
	s.prompts.Invalidate()
	log.Info().Msg("Prompt cache rolled over for new day")
}

func (s *Scheduler) runDailyReport() {
	event := s.BuildReport()
	if s.notifier != nil {
		s.notifier.Dispatch(context.Background(), event)
	}
	log.Info().Str("event", event.ID).Msg("Daily report dispatched")
}

// BuildReport assembles the daily operational summary from live state.
func (s *Scheduler) BuildReport() models.Event {
	statuses := s.orch.Status()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Daily report: %d backends, %d active conversations.\n", len(statuses), s.store.Len())
	degraded := 0
	for _, st := range statuses {
		if st.CircuitState != "closed" || st.RateLimited || st.Failures > 0 || st.LifetimeErrors > 0 {
			degraded++
			fmt.Fprintf(&sb, "- %s: circuit %s, consecutive failures %d, lifetime rate limits %d\n",
				st.Backend.ID, st.CircuitState, st.Failures, st.LifetimeErrors)
		}
	}
	if degraded == 0 {
		sb.WriteString("All backends healthy.\n")
	}

	intents := s.store.DrainIntentTally()
	if len(intents) > 0 {
		sb.WriteString("Intents:")
		for _, name := range sortedIntents(intents) {
			fmt.Fprintf(&sb, " %s=%d", name, intents[name])
		}
		sb.WriteString("\n")
	}

	return models.Event{
		ID:      uuid.NewString(),
		Type:    models.EventDailyReport,
		Message: sb.String(),
		Payload: map[string]interface{}{
			"backends":      len(statuses),
			"degraded":      degraded,
			"conversations": s.store.Len(),
			"intents":       intents,
		},
	}
}

// sortedIntents orders names by descending count, ties alphabetical, so the
// report reads busiest-first.
func sortedIntents(tally map[string]int64) []string {
	names := make([]string, 0, len(tally))
	for name := range tally {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if tally[names[i]] != tally[names[j]] {
			return tally[names[i]] > tally[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
