package worker

import (
	"context"
	"log/slog"
	"time"

	"order-service/internal/database"
	"order-service/internal/metrics"

	"github.com/robfig/cron/v3"
)

// StartBacklogSampler registers the pending-row sampler on the given
// schedule and starts the scheduler. A stalled dispatcher or applier shows
// up as a growing gauge long before anyone reads the logs. Returns an error
// if the schedule string is invalid so that main() can fail fast with a
// clear message instead of a buried panic.
//
// The returned *cron.Cron must be stopped on shutdown:
//
//	c, err := StartBacklogSampler(store, cfg.BacklogSchedule)
//	defer c.Stop()  // waits for any running job to finish before returning
func StartBacklogSampler(store *database.Store, schedule string) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if n, err := store.PendingOutbox(ctx); err != nil {
			slog.Error("outbox backlog sample failed", "component", "cron", "error", err)
		} else {
			metrics.OutboxPending.Set(float64(n))
		}

		if n, err := store.PendingInbox(ctx); err != nil {
			slog.Error("inbox backlog sample failed", "component", "cron", "error", err)
		} else {
			metrics.InboxPending.Set(float64(n))
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	slog.Info("cron scheduler started", "component", "cron", "schedule", schedule)
	return c, nil
}
