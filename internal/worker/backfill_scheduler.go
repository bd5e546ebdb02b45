// Package worker provides background workers for the label hub.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rxlabels/labelhub/internal/service"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// BackfillFunc enqueues embedding work for labels that have none.
type BackfillFunc func(ctx context.Context) (service.BackfillStats, error)

// BackfillScheduler runs the embedding backfill on a cron schedule.
type BackfillScheduler struct {
	schedule cron.Schedule
	spec     string
	backfill BackfillFunc
	now      func() time.Time
	logger   *slog.Logger
}

// NewBackfillScheduler parses spec (standard five-field cron or a descriptor such as "@hourly"
// or "@every 30m").
func NewBackfillScheduler(spec string, backfill BackfillFunc, logger *slog.Logger) (*BackfillScheduler, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse backfill schedule %q: %w", spec, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &BackfillScheduler{
		schedule: schedule,
		spec:     spec,
		backfill: backfill,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Next returns the first run after t.
func (s *BackfillScheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start runs until ctx is cancelled. The first run happens at the first scheduled time, not on startup.
func (s *BackfillScheduler) Start(ctx context.Context) {
	s.logger.Info("backfill scheduler started", "schedule", s.spec)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("backfill scheduler stopped")

			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs one backfill and logs the result.
func (s *BackfillScheduler) RunOnce(ctx context.Context) {
	start := s.now()

	stats, err := s.backfill(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "embedding backfill failed",
			"scanned", stats.Scanned,
			"enqueued", stats.Enqueued,
			"error", err,
		)

		return
	}

	s.logger.InfoContext(ctx, "embedding backfill finished",
		"scanned", stats.Scanned,
		"missing", stats.Missing,
		"enqueued", stats.Enqueued,
		"embedded", stats.Embedded,
		"duration", s.now().Sub(start),
	)
}
