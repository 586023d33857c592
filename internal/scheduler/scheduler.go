// Package scheduler triggers automatic daily update runs.
//
// Scheduled and manual triggers share the exact same orchestrator path:
// same lock, same "all enabled profiles" selection, same history recording.
// A trigger that collides with an in-progress run is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aerodocs/aipdeck/internal/update"
)

// Triggerer starts an update run. Satisfied by *update.Orchestrator.
type Triggerer interface {
	Trigger(ctx context.Context, profile string) (uuid.UUID, error)
}

// Scheduler fires one update per day at a fixed UTC time.
type Scheduler struct {
	trigger Triggerer
	hour    int
	minute  int
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Scheduler firing daily at hour:minute UTC.
func New(trigger Triggerer, hour, minute int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		trigger: trigger,
		hour:    hour,
		minute:  minute,
		logger:  logger,
		now:     time.Now,
	}
}

// Run blocks, firing at each scheduled time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now().UTC()
		next := s.nextFiring(now)
		s.logger.Info("auto-update scheduled", "next", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		runID, err := s.trigger.Trigger(ctx, "")
		switch {
		case errors.Is(err, update.ErrAlreadyRunning):
			s.logger.Warn("scheduled update skipped: update already running")
		case err != nil:
			s.logger.Error("scheduled update failed", "error", err)
		default:
			s.logger.Info("scheduled update started", "run_id", runID)
		}
	}
}

// nextFiring returns the next hour:minute UTC wall-clock time strictly after now.
func (s *Scheduler) nextFiring(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
