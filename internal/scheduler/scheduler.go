/**
 * @description
 * Cron scheduler setup for the settlement maintenance jobs.
 */
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/ticketmarket/settlement-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns the number of jobs
// that were scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0

	if _, err := s.cron.AddFunc(s.config.ReservationSweepSchedule, s.jobs.ReleaseStaleReservations); err != nil {
		s.logger.Error("failed to schedule stale reservation sweep", "error", err)
	} else {
		scheduled++
		s.logger.Info("scheduled stale reservation sweep", "schedule", s.config.ReservationSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ReconciliationAlertSchedule, s.jobs.ReportOpenReconciliationFlags); err != nil {
		s.logger.Error("failed to schedule reconciliation flag report", "error", err)
	} else {
		scheduled++
		s.logger.Info("scheduled reconciliation flag report", "schedule", s.config.ReconciliationAlertSchedule)
	}

	s.cron.Start()
	return scheduled
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
