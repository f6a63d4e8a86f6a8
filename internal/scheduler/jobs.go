/**
 * @description
 * Scheduled maintenance jobs for the settlement pipeline.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

const jobTimeout = 2 * time.Minute

// Maintenance is the slice of the settlement service the jobs drive.
type Maintenance interface {
	ReleaseStaleReservations(ctx context.Context) (int64, error)
	ReportOpenReconciliationFlags(ctx context.Context) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service Maintenance
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service Maintenance, logger *slog.Logger) *Jobs {
	return &Jobs{
		service: service,
		logger:  logger,
	}
}

// ReleaseStaleReservations expires processing reservations whose holder never finished,
// so the buyer can retry the same payment reference.
func (j *Jobs) ReleaseStaleReservations() {
	j.logger.Info("starting stale reservation sweep")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	released, err := j.service.ReleaseStaleReservations(ctx)
	if err != nil {
		j.logger.Error("failed to release stale reservations", "error", err)
		return
	}

	if released > 0 {
		j.logger.Warn("released stale payment reservations", "count", released)
	}
	j.logger.Info("stale reservation sweep finished")
}

// ReportOpenReconciliationFlags raises the open-flag alert while settlements await review.
func (j *Jobs) ReportOpenReconciliationFlags() {
	j.logger.Info("starting reconciliation flag report")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	open, err := j.service.ReportOpenReconciliationFlags(ctx)
	if err != nil {
		j.logger.Error("failed to report reconciliation flags", "error", err)
		return
	}

	if open > 0 {
		j.logger.Warn("settlements awaiting reconciliation", "open_flags", open)
		return
	}
	j.logger.Info("no open reconciliation flags")
}
