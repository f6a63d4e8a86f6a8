package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ticketmarket/settlement-service/internal/config"
)

type maintenanceStub struct {
	released    int64
	releaseErr  error
	openFlags   int
	reportErr   error
	sweeps      int
	reports     int
	sawDeadline bool
}

func (s *maintenanceStub) ReleaseStaleReservations(ctx context.Context) (int64, error) {
	s.sweeps++
	_, s.sawDeadline = ctx.Deadline()
	return s.released, s.releaseErr
}

func (s *maintenanceStub) ReportOpenReconciliationFlags(ctx context.Context) (int, error) {
	s.reports++
	return s.openFlags, s.reportErr
}

func newTestJobs(service Maintenance, out io.Writer) *Jobs {
	logger := slog.New(slog.NewTextHandler(out, nil))
	return NewJobs(service, logger)
}

func TestReleaseStaleReservations_LogsReleasedCount(t *testing.T) {
	var buf bytes.Buffer
	stub := &maintenanceStub{released: 3}
	jobs := newTestJobs(stub, &buf)

	jobs.ReleaseStaleReservations()

	if stub.sweeps != 1 {
		t.Fatalf("expected one sweep, got %d", stub.sweeps)
	}
	if !stub.sawDeadline {
		t.Fatal("expected the sweep to run with a deadline")
	}
	if !strings.Contains(buf.String(), "count=3") {
		t.Fatalf("expected released count in log, got %q", buf.String())
	}
}

func TestReleaseStaleReservations_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	jobs := newTestJobs(&maintenanceStub{releaseErr: errors.New("db unavailable")}, &buf)

	jobs.ReleaseStaleReservations()

	if !strings.Contains(buf.String(), "failed to release stale reservations") {
		t.Fatalf("expected failure log, got %q", buf.String())
	}
}

func TestReportOpenReconciliationFlags(t *testing.T) {
	var buf bytes.Buffer
	stub := &maintenanceStub{openFlags: 2}
	jobs := newTestJobs(stub, &buf)

	jobs.ReportOpenReconciliationFlags()

	if stub.reports != 1 {
		t.Fatalf("expected one report, got %d", stub.reports)
	}
	if !strings.Contains(buf.String(), "open_flags=2") {
		t.Fatalf("expected open flag count in log, got %q", buf.String())
	}
}

func TestSchedulerSkipsInvalidSchedules(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := NewJobs(&maintenanceStub{}, logger)
	s := NewScheduler(jobs, logger, config.Config{
		ReservationSweepSchedule:    "@every 5m",
		ReconciliationAlertSchedule: "not a schedule",
	})

	if scheduled := s.Start(); scheduled != 1 {
		t.Fatalf("expected 1 scheduled job, got %d", scheduled)
	}
	<-s.Stop().Done()
}
