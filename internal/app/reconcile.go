package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

const defaultReconciliationListLimit = 100

// ListReconciliationFlags returns unresolved flags, oldest first.
func (s *Service) ListReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error) {
	if limit <= 0 || limit > defaultReconciliationListLimit {
		limit = defaultReconciliationListLimit
	}
	return s.repo.ListOpenReconciliationFlags(ctx, limit)
}

// ResolveReconciliationFlag closes a flag by confirming the settlement if its ledger
// entry exists, or releasing the reference for a retry if it does not.
func (s *Service) ResolveReconciliationFlag(ctx context.Context, flagID uuid.UUID) (*domain.ReconciliationFlag, error) {
	flag, err := s.repo.ResolveReconciliationFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}

	resolution := ""
	if flag.Resolution != nil {
		resolution = *flag.Resolution
	}
	log.Printf("level=info component=reconciliation msg=\"reconciliation flag resolved\" flag_id=%s reference=%s resolution=%s",
		flag.ID, flag.Reference, resolution)
	return flag, nil
}

// ReportOpenReconciliationFlags refreshes the open-flag gauge and raises an alert while
// any flag is waiting for review.
func (s *Service) ReportOpenReconciliationFlags(ctx context.Context) (int, error) {
	count, err := s.repo.CountOpenReconciliationFlags(ctx)
	if err != nil {
		return 0, fmt.Errorf("count open reconciliation flags: %w", err)
	}
	s.metrics.SetOpenReconciliationFlags(count)
	if count > 0 {
		s.publishAsync(RoutingKeyReconciliationOpen, domain.ReconciliationAlertEvent{
			OpenCount:  count,
			OccurredAt: s.now().UTC(),
		})
	}
	return count, nil
}

// ReleaseStaleReservations expires processing reservations older than the stale window.
func (s *Service) ReleaseStaleReservations(ctx context.Context) (int64, error) {
	released, err := s.repo.ReleaseStalePaymentReservations(ctx, s.opts.ReservationStaleAfter)
	if err != nil {
		return 0, fmt.Errorf("release stale reservations: %w", err)
	}
	s.metrics.AddExpiredReservations(released)
	return released, nil
}
