package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

// RecordTicketUsage admits a ticket at the venue. A repeated scan is reported in the
// result, not as an error; only storage failures return an error.
func (s *Service) RecordTicketUsage(ctx context.Context, ticketID uuid.UUID) (domain.TicketUsageResult, error) {
	err := s.repo.MarkTicketUsed(ctx, ticketID)

	var result domain.TicketUsageResult
	switch {
	case err == nil:
		result = domain.TicketUsageResult{OK: true}
	case errors.Is(err, store.ErrTicketAlreadyUsed):
		result = domain.TicketUsageResult{Reason: domain.TicketUsageReasonAlreadyUsed}
	case errors.Is(err, store.ErrTicketSaleNotFound):
		result = domain.TicketUsageResult{Reason: domain.TicketUsageReasonNotFound}
	case errors.Is(err, store.ErrTicketInvalid):
		result = domain.TicketUsageResult{Reason: domain.TicketUsageReasonInvalid}
	default:
		log.Printf("level=error component=usage msg=\"failed to record ticket usage\" ticket_id=%s err=%v", ticketID, err)
		return domain.TicketUsageResult{}, fmt.Errorf("record ticket usage: %w", err)
	}

	label := "ok"
	if !result.OK {
		label = result.Reason
		log.Printf("level=info component=usage msg=\"ticket rejected at entry\" ticket_id=%s reason=%s", ticketID, result.Reason)
	}
	s.metrics.ObserveTicketUsage(label)
	return result, nil
}

// GetTicketSale returns a recorded sale.
func (s *Service) GetTicketSale(ctx context.Context, ticketID uuid.UUID) (*domain.TicketSale, error) {
	return s.repo.FindTicketSaleByID(ctx, ticketID)
}
