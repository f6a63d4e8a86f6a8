package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/metrics"
	"github.com/ticketmarket/settlement-service/internal/store"
	"github.com/ticketmarket/settlement-service/pkg/paymentgateway"
)

// Once the gateway has confirmed payment the settlement runs detached from the request,
// bounded by settlementTimeout, so a buyer who disconnects still gets a ticket.
const (
	purchaseRateLimitWindow = time.Minute
	cleanupTimeout          = 10 * time.Second
	settlementTimeout       = 30 * time.Second
)

// Purchase verifies a payment reference with the processor and settles the sale.
//
// The reference is reserved before the gateway is called, so concurrent submissions of
// the same reference resolve to one settlement. Nothing is held open while the gateway
// answers. Any failure before settlement releases the reservation so a legitimate retry
// can proceed; a failure after a ledger write flags the reference for reconciliation.
func (s *Service) Purchase(ctx context.Context, req domain.PurchaseRequest, clientIP string) (*domain.PurchaseResult, error) {
	result, outcome, err := s.purchase(ctx, req, clientIP)
	s.metrics.ObservePurchase(outcome)
	return result, err
}

func (s *Service) purchase(ctx context.Context, req domain.PurchaseRequest, clientIP string) (*domain.PurchaseResult, string, error) {
	req, eventID, err := normalizePurchaseRequest(req)
	if err != nil {
		return nil, metrics.PurchaseOutcomeInvalid, err
	}

	if err := s.consumePurchaseRateLimit(ctx, req.Email, clientIP); err != nil {
		return nil, metrics.PurchaseOutcomeRateLimited, err
	}

	event, err := s.repo.FindEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			return nil, metrics.PurchaseOutcomeInvalid, invalidPurchase("event not found")
		}
		return nil, metrics.PurchaseOutcomeFailed, fmt.Errorf("load event: %w", err)
	}

	ticketType, ok := event.FindTicketType(req.TicketType)
	if !ok {
		return nil, metrics.PurchaseOutcomeInvalid, invalidPurchase(fmt.Sprintf("ticket type %q not offered", req.TicketType))
	}
	if ticketType.Amount != req.TicketAmount {
		log.Printf("level=warn component=purchase msg=\"ticket amount differs from catalog\" reference=%s event_id=%s ticket_type=%s client_amount=%d catalog_amount=%d",
			req.Reference, eventID, ticketType.Label, req.TicketAmount, ticketType.Amount)
		return nil, metrics.PurchaseOutcomeAmountMismatch, fmt.Errorf("%w: ticket price changed", ErrAmountMismatch)
	}

	fees, err := ComputeFees(ticketType.Amount, req.TicketNumber, platformFeePercentFor(event, s.opts.DefaultPlatformFeePercent))
	if err != nil {
		return nil, metrics.PurchaseOutcomeInvalid, err
	}
	currency := s.ticketCurrency(event, ticketType)

	reservation, err := s.repo.ReservePaymentReference(ctx, req.Reference, eventID, s.opts.ReservationStaleAfter)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPurchaseInProgress):
			return nil, metrics.PurchaseOutcomeInProgress, err
		case errors.Is(err, store.ErrSettlementUnderReview):
			return nil, metrics.PurchaseOutcomeUnderReview, err
		}
		return nil, metrics.PurchaseOutcomeFailed, fmt.Errorf("reserve payment reference: %w", err)
	}
	if reservation.AlreadyProcessed {
		sale, err := s.priorSale(ctx, req.Reference, reservation.TicketSaleID)
		if err != nil {
			return nil, metrics.PurchaseOutcomeFailed, err
		}
		log.Printf("level=info component=purchase msg=\"reference already settled\" reference=%s ticket_id=%s", req.Reference, sale.ID)
		return &domain.PurchaseResult{Sale: sale, AlreadyProcessed: true}, metrics.PurchaseOutcomeAlreadyProcessed, nil
	}

	verification, outcome, err := s.verifyPayment(ctx, req.Reference)
	if err != nil {
		s.releaseReservation(ctx, req.Reference, reservation.ClaimToken)
		return nil, outcome, err
	}

	if err := s.checkAmount(req.Reference, verification, fees.BuyerTotal, currency); err != nil {
		s.releaseReservation(ctx, req.Reference, reservation.ClaimToken)
		return nil, metrics.PurchaseOutcomeAmountMismatch, err
	}

	sale := domain.TicketSale{
		ID:              uuid.New(),
		EventID:         eventID,
		Reference:       req.Reference,
		BuyerEmail:      req.Email,
		BuyerName:       req.Name,
		BuyerPhone:      req.Phone,
		TicketLabel:     ticketType.Label,
		UnitAmount:      fees.UnitAmount,
		Quantity:        fees.Quantity,
		TotalAmount:     fees.TotalAmount,
		FeeAmount:       fees.ProcessorFee,
		PlatformFee:     fees.PlatformFee,
		OrganizerAmount: fees.OrganizerAmount,
	}

	settleCtx, cancelSettle := detached(ctx, settlementTimeout)
	defer cancelSettle()
	started := time.Now()
	settled, err := s.repo.SettleTicketSale(settleCtx, domain.Settlement{
		Sale:        sale,
		OrganizerID: event.OrganizerID,
		ClaimToken:  reservation.ClaimToken,
	})
	s.metrics.ObserveSettlement(time.Since(started))
	if err != nil {
		outcome, err := s.handleSettlementFailure(ctx, sale, reservation.ClaimToken, err)
		return nil, outcome, err
	}

	log.Printf("level=info component=purchase msg=\"ticket sale settled\" reference=%s ticket_id=%s event_id=%s total=%d platform_fee=%d organizer_amount=%d",
		settled.Reference, settled.ID, settled.EventID, settled.TotalAmount, settled.PlatformFee, settled.OrganizerAmount)

	s.notifyTicketPurchased(event, settled, fees, currency)
	return &domain.PurchaseResult{Sale: settled}, metrics.PurchaseOutcomeSettled, nil
}

func normalizePurchaseRequest(req domain.PurchaseRequest) (domain.PurchaseRequest, uuid.UUID, error) {
	req.Reference = strings.TrimSpace(req.Reference)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.TicketType = strings.TrimSpace(req.TicketType)

	switch {
	case req.Reference == "":
		return req, uuid.Nil, invalidPurchase("reference is required")
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return req, uuid.Nil, invalidPurchase("a valid email is required")
	case req.TicketType == "":
		return req, uuid.Nil, invalidPurchase("ticketType is required")
	case req.TicketAmount <= 0:
		return req, uuid.Nil, invalidPurchase("ticketAmount must be greater than zero")
	case req.TicketNumber <= 0:
		return req, uuid.Nil, invalidPurchase("ticketNumber must be greater than zero")
	}

	eventID, err := uuid.Parse(strings.TrimSpace(req.EventID))
	if err != nil {
		return req, uuid.Nil, invalidPurchase("eventId must be a valid id")
	}
	return req, eventID, nil
}

func (s *Service) consumePurchaseRateLimit(ctx context.Context, email, clientIP string) error {
	if s.rateLimiter == nil || s.opts.PurchaseRateLimitPerMinute <= 0 {
		return nil
	}

	throttle, err := s.rateLimiter.ConsumePurchaseAttempt(ctx, email, clientIP, s.opts.PurchaseRateLimitPerMinute, purchaseRateLimitWindow)
	if err != nil {
		// Limiter outages must not block paying buyers.
		log.Printf("level=warn component=purchase msg=\"rate limiter unavailable\" err=%v", err)
		return nil
	}
	if !throttle.Allowed() {
		log.Printf("level=warn component=purchase msg=\"purchase rate limited\" scope=%s retry_after=%d", throttle.Scope, throttle.RetryAfterSeconds)
		return &RateLimitError{Scope: throttle.Scope, RetryAfterSeconds: throttle.RetryAfterSeconds}
	}
	return nil
}

func (s *Service) ticketCurrency(event *domain.Event, ticketType domain.TicketType) string {
	for _, candidate := range []string{ticketType.Currency, event.Currency, s.opts.SettlementCurrency} {
		if c := strings.ToUpper(strings.TrimSpace(candidate)); c != "" {
			return c
		}
	}
	return s.opts.SettlementCurrency
}

func (s *Service) priorSale(ctx context.Context, reference string, ticketSaleID *uuid.UUID) (*domain.TicketSale, error) {
	if ticketSaleID != nil {
		sale, err := s.repo.FindTicketSaleByID(ctx, *ticketSaleID)
		if err == nil {
			return sale, nil
		}
		if !errors.Is(err, store.ErrTicketSaleNotFound) {
			return nil, fmt.Errorf("load prior ticket sale: %w", err)
		}
	}
	sale, err := s.repo.FindTicketSaleByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load prior ticket sale: %w", err)
	}
	return sale, nil
}

// verifyPayment calls the gateway and maps its errors onto the service taxonomy.
func (s *Service) verifyPayment(ctx context.Context, reference string) (*paymentgateway.Verification, string, error) {
	started := time.Now()
	verification, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		outcome, mapped := mapGatewayError(err)
		s.metrics.ObserveGatewayVerify(outcome, time.Since(started))
		log.Printf("level=warn component=purchase msg=\"payment verification failed\" reference=%s err=%v", reference, err)
		return nil, outcome, mapped
	}

	status := strings.ToLower(strings.TrimSpace(verification.Status))
	s.metrics.ObserveGatewayVerify(status, time.Since(started))
	if status != "success" {
		log.Printf("level=warn component=purchase msg=\"payment not successful\" reference=%s gateway_status=%s gateway_response=%q",
			reference, status, verification.GatewayResponse)
		return nil, metrics.PurchaseOutcomeVerificationFailed, fmt.Errorf("%w: gateway status %s", ErrVerificationFailed, status)
	}
	if verification.Reference != "" && verification.Reference != reference {
		log.Printf("level=warn component=purchase msg=\"gateway returned a different reference\" reference=%s gateway_reference=%s",
			reference, verification.Reference)
		return nil, metrics.PurchaseOutcomeVerificationFailed, fmt.Errorf("%w: reference mismatch", ErrVerificationFailed)
	}
	return verification, "", nil
}

func mapGatewayError(err error) (string, error) {
	switch {
	case errors.Is(err, paymentgateway.ErrGatewayUnreachable), errors.Is(err, context.DeadlineExceeded):
		return metrics.PurchaseOutcomeGatewayUnreachable, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	case errors.Is(err, paymentgateway.ErrReferenceNotFound):
		return metrics.PurchaseOutcomeVerificationFailed, ErrReferenceNotFound
	default:
		return metrics.PurchaseOutcomeVerificationFailed, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
}

// checkAmount requires the gateway-asserted amount to equal what the buyer owed, within
// the configured tolerance, in the ticket's currency.
func (s *Service) checkAmount(reference string, verification *paymentgateway.Verification, expected int64, currency string) error {
	if !strings.EqualFold(strings.TrimSpace(verification.Currency), currency) {
		log.Printf("level=warn component=purchase msg=\"suspicious payment: currency mismatch\" reference=%s expected_currency=%s paid_currency=%s",
			reference, currency, verification.Currency)
		return fmt.Errorf("%w: currency %s", ErrAmountMismatch, verification.Currency)
	}

	diff := verification.Amount - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > s.opts.AmountToleranceKobo {
		log.Printf("level=warn component=purchase msg=\"suspicious payment: amount mismatch\" reference=%s expected=%d paid=%d tolerance=%d",
			reference, expected, verification.Amount, s.opts.AmountToleranceKobo)
		return fmt.Errorf("%w: paid %d, expected %d", ErrAmountMismatch, verification.Amount, expected)
	}
	return nil
}

func (s *Service) releaseReservation(ctx context.Context, reference string, claimToken uuid.UUID) {
	cleanupCtx, cancel := detached(ctx, cleanupTimeout)
	defer cancel()
	if err := s.repo.ReleasePaymentReservation(cleanupCtx, reference, claimToken); err != nil {
		log.Printf("level=error component=purchase msg=\"failed to release payment reservation\" reference=%s err=%v", reference, err)
	}
}

// handleSettlementFailure decides between releasing the reservation and flagging the
// reference, depending on whether a ledger write may have landed.
func (s *Service) handleSettlementFailure(ctx context.Context, sale domain.TicketSale, claimToken uuid.UUID, err error) (string, error) {
	var settleErr *store.SettlementError
	if !errors.As(err, &settleErr) || !settleErr.Mutated {
		if errors.Is(err, store.ErrReservationLost) {
			log.Printf("level=warn component=purchase msg=\"reservation reclaimed before settlement\" reference=%s", sale.Reference)
			return metrics.PurchaseOutcomeInProgress, store.ErrPurchaseInProgress
		}
		log.Printf("level=error component=purchase msg=\"settlement failed before any write\" reference=%s err=%v", sale.Reference, err)
		s.releaseReservation(ctx, sale.Reference, claimToken)
		return metrics.PurchaseOutcomeFailed, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	log.Printf("level=critical component=purchase msg=\"settlement partially applied, flagging for reconciliation\" reference=%s event_id=%s stage=%s total=%d platform_fee=%d organizer_amount=%d err=%v",
		sale.Reference, sale.EventID, settleErr.Stage, sale.TotalAmount, sale.PlatformFee, sale.OrganizerAmount, settleErr.Err)
	s.metrics.ObserveReconciliationFlag(settleErr.Stage)

	flagCtx, cancel := detached(ctx, cleanupTimeout)
	defer cancel()
	flag, flagErr := s.repo.FlagSettlementForReconciliation(flagCtx, sale, settleErr.Stage, settleErr.Err.Error())
	if flagErr != nil {
		log.Printf("level=critical component=purchase msg=\"failed to record reconciliation flag\" reference=%s stage=%s err=%v flag_err=%v",
			sale.Reference, settleErr.Stage, settleErr.Err, flagErr)
		return metrics.PurchaseOutcomePartialCommit, fmt.Errorf("%w: %v", ErrPartialCommit, err)
	}

	s.notifyReconciliationFlagged(flag)
	return metrics.PurchaseOutcomePartialCommit, fmt.Errorf("%w: %v", ErrPartialCommit, err)
}
