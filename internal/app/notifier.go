package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

// Routing keys on the events exchange.
const (
	RoutingKeyTicketPurchased        = "ticket.purchased"
	RoutingKeyReconciliationFlagged  = "settlement.reconciliation.flagged"
	RoutingKeyReconciliationOpen     = "settlement.reconciliation.open"
	RoutingKeyPayoutStatusSuccessful = "payout.status.successful"
	RoutingKeyPayoutStatusFailed     = "payout.status.failed"
)

const notificationPublishTimeout = 10 * time.Second

// FormatAmount renders a minor-unit amount as "NGN 51.75".
func FormatAmount(minor int64, currency string) string {
	return strings.TrimSpace(strings.ToUpper(currency) + " " + decimal.New(minor, -2).StringFixed(2))
}

// publishAsync publishes on a detached goroutine. Failures are logged and never reach
// the caller.
func (s *Service) publishAsync(routingKey string, body interface{}) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notificationPublishTimeout)
		defer cancel()
		if err := s.eventProducer.Publish(ctx, s.opts.EventsExchange, routingKey, body); err != nil {
			log.Printf("level=warn component=notifier msg=\"publish failed\" routing_key=%s err=%v", routingKey, err)
		}
	}()
}

func (s *Service) notifyTicketPurchased(event *domain.Event, sale *domain.TicketSale, fees domain.FeeBreakdown, currency string) {
	s.publishAsync(RoutingKeyTicketPurchased, domain.TicketPurchasedEvent{
		TicketID:      sale.ID.String(),
		Reference:     sale.Reference,
		EventID:       sale.EventID.String(),
		EventTitle:    event.Title,
		BuyerEmail:    sale.BuyerEmail,
		BuyerName:     sale.BuyerName,
		TicketLabel:   sale.TicketLabel,
		Quantity:      sale.Quantity,
		TotalAmount:   sale.TotalAmount,
		AmountPaid:    fees.BuyerTotal,
		Currency:      currency,
		AmountDisplay: FormatAmount(fees.BuyerTotal, currency),
		OccurredAt:    s.now().UTC(),
	})
}

func (s *Service) notifyReconciliationFlagged(flag *domain.ReconciliationFlag) {
	alert := domain.ReconciliationAlertEvent{
		FlagID:     flag.ID.String(),
		Reference:  flag.Reference,
		Stage:      flag.Stage,
		OccurredAt: s.now().UTC(),
	}
	if flag.EventID != nil {
		alert.EventID = flag.EventID.String()
	}
	if flag.WithdrawalID != nil {
		alert.WithdrawalID = flag.WithdrawalID.String()
	}
	s.publishAsync(RoutingKeyReconciliationFlagged, alert)
}
