package app

import (
	"fmt"
	"math"

	"github.com/ticketmarket/settlement-service/internal/domain"
)

const (
	// DefaultPlatformFeePercent applies to events without their own rate.
	DefaultPlatformFeePercent = 10
	// ProcessorFeePerMille is the processor's percentage fee, 1.5%, rounded up.
	ProcessorFeePerMille = 15
	// ProcessorFeePerTicket is the processor's flat fee per ticket, 1 NGN in kobo.
	ProcessorFeePerTicket = 100
)

// ComputeFees splits a purchase into the buyer total and the platform/organizer shares.
// All arithmetic is integer: the processor fee rounds up, the platform fee rounds down,
// and the organizer receives the remainder so the two shares always sum to the total.
func ComputeFees(unitAmount int64, quantity int, platformFeePercent int) (domain.FeeBreakdown, error) {
	if unitAmount <= 0 {
		return domain.FeeBreakdown{}, invalidPurchase("ticket amount must be greater than zero")
	}
	if quantity <= 0 {
		return domain.FeeBreakdown{}, invalidPurchase("ticket number must be greater than zero")
	}
	if platformFeePercent < 0 || platformFeePercent > 100 {
		return domain.FeeBreakdown{}, fmt.Errorf("platform fee percent %d out of range", platformFeePercent)
	}

	qty := int64(quantity)
	// Bound the total so total*1000 cannot overflow.
	if unitAmount > math.MaxInt64/1000/qty {
		return domain.FeeBreakdown{}, invalidPurchase("purchase amount too large")
	}

	total := unitAmount * qty
	processorFee := (total*ProcessorFeePerMille+999)/1000 + qty*ProcessorFeePerTicket
	platformFee := total * int64(platformFeePercent) / 100

	return domain.FeeBreakdown{
		UnitAmount:         unitAmount,
		Quantity:           quantity,
		TotalAmount:        total,
		ProcessorFee:       processorFee,
		BuyerTotal:         total + processorFee,
		PlatformFeePercent: platformFeePercent,
		PlatformFee:        platformFee,
		OrganizerAmount:    total - platformFee,
	}, nil
}

// platformFeePercentFor returns the event's own rate or the service default.
func platformFeePercentFor(event *domain.Event, fallback int) int {
	if event != nil && event.PlatformFeePercent != nil {
		pct := *event.PlatformFeePercent
		if pct >= 0 && pct <= 100 {
			return pct
		}
	}
	return fallback
}
