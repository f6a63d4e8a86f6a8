package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ReservationStatusProcessing = "processing"
	ReservationStatusCompleted  = "completed"
	ReservationStatusFlagged    = "flagged"
)

// Settlement flags resolve as confirmed or released. Payout flags resolve as
// acknowledged once an operator has corrected the ledger by hand.
const (
	ReconciliationResolutionConfirmed    = "confirmed"
	ReconciliationResolutionReleased     = "released"
	ReconciliationResolutionAcknowledged = "acknowledged"
)

// ReconciliationStagePayout marks a provider-confirmed payout the wallet ledger could
// not absorb.
const ReconciliationStagePayout = "payout"

// ReservationOutcome is what the idempotency guard reports for a reference.
// Exactly one of Acquired or AlreadyProcessed is true on a nil error. ClaimToken
// identifies this holder's claim; completion and release must present it.
type ReservationOutcome struct {
	Acquired         bool
	AlreadyProcessed bool
	ClaimToken       uuid.UUID
	TicketSaleID     *uuid.UUID
}

// FeeBreakdown is the integer fee split for one purchase.
type FeeBreakdown struct {
	UnitAmount         int64 `json:"unit_amount"`
	Quantity           int   `json:"quantity"`
	TotalAmount        int64 `json:"total_amount"`
	ProcessorFee       int64 `json:"processor_fee"`
	BuyerTotal         int64 `json:"buyer_total"`
	PlatformFeePercent int   `json:"platform_fee_percent"`
	PlatformFee        int64 `json:"platform_fee"`
	OrganizerAmount    int64 `json:"organizer_amount"`
}

// Settlement is the full set of writes the settlement transaction applies.
type Settlement struct {
	Sale        TicketSale
	OrganizerID string
	ClaimToken  uuid.UUID
}

// ReconciliationFlag marks money movement that could not be confirmed in the ledger and
// needs operator review: either a settlement whose multi-entity commit is in doubt
// (TicketSaleID set) or a completed payout the wallet could not be debited for
// (WithdrawalID set).
type ReconciliationFlag struct {
	ID           uuid.UUID  `json:"id"`
	Reference    string     `json:"reference"`
	EventID      *uuid.UUID `json:"event_id,omitempty"`
	TicketSaleID *uuid.UUID `json:"ticket_sale_id,omitempty"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
	Stage        string     `json:"stage"`
	ErrorMessage string     `json:"error_message"`
	Resolution   *string    `json:"resolution,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func (f ReconciliationFlag) IsPayout() bool {
	return f.WithdrawalID != nil
}
