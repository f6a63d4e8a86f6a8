/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * These structs represent events, ticket sales and purchase DTOs used by the
 * settlement pipeline, its persistence layer and the HTTP API.
 *
 * @notes
 * - Amounts are `int64` values in the smallest currency unit (kobo). No floating
 *   point is used anywhere money is computed.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TicketSaleStatusSuccess = "success"
	TicketSaleStatusFailed  = "failed"
)

// Event represents the ticketed event that settlement credits. Only the fields the
// settlement pipeline reads or mutates are modelled here.
type Event struct {
	ID                 uuid.UUID    `json:"id"`
	OrganizerID        string       `json:"organizer_id"`
	Title              string       `json:"title"`
	Currency           string       `json:"currency"`
	PlatformFeePercent *int         `json:"platform_fee_percent,omitempty"` // nil means the service default
	TicketsSold        int64        `json:"tickets_sold"`
	Revenue            int64        `json:"revenue"` // in kobo
	TicketTypes        []TicketType `json:"ticket_types"`
	CreatedAt          time.Time    `json:"created_at"`
}

// TicketType is one priced entry of an event's ticket catalog (e.g. "Regular", "VIP").
type TicketType struct {
	Label    string `json:"label"`
	Amount   int64  `json:"amount"` // in kobo
	Currency string `json:"currency"`
}

// FindTicketType returns the catalog entry whose label matches, ignoring case.
func (e *Event) FindTicketType(label string) (TicketType, bool) {
	for _, tt := range e.TicketTypes {
		if equalFoldTrim(tt.Label, label) {
			return tt, true
		}
	}
	return TicketType{}, false
}

// TicketSale is the durable record of one verified purchase.
// This struct maps directly to the `ticket_sales` table.
type TicketSale struct {
	ID              uuid.UUID  `json:"id"`
	EventID         uuid.UUID  `json:"event_id"`
	Reference       string     `json:"reference"`
	BuyerEmail      string     `json:"buyer_email"`
	BuyerName       string     `json:"buyer_name,omitempty"`
	BuyerPhone      string     `json:"buyer_phone,omitempty"`
	TicketLabel     string     `json:"ticket_label"`
	UnitAmount      int64      `json:"unit_amount"`
	Quantity        int        `json:"quantity"`
	TotalAmount     int64      `json:"total_amount"`     // unit_amount * quantity
	FeeAmount       int64      `json:"fee_amount"`       // processor fee paid by the buyer on top of total_amount
	PlatformFee     int64      `json:"platform_fee"`     // credited to the platform wallet
	OrganizerAmount int64      `json:"organizer_amount"` // credited to the organizer wallet
	Status          string     `json:"status"`           // 'success' or 'failed'
	Used            bool       `json:"used"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PurchaseRequest is the DTO accepted by POST /purchase. Field names follow the
// checkout client's contract.
type PurchaseRequest struct {
	Reference    string `json:"reference"`
	EventID      string `json:"eventId"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	TicketType   string `json:"ticketType"`
	TicketAmount int64  `json:"ticketAmount"` // unit price in kobo as shown to the buyer
	TicketNumber int    `json:"ticketNumber"` // quantity
}

// PurchaseResult is returned by the purchase flow. AlreadyProcessed is set when the
// reference had been settled before and Sale is the previously recorded outcome.
type PurchaseResult struct {
	Sale             *TicketSale `json:"sale"`
	AlreadyProcessed bool        `json:"already_processed"`
}

// PaymentVerification is the normalized, gateway-asserted result of verifying a reference.
type PaymentVerification struct {
	Reference       string     `json:"reference"`
	Status          string     `json:"status"` // 'success', 'failed', 'pending', 'abandoned', ...
	Amount          int64      `json:"amount"` // in kobo
	Currency        string     `json:"currency"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	GatewayResponse string     `json:"gateway_response,omitempty"`
}

// TicketUsageResult reports the outcome of a venue scan.
type TicketUsageResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"` // 'already_used', 'not_found', 'invalid'
}

const (
	TicketUsageReasonAlreadyUsed = "already_used"
	TicketUsageReasonNotFound    = "not_found"
	TicketUsageReasonInvalid     = "invalid"
)
