package domain

import "time"

// TicketPurchasedEvent is published after a settlement commits so the notification
// collaborator can email the buyer.
type TicketPurchasedEvent struct {
	TicketID      string    `json:"ticket_id"`
	Reference     string    `json:"reference"`
	EventID       string    `json:"event_id"`
	EventTitle    string    `json:"event_title"`
	BuyerEmail    string    `json:"buyer_email"`
	BuyerName     string    `json:"buyer_name,omitempty"`
	TicketLabel   string    `json:"ticket_label"`
	Quantity      int       `json:"quantity"`
	TotalAmount   int64     `json:"total_amount"`
	AmountPaid    int64     `json:"amount_paid"`
	Currency      string    `json:"currency"`
	AmountDisplay string    `json:"amount_display"` // e.g. "NGN 51.75"
	OccurredAt    time.Time `json:"occurred_at"`
}

// ReconciliationAlertEvent is published when a settlement or payout is flagged, and by
// the scheduler while flags remain open.
type ReconciliationAlertEvent struct {
	FlagID       string    `json:"flag_id,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	WithdrawalID string    `json:"withdrawal_id,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	OpenCount    int       `json:"open_count,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// PayoutStatusEvent is consumed from the payout provider integration.
type PayoutStatusEvent struct {
	EventID      string    `json:"event_id"`
	WithdrawalID string    `json:"withdrawal_id"`
	Status       string    `json:"status"` // 'successful' or 'failed'
	Reference    string    `json:"reference"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}
