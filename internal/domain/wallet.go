package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlatformWalletOwnerID is the owner id of the single platform wallet shared by all events.
const PlatformWalletOwnerID = "platform"

const (
	WalletTransactionTypeTicketSale = "ticket_sale"
	WalletTransactionTypeWithdrawal = "withdrawal"
)

const (
	WithdrawalStatusPending  = "pending"
	WithdrawalStatusPaid     = "paid"
	WithdrawalStatusRejected = "rejected"
)

// WalletBalance represents a platform or organizer wallet.
// Balance is only ever reduced by paid withdrawals; TotalEarned never decreases.
type WalletBalance struct {
	OwnerID     string    `json:"owner_id"`
	Balance     int64     `json:"balance"`      // in kobo
	TotalEarned int64     `json:"total_earned"` // in kobo
	UpdatedAt   time.Time `json:"updated_at"`
}

// WalletTransaction is an immutable audit entry appended for every settlement and payout.
type WalletTransaction struct {
	ID                uuid.UUID  `json:"id"`
	OrganizerID       string     `json:"organizer_id"`
	EventID           *uuid.UUID `json:"event_id,omitempty"`
	Reference         string     `json:"reference"`
	PlatformFeeAmount int64      `json:"platform_fee_amount"`
	OrganizerAmount   int64      `json:"organizer_amount"`
	Type              string     `json:"type"` // 'ticket_sale' or 'withdrawal'
	CreatedAt         time.Time  `json:"created_at"`
}

// WithdrawalRequest represents a payout request against a wallet balance.
type WithdrawalRequest struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         string     `json:"owner_id"`
	EventID         *uuid.UUID `json:"event_id,omitempty"`
	Amount          int64      `json:"amount"` // in kobo
	Status          string     `json:"status"` // 'pending', 'paid', 'rejected'
	Reference       *string    `json:"reference,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsFinal reports whether the request has left the pending state.
func (w *WithdrawalRequest) IsFinal() bool {
	return w.Status == WithdrawalStatusPaid || w.Status == WithdrawalStatusRejected
}

// WithdrawRequest is the DTO accepted by POST /withdraw.
type WithdrawRequest struct {
	Amount  int64  `json:"amount"`
	EventID string `json:"event_id,omitempty"`
	OwnerID string `json:"owner_id,omitempty"` // admins only, e.g. "platform"
}

// PayWithdrawalRequest is the DTO accepted by POST /admin/withdraw/pay.
type PayWithdrawalRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	Reference    string `json:"reference"`
}

// RejectWithdrawalRequest is the DTO accepted by POST /admin/withdraw/reject.
type RejectWithdrawalRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	Reason       string `json:"reason"`
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
