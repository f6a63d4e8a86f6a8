/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access the
 * settlement-service performs. The application layer depends only on this interface,
 * which keeps the PostgreSQL implementation swappable in tests.
 *
 * @dependencies
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Event methods
	FindEventByID(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)

	// Idempotency guard methods. Reserve is a single conditional insert keyed by the
	// payment reference; completion happens inside SettleTicketSale.
	ReservePaymentReference(ctx context.Context, reference string, eventID uuid.UUID, staleAfter time.Duration) (*domain.ReservationOutcome, error)
	ReleasePaymentReservation(ctx context.Context, reference string, claimToken uuid.UUID) error
	ReleaseStalePaymentReservations(ctx context.Context, staleAfter time.Duration) (int64, error)

	// Settlement methods
	SettleTicketSale(ctx context.Context, settlement domain.Settlement) (*domain.TicketSale, error)
	FlagSettlementForReconciliation(ctx context.Context, sale domain.TicketSale, stage string, cause string) (*domain.ReconciliationFlag, error)
	ListOpenReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error)
	CountOpenReconciliationFlags(ctx context.Context) (int, error)
	ResolveReconciliationFlag(ctx context.Context, flagID uuid.UUID) (*domain.ReconciliationFlag, error)

	// Ticket sale methods
	FindTicketSaleByID(ctx context.Context, ticketID uuid.UUID) (*domain.TicketSale, error)
	FindTicketSaleByReference(ctx context.Context, reference string) (*domain.TicketSale, error)
	MarkTicketUsed(ctx context.Context, ticketID uuid.UUID) error

	// Wallet and withdrawal methods
	FindWalletByOwnerID(ctx context.Context, ownerID string) (*domain.WalletBalance, error)
	CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error
	PayWithdrawalRequest(ctx context.Context, withdrawalID uuid.UUID, payoutReference string) (*domain.WithdrawalRequest, error)
	RejectWithdrawalRequest(ctx context.Context, withdrawalID uuid.UUID, reason string) (*domain.WithdrawalRequest, error)
	FlagPayoutForReconciliation(ctx context.Context, withdrawalID uuid.UUID, payoutReference string, cause string) (*domain.ReconciliationFlag, error)
	FindWithdrawalRequestByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error)
	ListWithdrawalRequestsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.WithdrawalRequest, error)
}
