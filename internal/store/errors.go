package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrEventNotFound              = errors.New("event not found")
	ErrTicketSaleNotFound         = errors.New("ticket sale not found")
	ErrTicketAlreadyUsed          = errors.New("ticket already used")
	ErrTicketInvalid              = errors.New("ticket is not valid for entry")
	ErrWalletNotFound             = errors.New("wallet not found")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrWithdrawalNotFound         = errors.New("withdrawal request not found")
	ErrWithdrawalAlreadyFinalized = errors.New("withdrawal request already finalized")
	ErrPurchaseInProgress         = errors.New("payment reference is already being processed")
	ErrSettlementUnderReview      = errors.New("payment reference is flagged for reconciliation")
	ErrReservationLost            = errors.New("payment reservation is no longer held")
	ErrReconciliationFlagNotFound = errors.New("reconciliation flag not found")
	ErrReconciliationFlagResolved = errors.New("reconciliation flag already resolved")
)

// Settlement stages, in the order the settlement transaction executes them.
const (
	SettlementStageBegin             = "begin"
	SettlementStageReservation       = "reservation"
	SettlementStageEventAggregate    = "event_aggregate"
	SettlementStagePlatformWallet    = "platform_wallet"
	SettlementStageOrganizerWallet   = "organizer_wallet"
	SettlementStageWalletTransaction = "wallet_transaction"
	SettlementStageTicketSale        = "ticket_sale"
	SettlementStageCommit            = "commit"
)

// SettlementError reports the stage at which the settlement transaction failed.
// Mutated is true once a wallet write had been issued; from that point the outcome
// must be reconciled rather than silently retried.
type SettlementError struct {
	Stage   string
	Mutated bool
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed at %s: %v", e.Stage, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

func settlementErr(stage string, mutated bool, err error) error {
	return &SettlementError{Stage: stage, Mutated: mutated, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
