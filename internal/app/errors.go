package app

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPurchaseRequest = errors.New("invalid purchase request")
	// ErrGatewayUnreachable is retryable; the reservation has been released.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	ErrReferenceNotFound  = errors.New("payment reference not found")
	ErrVerificationFailed = errors.New("payment not verified")
	ErrAmountMismatch     = errors.New("paid amount does not match ticket price")
	// ErrSettlementFailed means the settlement transaction failed before any write.
	ErrSettlementFailed = errors.New("settlement failed")
	// ErrPartialCommit means the settlement outcome is unknown and has been flagged.
	ErrPartialCommit          = errors.New("settlement outcome unknown; flagged for reconciliation")
	ErrRateLimited            = errors.New("too many purchase attempts")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrInvalidPayoutReference = errors.New("payout reference is required")
)

// RateLimitError carries the retry hint of a rejected purchase attempt.
type RateLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s limit reached, retry in %ds", ErrRateLimited, e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

func invalidPurchase(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPurchaseRequest, reason)
}
