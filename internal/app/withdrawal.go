package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

const defaultWithdrawalListLimit = 50

// GetWallet returns the wallet for an owner ("platform" or an organizer id).
func (s *Service) GetWallet(ctx context.Context, ownerID string) (*domain.WalletBalance, error) {
	return s.repo.FindWalletByOwnerID(ctx, strings.TrimSpace(ownerID))
}

// RequestWithdrawal records a pending payout request. The balance is checked here and
// again when an admin approves the payout.
func (s *Service) RequestWithdrawal(ctx context.Context, ownerID string, eventID *uuid.UUID, amount int64) (*domain.WithdrawalRequest, error) {
	ownerID = strings.TrimSpace(ownerID)
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if ownerID == "" {
		return nil, store.ErrWalletNotFound
	}

	req := &domain.WithdrawalRequest{
		ID:      uuid.New(),
		OwnerID: ownerID,
		EventID: eventID,
		Amount:  amount,
		Status:  domain.WithdrawalStatusPending,
	}
	if err := s.repo.CreateWithdrawalRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) || errors.Is(err, store.ErrWalletNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("create withdrawal request: %w", err)
	}

	log.Printf("level=info component=withdrawal msg=\"withdrawal requested\" withdrawal_id=%s owner_id=%s amount=%d", req.ID, req.OwnerID, req.Amount)
	s.metrics.ObserveWithdrawal(domain.WithdrawalStatusPending)
	return req, nil
}

// PayWithdrawal debits the wallet and marks the request paid with the payout reference.
func (s *Service) PayWithdrawal(ctx context.Context, withdrawalID uuid.UUID, payoutReference string) (*domain.WithdrawalRequest, error) {
	payoutReference = strings.TrimSpace(payoutReference)
	if payoutReference == "" {
		return nil, ErrInvalidPayoutReference
	}

	paid, err := s.repo.PayWithdrawalRequest(ctx, withdrawalID, payoutReference)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			log.Printf("level=warn component=withdrawal msg=\"payout blocked, balance no longer covers request\" withdrawal_id=%s", withdrawalID)
		}
		return paid, err
	}

	log.Printf("level=info component=withdrawal msg=\"withdrawal paid\" withdrawal_id=%s owner_id=%s amount=%d reference=%s",
		paid.ID, paid.OwnerID, paid.Amount, payoutReference)
	s.metrics.ObserveWithdrawal(domain.WithdrawalStatusPaid)
	return paid, nil
}

// FlagUnappliedPayout queues a payout the provider reports as completed but the wallet
// could not be debited for. The withdrawal stays pending until an operator reconciles it.
func (s *Service) FlagUnappliedPayout(ctx context.Context, withdrawalID uuid.UUID, payoutReference string, cause error) (*domain.ReconciliationFlag, error) {
	payoutReference = strings.TrimSpace(payoutReference)
	log.Printf("level=critical component=withdrawal msg=\"payout completed but not applied, flagging for reconciliation\" withdrawal_id=%s reference=%s err=%v",
		withdrawalID, payoutReference, cause)
	s.metrics.ObserveReconciliationFlag(domain.ReconciliationStagePayout)

	flagCtx, cancel := detached(ctx, cleanupTimeout)
	defer cancel()
	flag, err := s.repo.FlagPayoutForReconciliation(flagCtx, withdrawalID, payoutReference, cause.Error())
	if err != nil {
		return nil, fmt.Errorf("flag payout for reconciliation: %w", err)
	}

	s.notifyReconciliationFlagged(flag)
	return flag, nil
}

// RejectWithdrawal closes a pending request without touching any balance.
func (s *Service) RejectWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	rejected, err := s.repo.RejectWithdrawalRequest(ctx, withdrawalID, strings.TrimSpace(reason))
	if err != nil {
		return rejected, err
	}

	log.Printf("level=info component=withdrawal msg=\"withdrawal rejected\" withdrawal_id=%s owner_id=%s reason=%q", rejected.ID, rejected.OwnerID, reason)
	s.metrics.ObserveWithdrawal(domain.WithdrawalStatusRejected)
	return rejected, nil
}

// ListWithdrawals returns an owner's requests, newest first.
func (s *Service) ListWithdrawals(ctx context.Context, ownerID string) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListWithdrawalRequestsByOwner(ctx, strings.TrimSpace(ownerID), defaultWithdrawalListLimit)
}
