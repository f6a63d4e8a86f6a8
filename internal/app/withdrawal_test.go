package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

func TestRequestWithdrawalValidatesBalance(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.SetWallet(testOrganizerID, 10000, 10000)

	if _, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 10001); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := f.service.RequestWithdrawal(context.Background(), "user_unknown", nil, 100); !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	eventID := f.eventID
	req, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, &eventID, 10000)
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}
	if req.Status != domain.WithdrawalStatusPending || req.Amount != 10000 || req.EventID == nil {
		t.Fatalf("unexpected request: %+v", req)
	}

	// Creating a request does not move money.
	if wallet := f.wallet(t, testOrganizerID); wallet.Balance != 10000 {
		t.Fatalf("balance changed on request: %+v", wallet)
	}
}

func TestPayWithdrawalDebitsBalanceOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.SetWallet(testOrganizerID, 10000, 12000)

	req, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 4000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := f.service.PayWithdrawal(context.Background(), req.ID, "  "); !errors.Is(err, ErrInvalidPayoutReference) {
		t.Fatalf("expected ErrInvalidPayoutReference, got %v", err)
	}

	paid, err := f.service.PayWithdrawal(context.Background(), req.ID, "TRF_123")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.Status != domain.WithdrawalStatusPaid || paid.Reference == nil || *paid.Reference != "TRF_123" {
		t.Fatalf("unexpected paid request: %+v", paid)
	}

	wallet := f.wallet(t, testOrganizerID)
	if wallet.Balance != 6000 || wallet.TotalEarned != 12000 {
		t.Fatalf("expected balance 6000 and unchanged total earned, got %+v", wallet)
	}

	txs := f.repo.WalletTransactions()
	if len(txs) != 1 || txs[0].Type != domain.WalletTransactionTypeWithdrawal || txs[0].OrganizerAmount != 4000 || txs[0].Reference != "TRF_123" {
		t.Fatalf("unexpected wallet transactions: %+v", txs)
	}

	if _, err := f.service.PayWithdrawal(context.Background(), req.ID, "TRF_124"); !errors.Is(err, store.ErrWithdrawalAlreadyFinalized) {
		t.Fatalf("expected ErrWithdrawalAlreadyFinalized, got %v", err)
	}
	if _, err := f.service.RejectWithdrawal(context.Background(), req.ID, "late"); !errors.Is(err, store.ErrWithdrawalAlreadyFinalized) {
		t.Fatalf("expected reject of paid request to fail, got %v", err)
	}
	if wallet := f.wallet(t, testOrganizerID); wallet.Balance != 6000 {
		t.Fatalf("repeat approval must not debit again: %+v", wallet)
	}
}

func TestPayWithdrawalRechecksBalanceAtApproval(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.SetWallet(testOrganizerID, 10000, 10000)

	first, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 7000)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 7000)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if _, err := f.service.PayWithdrawal(context.Background(), first.ID, "TRF_1"); err != nil {
		t.Fatalf("pay first: %v", err)
	}
	if _, err := f.service.PayWithdrawal(context.Background(), second.ID, "TRF_2"); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	pending, _ := f.repo.FindWithdrawalRequestByID(context.Background(), second.ID)
	if pending.Status != domain.WithdrawalStatusPending {
		t.Fatalf("blocked request must stay pending, got %s", pending.Status)
	}
	if wallet := f.wallet(t, testOrganizerID); wallet.Balance != 3000 {
		t.Fatalf("expected balance 3000, got %+v", wallet)
	}
}

func TestConcurrentWithdrawalApprovalsNeverOverdraw(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.SetWallet(testOrganizerID, 10000, 10000)

	const requests = 10
	ids := make([]uuid.UUID, 0, requests)
	for i := 0; i < requests; i++ {
		req, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 3000)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		ids = append(ids, req.ID)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		paid int
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, err := f.service.PayWithdrawal(context.Background(), id, uuid.NewString())
			if err == nil {
				mu.Lock()
				paid++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrInsufficientFunds) {
				t.Errorf("approval %d: %v", i, err)
			}
		}(i, id)
	}
	wg.Wait()

	if paid != 3 {
		t.Fatalf("expected 3 payouts to fit the balance, got %d", paid)
	}
	if wallet := f.wallet(t, testOrganizerID); wallet.Balance != 1000 || wallet.Balance < 0 {
		t.Fatalf("unexpected balance after concurrent approvals: %+v", wallet)
	}
}

func TestRejectWithdrawalLeavesBalance(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.SetWallet(domain.PlatformWalletOwnerID, 5000, 5000)

	req, err := f.service.RequestWithdrawal(context.Background(), domain.PlatformWalletOwnerID, nil, 2500)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rejected, err := f.service.RejectWithdrawal(context.Background(), req.ID, "bank details invalid")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.WithdrawalStatusRejected || rejected.RejectionReason == nil || *rejected.RejectionReason != "bank details invalid" {
		t.Fatalf("unexpected rejected request: %+v", rejected)
	}
	if wallet := f.wallet(t, domain.PlatformWalletOwnerID); wallet.Balance != 5000 {
		t.Fatalf("reject must not change balance: %+v", wallet)
	}
	if _, err := f.service.RejectWithdrawal(context.Background(), uuid.New(), "x"); !errors.Is(err, store.ErrWithdrawalNotFound) {
		t.Fatalf("expected ErrWithdrawalNotFound, got %v", err)
	}

	list, err := f.service.ListWithdrawals(context.Background(), domain.PlatformWalletOwnerID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one withdrawal in list, got %d (%v)", len(list), err)
	}
}

func TestSettlementThenWithdrawalEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	f.gateway.succeed("ref-payout", 5175)
	if _, err := f.service.Purchase(context.Background(), f.request("ref-payout", 1), ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	req, err := f.service.RequestWithdrawal(context.Background(), testOrganizerID, nil, 4500)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.service.PayWithdrawal(context.Background(), req.ID, "TRF_9"); err != nil {
		t.Fatalf("pay: %v", err)
	}

	wallet, err := f.service.GetWallet(context.Background(), testOrganizerID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.Balance != 0 || wallet.TotalEarned != 4500 {
		t.Fatalf("unexpected wallet: %+v", wallet)
	}
}
