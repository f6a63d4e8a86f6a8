package app

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ticketmarket/settlement-service/internal/domain"
	"github.com/ticketmarket/settlement-service/internal/store"
)

func settledTicket(t *testing.T, f *fixture, reference string) domain.TicketSale {
	t.Helper()
	f.gateway.succeed(reference, 5175)
	result, err := f.service.Purchase(context.Background(), f.request(reference, 1), "")
	if err != nil {
		t.Fatalf("purchase %s: %v", reference, err)
	}
	return *result.Sale
}

func TestRecordTicketUsageIsSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	sale := settledTicket(t, f, "ref-scan")

	first, err := f.service.RecordTicketUsage(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if !first.OK {
		t.Fatalf("expected first scan to admit, got %+v", first)
	}

	second, err := f.service.RecordTicketUsage(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.OK || second.Reason != domain.TicketUsageReasonAlreadyUsed {
		t.Fatalf("expected already_used, got %+v", second)
	}

	stored, _ := f.service.GetTicketSale(context.Background(), sale.ID)
	if !stored.Used || stored.UsedAt == nil {
		t.Fatalf("expected ticket to be marked used: %+v", stored)
	}
}

func TestRecordTicketUsageUnknownAndInvalidTickets(t *testing.T) {
	f := newFixture(t, nil)

	missing, err := f.service.RecordTicketUsage(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing.OK || missing.Reason != domain.TicketUsageReasonNotFound {
		t.Fatalf("expected not_found, got %+v", missing)
	}

	f.gateway.succeed("ref-failed", 5175)
	f.repo.FailSettlementAt(store.SettlementStageWalletTransaction, errInjected)
	if _, err := f.service.Purchase(context.Background(), f.request("ref-failed", 1), ""); err == nil {
		t.Fatalf("expected settlement failure")
	}
	failed, err := f.repo.FindTicketSaleByReference(context.Background(), "ref-failed")
	if err != nil {
		t.Fatalf("expected failed sale record: %v", err)
	}

	invalid, err := f.service.RecordTicketUsage(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invalid.OK || invalid.Reason != domain.TicketUsageReasonInvalid {
		t.Fatalf("expected invalid, got %+v", invalid)
	}
}

func TestConcurrentTicketScansAdmitOnce(t *testing.T) {
	f := newFixture(t, nil)
	sale := settledTicket(t, f, "ref-gate")

	const scanners = 30
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.service.RecordTicketUsage(context.Background(), sale.ID)
			if err != nil {
				t.Errorf("scan: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.OK {
				admitted++
			} else if result.Reason == domain.TicketUsageReasonAlreadyUsed {
				rejected++
			}
		}()
	}
	wg.Wait()

	if admitted != 1 || rejected != scanners-1 {
		t.Fatalf("expected 1 admission and %d rejections, got %d/%d", scanners-1, admitted, rejected)
	}
}
