package app

import (
	"errors"
	"testing"

	"github.com/ticketmarket/settlement-service/internal/domain"
)

func TestComputeFees(t *testing.T) {
	tests := []struct {
		name     string
		unit     int64
		qty      int
		pct      int
		expected domain.FeeBreakdown
	}{
		{
			name: "two tickets at custom rate",
			unit: 5000, qty: 2, pct: 8,
			expected: domain.FeeBreakdown{
				UnitAmount: 5000, Quantity: 2, TotalAmount: 10000,
				ProcessorFee: 350, BuyerTotal: 10350,
				PlatformFeePercent: 8, PlatformFee: 800, OrganizerAmount: 9200,
			},
		},
		{
			name: "single ticket at default rate",
			unit: 5000, qty: 1, pct: DefaultPlatformFeePercent,
			expected: domain.FeeBreakdown{
				UnitAmount: 5000, Quantity: 1, TotalAmount: 5000,
				ProcessorFee: 175, BuyerTotal: 5175,
				PlatformFeePercent: 10, PlatformFee: 500, OrganizerAmount: 4500,
			},
		},
		{
			name: "processor fee rounds up and platform fee rounds down",
			unit: 333, qty: 3, pct: 7,
			expected: domain.FeeBreakdown{
				UnitAmount: 333, Quantity: 3, TotalAmount: 999,
				ProcessorFee: 15 + 300, BuyerTotal: 999 + 315,
				PlatformFeePercent: 7, PlatformFee: 69, OrganizerAmount: 930,
			},
		},
		{
			name: "zero platform fee",
			unit: 2000, qty: 1, pct: 0,
			expected: domain.FeeBreakdown{
				UnitAmount: 2000, Quantity: 1, TotalAmount: 2000,
				ProcessorFee: 130, BuyerTotal: 2130,
				PlatformFeePercent: 0, PlatformFee: 0, OrganizerAmount: 2000,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeFees(tc.unit, tc.qty, tc.pct)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Fatalf("ComputeFees(%d, %d, %d) = %+v, want %+v", tc.unit, tc.qty, tc.pct, got, tc.expected)
			}
			if got.PlatformFee+got.OrganizerAmount != got.TotalAmount {
				t.Fatalf("shares do not sum to total: %+v", got)
			}
		})
	}
}

func TestComputeFeesRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		unit int64
		qty  int
		pct  int
	}{
		{name: "zero unit", unit: 0, qty: 1, pct: 10},
		{name: "negative quantity", unit: 100, qty: -1, pct: 10},
		{name: "overflow", unit: 1 << 60, qty: 16, pct: 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeFees(tc.unit, tc.qty, tc.pct)
			if !errors.Is(err, ErrInvalidPurchaseRequest) {
				t.Fatalf("expected ErrInvalidPurchaseRequest, got %v", err)
			}
		})
	}

	if _, err := ComputeFees(100, 1, 101); err == nil {
		t.Fatalf("expected error for percent above 100")
	}
}

func TestPlatformFeePercentFor(t *testing.T) {
	eight := 8
	outOfRange := 140
	if got := platformFeePercentFor(&domain.Event{PlatformFeePercent: &eight}, 10); got != 8 {
		t.Fatalf("expected event rate 8, got %d", got)
	}
	if got := platformFeePercentFor(&domain.Event{}, 12); got != 12 {
		t.Fatalf("expected fallback 12, got %d", got)
	}
	if got := platformFeePercentFor(&domain.Event{PlatformFeePercent: &outOfRange}, 10); got != 10 {
		t.Fatalf("expected fallback for out-of-range rate, got %d", got)
	}
}
