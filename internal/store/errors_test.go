package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestSettlementErrorUnwrapsCause(t *testing.T) {
	err := fmt.Errorf("settle: %w", settlementErr(SettlementStageTicketSale, true, ErrEventNotFound))

	var settleErr *SettlementError
	if !errors.As(err, &settleErr) {
		t.Fatalf("expected SettlementError in chain, got %v", err)
	}
	if settleErr.Stage != SettlementStageTicketSale || !settleErr.Mutated {
		t.Fatalf("unexpected settlement error fields: %+v", settleErr)
	}
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
}

func TestPgErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		unique    bool
		violation bool
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, unique: true},
		{name: "check", err: &pgconn.PgError{Code: "23514"}, violation: true},
		{name: "wrapped unique", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), unique: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUniqueViolation(tc.err); got != tc.unique {
				t.Fatalf("isUniqueViolation = %v, want %v", got, tc.unique)
			}
			if got := isCheckViolation(tc.err); got != tc.violation {
				t.Fatalf("isCheckViolation = %v, want %v", got, tc.violation)
			}
		})
	}
}
