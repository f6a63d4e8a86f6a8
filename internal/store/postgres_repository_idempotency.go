package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

// ReservePaymentReference claims a payment reference for settlement. The claim itself is
// one conditional insert; only when it conflicts is the existing row read (under a row
// lock) to decide between a prior result, an in-flight request, or a stale claim.
func (r *PostgresRepository) ReservePaymentReference(
	ctx context.Context,
	reference string,
	eventID uuid.UUID,
	staleAfter time.Duration,
) (*domain.ReservationOutcome, error) {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reservation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimToken := uuid.New()
	insertResult, err := tx.Exec(ctx, `
		INSERT INTO payment_reservations (reference, event_id, status, claim_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (reference) DO NOTHING
	`, reference, eventID, domain.ReservationStatusProcessing, claimToken)
	if err != nil {
		return nil, fmt.Errorf("reserve payment reference: %w", err)
	}
	if insertResult.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &domain.ReservationOutcome{Acquired: true, ClaimToken: claimToken}, nil
	}

	// Staleness is judged on the database clock, the same clock that stamped updated_at.
	var (
		status       string
		ticketSaleID *uuid.UUID
		stale        bool
	)
	err = tx.QueryRow(ctx, `
		SELECT status, ticket_sale_id, updated_at < NOW() - make_interval(secs => $2)
		FROM payment_reservations
		WHERE reference = $1
		FOR UPDATE
	`, reference, staleAfter.Seconds()).Scan(&status, &ticketSaleID, &stale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Released between our insert and select; the caller may retry.
			return nil, ErrPurchaseInProgress
		}
		return nil, fmt.Errorf("load payment reservation: %w", err)
	}

	switch status {
	case domain.ReservationStatusCompleted:
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &domain.ReservationOutcome{AlreadyProcessed: true, TicketSaleID: ticketSaleID}, nil
	case domain.ReservationStatusFlagged:
		return nil, ErrSettlementUnderReview
	}

	if !stale {
		return nil, ErrPurchaseInProgress
	}

	// A new token invalidates the abandoned holder's claim.
	if _, err := tx.Exec(ctx, `
		UPDATE payment_reservations
		SET event_id = $2, claim_token = $3, updated_at = NOW()
		WHERE reference = $1 AND status = $4
	`, reference, eventID, claimToken, domain.ReservationStatusProcessing); err != nil {
		return nil, fmt.Errorf("reclaim stale payment reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.ReservationOutcome{Acquired: true, ClaimToken: claimToken}, nil
}

// ReleasePaymentReservation deletes a processing reservation so a legitimate retry can
// claim the reference again. Completed and flagged reservations are never released here.
func (r *PostgresRepository) ReleasePaymentReservation(ctx context.Context, reference string, claimToken uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM payment_reservations
		WHERE reference = $1 AND status = $2 AND claim_token = $3
	`, reference, domain.ReservationStatusProcessing, claimToken)
	return err
}

// ReleaseStalePaymentReservations expires processing reservations abandoned by crashed or
// timed-out requests, measuring their age on the database clock.
func (r *PostgresRepository) ReleaseStalePaymentReservations(ctx context.Context, staleAfter time.Duration) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM payment_reservations
		WHERE status = $1 AND updated_at < NOW() - make_interval(secs => $2)
	`, domain.ReservationStatusProcessing, staleAfter.Seconds())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
