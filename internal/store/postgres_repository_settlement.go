package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

// SettleTicketSale applies every write of a verified purchase in one transaction:
// reservation completion, event aggregate, platform and organizer wallets, the
// wallet transaction audit row and the ticket sale itself.
//
// Every counter write is an atomic `x = x + $n`, so concurrent settlements compose in
// any order under READ COMMITTED without read-modify-write races.
func (r *PostgresRepository) SettleTicketSale(ctx context.Context, settlement domain.Settlement) (*domain.TicketSale, error) {
	sale := settlement.Sale
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	sale.Status = domain.TicketSaleStatusSuccess
	sale.Used = false
	sale.UsedAt = nil

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, settlementErr(SettlementStageBegin, false, err)
	}
	defer tx.Rollback(ctx)

	// Completing the reservation first takes its row lock, so a holder whose stale
	// claim was reclaimed stops here before touching any balance.
	reservationResult, err := tx.Exec(ctx, `
		UPDATE payment_reservations
		SET status = $3, ticket_sale_id = $4, updated_at = NOW()
		WHERE reference = $1 AND claim_token = $2 AND status = $5
	`, sale.Reference, settlement.ClaimToken, domain.ReservationStatusCompleted, sale.ID, domain.ReservationStatusProcessing)
	if err != nil {
		return nil, settlementErr(SettlementStageReservation, false, err)
	}
	if reservationResult.RowsAffected() != 1 {
		return nil, settlementErr(SettlementStageReservation, false, ErrReservationLost)
	}

	eventResult, err := tx.Exec(ctx, `
		UPDATE events
		SET tickets_sold = tickets_sold + $2, revenue = revenue + $3, updated_at = NOW()
		WHERE id = $1
	`, sale.EventID, sale.Quantity, sale.TotalAmount)
	if err != nil {
		return nil, settlementErr(SettlementStageEventAggregate, false, err)
	}
	if eventResult.RowsAffected() != 1 {
		return nil, settlementErr(SettlementStageEventAggregate, false, ErrEventNotFound)
	}

	creditQuery := `
		INSERT INTO wallets (owner_id, balance, total_earned, updated_at)
		VALUES ($1, $2, $2, NOW())
		ON CONFLICT (owner_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance,
			total_earned = wallets.total_earned + EXCLUDED.total_earned,
			updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, creditQuery, domain.PlatformWalletOwnerID, sale.PlatformFee); err != nil {
		return nil, settlementErr(SettlementStagePlatformWallet, true, err)
	}
	if _, err := tx.Exec(ctx, creditQuery, settlement.OrganizerID, sale.OrganizerAmount); err != nil {
		return nil, settlementErr(SettlementStageOrganizerWallet, true, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, organizer_id, event_id, reference, platform_fee_amount, organizer_amount, type, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`,
		uuid.New(),
		settlement.OrganizerID,
		sale.EventID,
		sale.Reference,
		sale.PlatformFee,
		sale.OrganizerAmount,
		domain.WalletTransactionTypeTicketSale,
	); err != nil {
		return nil, settlementErr(SettlementStageWalletTransaction, true, err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ticket_sales (
			id, event_id, reference, buyer_email, buyer_name, buyer_phone, ticket_label,
			unit_amount, quantity, total_amount, fee_amount, platform_fee, organizer_amount,
			status, used, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, NOW())
		RETURNING created_at
	`,
		sale.ID,
		sale.EventID,
		sale.Reference,
		sale.BuyerEmail,
		sale.BuyerName,
		sale.BuyerPhone,
		sale.TicketLabel,
		sale.UnitAmount,
		sale.Quantity,
		sale.TotalAmount,
		sale.FeeAmount,
		sale.PlatformFee,
		sale.OrganizerAmount,
		sale.Status,
	).Scan(&sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("ticket sale already recorded for reference %s: %w", sale.Reference, err)
		}
		return nil, settlementErr(SettlementStageTicketSale, true, err)
	}

	if err := tx.Commit(ctx); err != nil {
		// The server may have applied the commit before the connection failed.
		return nil, settlementErr(SettlementStageCommit, true, err)
	}
	return &sale, nil
}

// FlagSettlementForReconciliation records a settlement whose outcome could not be
// confirmed. It stores the flag, records a failed ticket sale unless one already exists
// for the reference, and marks the reservation flagged so retries wait for review.
func (r *PostgresRepository) FlagSettlementForReconciliation(
	ctx context.Context,
	sale domain.TicketSale,
	stage string,
	cause string,
) (*domain.ReconciliationFlag, error) {
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reconciliation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ON CONFLICT keeps a committed success row intact when the commit was ambiguous.
	if _, err := tx.Exec(ctx, `
		INSERT INTO ticket_sales (
			id, event_id, reference, buyer_email, buyer_name, buyer_phone, ticket_label,
			unit_amount, quantity, total_amount, fee_amount, platform_fee, organizer_amount,
			status, used, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE, NOW())
		ON CONFLICT (reference) DO NOTHING
	`,
		sale.ID,
		sale.EventID,
		sale.Reference,
		sale.BuyerEmail,
		sale.BuyerName,
		sale.BuyerPhone,
		sale.TicketLabel,
		sale.UnitAmount,
		sale.Quantity,
		sale.TotalAmount,
		sale.FeeAmount,
		sale.PlatformFee,
		sale.OrganizerAmount,
		domain.TicketSaleStatusFailed,
	); err != nil {
		return nil, fmt.Errorf("record failed ticket sale: %w", err)
	}

	var ticketSaleID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM ticket_sales WHERE reference = $1`, sale.Reference).Scan(&ticketSaleID); err != nil {
		return nil, fmt.Errorf("load ticket sale for reconciliation: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payment_reservations (reference, event_id, status, claim_token, ticket_sale_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (reference) DO UPDATE
		SET status = EXCLUDED.status, ticket_sale_id = EXCLUDED.ticket_sale_id, updated_at = NOW()
	`, sale.Reference, sale.EventID, domain.ReservationStatusFlagged, uuid.New(), ticketSaleID); err != nil {
		return nil, fmt.Errorf("flag payment reservation: %w", err)
	}

	flag := &domain.ReconciliationFlag{
		ID:           uuid.New(),
		Reference:    sale.Reference,
		EventID:      &sale.EventID,
		TicketSaleID: &ticketSaleID,
		Stage:        stage,
		ErrorMessage: cause,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO reconciliation_flags (id, reference, event_id, ticket_sale_id, stage, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`, flag.ID, flag.Reference, flag.EventID, flag.TicketSaleID, flag.Stage, flag.ErrorMessage).Scan(&flag.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert reconciliation flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return flag, nil
}

const reconciliationFlagColumns = `
	id, reference, event_id, ticket_sale_id, withdrawal_id, stage, error_message, resolution, created_at, resolved_at
`

func scanReconciliationFlag(row pgx.Row) (*domain.ReconciliationFlag, error) {
	var flag domain.ReconciliationFlag
	err := row.Scan(
		&flag.ID,
		&flag.Reference,
		&flag.EventID,
		&flag.TicketSaleID,
		&flag.WithdrawalID,
		&flag.Stage,
		&flag.ErrorMessage,
		&flag.Resolution,
		&flag.CreatedAt,
		&flag.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReconciliationFlagNotFound
		}
		return nil, err
	}
	return &flag, nil
}

// ListOpenReconciliationFlags returns unresolved flags, oldest first.
func (r *PostgresRepository) ListOpenReconciliationFlags(ctx context.Context, limit int) ([]domain.ReconciliationFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+reconciliationFlagColumns+`
		FROM reconciliation_flags
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := make([]domain.ReconciliationFlag, 0)
	for rows.Next() {
		flag, err := scanReconciliationFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, *flag)
	}
	return flags, rows.Err()
}

// CountOpenReconciliationFlags returns the number of unresolved flags.
func (r *PostgresRepository) CountOpenReconciliationFlags(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation_flags WHERE resolved_at IS NULL`).Scan(&count)
	return count, err
}

// ResolveReconciliationFlag closes a flag after deciding what actually committed. If the
// ticket_sale wallet transaction exists the settlement landed and the reservation is
// completed; otherwise the failed sale and reservation are removed so the buyer can retry.
// Payout flags are only marked acknowledged; their ledger correction is manual.
func (r *PostgresRepository) ResolveReconciliationFlag(ctx context.Context, flagID uuid.UUID) (*domain.ReconciliationFlag, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin resolve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	flag, err := scanReconciliationFlag(tx.QueryRow(ctx, `
		SELECT `+reconciliationFlagColumns+`
		FROM reconciliation_flags
		WHERE id = $1
		FOR UPDATE
	`, flagID))
	if err != nil {
		return nil, err
	}
	if flag.ResolvedAt != nil {
		return nil, ErrReconciliationFlagResolved
	}

	resolution := domain.ReconciliationResolutionAcknowledged
	if !flag.IsPayout() {
		if resolution, err = resolveSettlementFlag(ctx, tx, flag.Reference); err != nil {
			return nil, err
		}
	}

	resolved, err := scanReconciliationFlag(tx.QueryRow(ctx, `
		UPDATE reconciliation_flags
		SET resolution = $2, resolved_at = NOW()
		WHERE id = $1
		RETURNING `+reconciliationFlagColumns, flagID, resolution))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return resolved, nil
}

// resolveSettlementFlag completes or releases the reservation behind a settlement flag
// and reports which it did.
func resolveSettlementFlag(ctx context.Context, tx pgx.Tx, reference string) (string, error) {
	var settled bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions WHERE reference = $1 AND type = $2
		)
	`, reference, domain.WalletTransactionTypeTicketSale).Scan(&settled); err != nil {
		return "", fmt.Errorf("check settlement ledger: %w", err)
	}

	resolution := domain.ReconciliationResolutionReleased
	if settled {
		resolution = domain.ReconciliationResolutionConfirmed
		var saleID uuid.UUID
		if err := tx.QueryRow(ctx, `
			SELECT id FROM ticket_sales WHERE reference = $1 AND status = $2
		`, reference, domain.TicketSaleStatusSuccess).Scan(&saleID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", fmt.Errorf("ledger entry without successful ticket sale for %s: %w", reference, ErrTicketSaleNotFound)
			}
			return "", err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE payment_reservations
			SET status = $2, ticket_sale_id = $3, updated_at = NOW()
			WHERE reference = $1
		`, reference, domain.ReservationStatusCompleted, saleID); err != nil {
			return "", fmt.Errorf("complete reservation: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			DELETE FROM ticket_sales WHERE reference = $1 AND status = $2
		`, reference, domain.TicketSaleStatusFailed); err != nil {
			return "", fmt.Errorf("remove failed ticket sale: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM payment_reservations WHERE reference = $1`, reference); err != nil {
			return "", fmt.Errorf("release reservation: %w", err)
		}
	}
	return resolution, nil
}
