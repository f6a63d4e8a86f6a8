package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

const withdrawalColumns = `
	id, owner_id, event_id, amount, status, reference, rejection_reason, created_at, updated_at
`

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.EventID,
		&req.Amount,
		&req.Status,
		&req.Reference,
		&req.RejectionReason,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// lockWalletBalance reads a wallet balance under a row lock for the rest of tx.
func lockWalletBalance(ctx context.Context, tx pgx.Tx, ownerID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	return balance, nil
}

// CreateWithdrawalRequest inserts a pending request after checking the wallet can cover it.
// The balance is not reserved; PayWithdrawalRequest re-checks it at approval time.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Status = domain.WithdrawalStatusPending

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	balance, err := lockWalletBalance(ctx, tx, req.OwnerID)
	if err != nil {
		return err
	}
	if req.Amount > balance {
		return ErrInsufficientFunds
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, owner_id, event_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`, req.ID, req.OwnerID, req.EventID, req.Amount, req.Status).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert withdrawal request: %w", err)
	}

	return tx.Commit(ctx)
}

// PayWithdrawalRequest debits the wallet balance and marks the request paid in one
// transaction. Total earned is never touched. When the balance no longer covers the
// amount the request stays pending.
func (r *PostgresRepository) PayWithdrawalRequest(ctx context.Context, withdrawalID uuid.UUID, payoutReference string) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := scanWithdrawal(tx.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`, withdrawalID))
	if err != nil {
		return nil, err
	}
	if req.Status != domain.WithdrawalStatusPending {
		return req, ErrWithdrawalAlreadyFinalized
	}

	balance, err := lockWalletBalance(ctx, tx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if req.Amount > balance {
		return req, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $2, updated_at = NOW()
		WHERE owner_id = $1
	`, req.OwnerID, req.Amount); err != nil {
		if isCheckViolation(err) {
			return req, ErrInsufficientFunds
		}
		return nil, fmt.Errorf("debit wallet: %w", err)
	}

	paid, err := scanWithdrawal(tx.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, reference = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+withdrawalColumns, withdrawalID, domain.WithdrawalStatusPaid, payoutReference))
	if err != nil {
		return nil, err
	}

	// Platform payouts carry no organizer amount; the audit row records the debit
	// against whichever wallet paid it.
	platformAmount, organizerAmount := int64(0), paid.Amount
	if paid.OwnerID == domain.PlatformWalletOwnerID {
		platformAmount, organizerAmount = paid.Amount, 0
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, organizer_id, event_id, reference, platform_fee_amount, organizer_amount, type, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`,
		uuid.New(),
		paid.OwnerID,
		paid.EventID,
		payoutReference,
		platformAmount,
		organizerAmount,
		domain.WalletTransactionTypeWithdrawal,
	); err != nil {
		return nil, fmt.Errorf("append withdrawal wallet transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return paid, nil
}

// RejectWithdrawalRequest moves a pending request to rejected with a single conditional
// write. Balances are unchanged.
func (r *PostgresRepository) RejectWithdrawalRequest(ctx context.Context, withdrawalID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	rejected, err := scanWithdrawal(r.db.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, rejection_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+withdrawalColumns,
		withdrawalID, domain.WithdrawalStatusRejected, reason, domain.WithdrawalStatusPending))
	if err == nil {
		return rejected, nil
	}
	if !errors.Is(err, ErrWithdrawalNotFound) {
		return nil, err
	}

	existing, err := r.FindWithdrawalRequestByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	return existing, ErrWithdrawalAlreadyFinalized
}

// FindWithdrawalRequestByID retrieves a withdrawal request.
func (r *PostgresRepository) FindWithdrawalRequestByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(r.db.QueryRow(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE id = $1
	`, withdrawalID))
}

// ListWithdrawalRequestsByOwner returns an owner's requests, newest first.
func (r *PostgresRepository) ListWithdrawalRequestsByOwner(ctx context.Context, ownerID string, limit int) ([]domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.WithdrawalRequest, 0)
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// FlagPayoutForReconciliation records a payout the provider completed but the wallet
// ledger could not absorb. The withdrawal itself is left as it is. While a flag for the
// withdrawal is open it is returned instead of a second one.
func (r *PostgresRepository) FlagPayoutForReconciliation(
	ctx context.Context,
	withdrawalID uuid.UUID,
	payoutReference string,
	cause string,
) (*domain.ReconciliationFlag, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin payout reconciliation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock serializes concurrent callbacks for the same withdrawal.
	var eventID *uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT event_id FROM withdrawal_requests WHERE id = $1 FOR UPDATE
	`, withdrawalID).Scan(&eventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("load withdrawal for reconciliation: %w", err)
	}

	existing, err := scanReconciliationFlag(tx.QueryRow(ctx, `
		SELECT `+reconciliationFlagColumns+`
		FROM reconciliation_flags
		WHERE withdrawal_id = $1 AND resolved_at IS NULL
	`, withdrawalID))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, ErrReconciliationFlagNotFound) {
		return nil, fmt.Errorf("load open payout flag: %w", err)
	}

	flag := &domain.ReconciliationFlag{
		ID:           uuid.New(),
		Reference:    payoutReference,
		EventID:      eventID,
		WithdrawalID: &withdrawalID,
		Stage:        domain.ReconciliationStagePayout,
		ErrorMessage: cause,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO reconciliation_flags (id, reference, event_id, withdrawal_id, stage, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`, flag.ID, flag.Reference, flag.EventID, flag.WithdrawalID, flag.Stage, flag.ErrorMessage).Scan(&flag.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert payout reconciliation flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return flag, nil
}
