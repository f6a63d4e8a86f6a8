/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Event, ticket sale and wallet reads plus the ticket usage compare-and-set live here;
 * the idempotency guard, settlement transaction and withdrawal workflow are in the
 * sibling postgres_repository_*.go files.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketmarket/settlement-service/internal/domain"
)

// PostgresRepository is the concrete implementation of the Repository for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const ticketSaleColumns = `
	id, event_id, reference, buyer_email, buyer_name, buyer_phone, ticket_label,
	unit_amount, quantity, total_amount, fee_amount, platform_fee, organizer_amount,
	status, used, used_at, created_at
`

func scanTicketSale(row pgx.Row) (*domain.TicketSale, error) {
	var sale domain.TicketSale
	err := row.Scan(
		&sale.ID,
		&sale.EventID,
		&sale.Reference,
		&sale.BuyerEmail,
		&sale.BuyerName,
		&sale.BuyerPhone,
		&sale.TicketLabel,
		&sale.UnitAmount,
		&sale.Quantity,
		&sale.TotalAmount,
		&sale.FeeAmount,
		&sale.PlatformFee,
		&sale.OrganizerAmount,
		&sale.Status,
		&sale.Used,
		&sale.UsedAt,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketSaleNotFound
		}
		return nil, err
	}
	return &sale, nil
}

// FindEventByID loads an event with its ticket catalog.
func (r *PostgresRepository) FindEventByID(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	var event domain.Event
	query := `
		SELECT id, organizer_id, title, currency, platform_fee_percent, tickets_sold, revenue, created_at
		FROM events
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&event.ID,
		&event.OrganizerID,
		&event.Title,
		&event.Currency,
		&event.PlatformFeePercent,
		&event.TicketsSold,
		&event.Revenue,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT label, amount, currency
		FROM event_ticket_types
		WHERE event_id = $1
		ORDER BY position, label
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("load ticket types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tt domain.TicketType
		if err := rows.Scan(&tt.Label, &tt.Amount, &tt.Currency); err != nil {
			return nil, err
		}
		event.TicketTypes = append(event.TicketTypes, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &event, nil
}

// FindTicketSaleByID retrieves a ticket sale by its id.
func (r *PostgresRepository) FindTicketSaleByID(ctx context.Context, ticketID uuid.UUID) (*domain.TicketSale, error) {
	query := `SELECT ` + ticketSaleColumns + ` FROM ticket_sales WHERE id = $1`
	return scanTicketSale(r.db.QueryRow(ctx, query, ticketID))
}

// FindTicketSaleByReference retrieves the ticket sale recorded for a payment reference.
func (r *PostgresRepository) FindTicketSaleByReference(ctx context.Context, reference string) (*domain.TicketSale, error) {
	query := `SELECT ` + ticketSaleColumns + ` FROM ticket_sales WHERE reference = $1`
	return scanTicketSale(r.db.QueryRow(ctx, query, reference))
}

// MarkTicketUsed flips used false->true with a single conditional write. When no row
// changes, the current row is inspected only to classify the outcome.
func (r *PostgresRepository) MarkTicketUsed(ctx context.Context, ticketID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE ticket_sales
		SET used = TRUE, used_at = NOW()
		WHERE id = $1 AND used = FALSE AND status = $2
	`, ticketID, domain.TicketSaleStatusSuccess)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var (
		used   bool
		status string
	)
	err = r.db.QueryRow(ctx, `SELECT used, status FROM ticket_sales WHERE id = $1`, ticketID).Scan(&used, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTicketSaleNotFound
		}
		return err
	}
	if status != domain.TicketSaleStatusSuccess {
		return ErrTicketInvalid
	}
	if used {
		return ErrTicketAlreadyUsed
	}
	// The row exists, is valid and unused, yet the update did not apply; only possible
	// if it changed between the two statements.
	return ErrTicketAlreadyUsed
}

// FindWalletByOwnerID retrieves a wallet by owner id ("platform" or an organizer id).
func (r *PostgresRepository) FindWalletByOwnerID(ctx context.Context, ownerID string) (*domain.WalletBalance, error) {
	var wallet domain.WalletBalance
	err := r.db.QueryRow(ctx, `
		SELECT owner_id, balance, total_earned, updated_at
		FROM wallets
		WHERE owner_id = $1
	`, ownerID).Scan(&wallet.OwnerID, &wallet.Balance, &wallet.TotalEarned, &wallet.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}
