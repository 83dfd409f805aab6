package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

const transactionColumns = `id, subscription_id, amount, currency, status, gateway_reference, error_message, metadata, created_at, updated_at`

// TransactionRepository implements ports.TransactionRepository against PostgreSQL
type TransactionRepository struct {
	db ports.DBPort
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db ports.DBPort) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx ports.DBTX, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	amount, err := decimalToNumeric(txn.Amount)
	if err != nil {
		return err
	}
	var metadata []byte
	if txn.Metadata != nil {
		metadata, err = json.Marshal(txn.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	} else {
		metadata = []byte("{}")
	}

	err = r.q(tx).QueryRow(ctx, `
		INSERT INTO transactions (id, subscription_id, amount, currency, status, gateway_reference, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		txn.ID, txn.SubscriptionID, amount, txn.Currency, string(txn.Status),
		nullText(txn.GatewayReference), nullText(txn.ErrorMessage), metadata,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction. Missing rows map to the domain not-found error.
func (r *TransactionRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Transaction, error) {
	row := r.q(tx).QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

// ListBySubscription returns a subscription's transactions, newest first.
func (r *TransactionRepository) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE subscription_id = $1 ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// UpdateStatus transitions a transaction. Once a transaction reaches a
// terminal gateway outcome the row is immutable except for the refund
// lifecycle; the guard enforces that in SQL so concurrent writers cannot
// race past it.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.TransactionStatus, gatewayRef, errorMessage string) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE transactions
		SET status = $2,
		    gateway_reference = COALESCE(NULLIF($3, ''), gateway_reference),
		    error_message = NULLIF($4, ''),
		    updated_at = now()
		WHERE id = $1
		  AND (status IN ('pending', 'processing')
		       OR (status = 'success' AND $2 LIKE 'refund%')
		       OR (status = 'refund_initiated' AND $2 IN ('refund_complete', 'refund_error')))`,
		id, string(status), gatewayRef, errorMessage)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is missing or it already settled.
		existing, gerr := r.GetByID(ctx, tx, id)
		if gerr != nil {
			return gerr
		}
		if existing.Status.IsTerminal() {
			return domain.ErrTransactionTerminal
		}
		return domain.ErrTransactionNotFound
	}
	return nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var amount pgtype.Numeric
	var status string
	var gatewayRef, errorMessage pgtype.Text
	var metadata []byte
	if err := row.Scan(&t.ID, &t.SubscriptionID, &amount, &t.Currency, &status,
		&gatewayRef, &errorMessage, &metadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	dec, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	t.Amount = dec
	t.Status = models.TransactionStatus(status)
	t.GatewayReference = gatewayRef.String
	t.ErrorMessage = errorMessage.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}
