package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const transactionColumns = `id, kind, status, source_account_id, dest_account_id, amount, fee_amount,
	currency, idempotency_key, related_transaction_id, reason,
	source_balance_after, dest_balance_after, created_at`

// Cursor marks the last row of a history page. Rows strictly older than the
// cursor in (created_at, id) order come next.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", storageErr(err))
	}
	return t, nil
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key,
	)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", storageErr(err))
	}
	return t, nil
}

// ListLinked returns the fee transactions recorded alongside id.
func (r *TransactionRepository) ListLinked(ctx context.Context, id uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE related_transaction_id = $1 AND kind = $2
		ORDER BY created_at, id`,
		id, domain.KindFee,
	)
	if err != nil {
		return nil, fmt.Errorf("ListLinked: %w", storageErr(err))
	}
	defer rows.Close()

	return collectTransactions(rows, "ListLinked")
}

// ListByOwner pages through every transaction touching any of the owner's
// accounts, newest first.
func (r *TransactionRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, after *Cursor, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE (source_account_id IN (SELECT id FROM accounts WHERE user_id = $1)
			OR dest_account_id IN (SELECT id FROM accounts WHERE user_id = $1))`
	args := []any{ownerID}

	if after != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, after.CreatedAt, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", storageErr(err))
	}
	defer rows.Close()

	return collectTransactions(rows, "ListByOwner")
}

// SumCommitted totals committed transactions of kind on accountID since the
// given instant. Inbound kinds are matched on the destination side, the rest
// on the source side.
func (r *TransactionRepository) SumCommitted(ctx context.Context, accountID uuid.UUID, kind domain.TransactionKind, since time.Time) (int64, error) {
	side := "source_account_id"
	if kind == domain.KindDeposit || kind == domain.KindCommission {
		side = "dest_account_id"
	}

	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE `+side+` = $1 AND kind = $2 AND status = $3 AND created_at >= $4`,
		accountID, kind, domain.TransactionStatusCommitted, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("SumCommitted: %w", storageErr(err))
	}
	return total, nil
}

func collectTransactions(rows *sql.Rows, op string) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, storageErr(err))
	}
	return txs, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Kind, t.Status, t.SourceAccountID, t.DestAccountID, t.Amount, t.FeeAmount,
		t.Currency, t.IdempotencyKey, t.RelatedTransactionID, t.Reason,
		t.SourceBalanceAfter, t.DestBalanceAfter, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "transactions_idempotency_key_key") {
			return fmt.Errorf("insertTransaction: %w", domain.ErrDuplicateOperation)
		}
		return fmt.Errorf("insertTransaction: %w", storageErr(err))
	}
	return nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.Scan(
		&t.ID, &t.Kind, &t.Status, &t.SourceAccountID, &t.DestAccountID, &t.Amount, &t.FeeAmount,
		&t.Currency, &t.IdempotencyKey, &t.RelatedTransactionID, &t.Reason,
		&t.SourceBalanceAfter, &t.DestBalanceAfter, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
