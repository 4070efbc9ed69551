package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

const entryColumns = `id, transaction_id, account_id, entry_type, amount,
	balance_before, balance_after, version, created_at`

type LedgerEntryRepository struct {
	db *sql.DB
}

func NewLedgerEntryRepository(db *sql.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// ListByAccount returns the account's entries in version order.
func (r *LedgerEntryRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY version`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", storageErr(err))
	}
	defer rows.Close()

	return collectEntries(rows, "ListByAccount")
}

func (r *LedgerEntryRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at, version`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByTransaction: %w", storageErr(err))
	}
	defer rows.Close()

	return collectEntries(rows, "ListByTransaction")
}

func collectEntries(rows *sql.Rows, op string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.TransactionID, &e.AccountID, &e.EntryType, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Version, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, storageErr(err))
	}
	return entries, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TransactionID, e.AccountID, e.EntryType, e.Amount,
		e.BalanceBefore, e.BalanceAfter, e.Version, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "ledger_entries_account_id_version_key") {
			return fmt.Errorf("insertEntry: %w", domain.ErrVersionConflict)
		}
		return fmt.Errorf("insertEntry: %w", storageErr(err))
	}
	return nil
}
