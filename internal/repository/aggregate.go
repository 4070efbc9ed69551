package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type AggregateTotals struct {
	TotalHTG        int64
	TotalUSD        int64
	UserCount       int64
	PendingKYCCount int64
}

type AggregateRepository struct {
	db *DB
}

func NewAggregateRepository(db *sql.DB) *AggregateRepository {
	return &AggregateRepository{db: NewDB(db)}
}

// Totals sums committed user balances and counts users from one snapshot.
// Platform accounts and the system user are excluded.
func (r *AggregateRepository) Totals(ctx context.Context) (*AggregateTotals, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("Totals: %w", err)
	}
	defer tx.Rollback()

	var t AggregateTotals
	err = tx.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(balance) FILTER (WHERE currency = $1), 0),
			COALESCE(SUM(balance) FILTER (WHERE currency = $2), 0)
		FROM accounts WHERE account_type = $3`,
		domain.CurrencyHTG, domain.CurrencyUSD, domain.AccountTypeUser,
	).Scan(&t.TotalHTG, &t.TotalUSD)
	if err != nil {
		return nil, fmt.Errorf("Totals: balances: %w", storageErr(err))
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE kyc_status = $1)
		FROM users WHERE NOT is_system`,
		domain.KYCStatusPending,
	).Scan(&t.UserCount, &t.PendingKYCCount)
	if err != nil {
		return nil, fmt.Errorf("Totals: users: %w", storageErr(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Totals: commit: %w", storageErr(err))
	}
	return &t, nil
}
