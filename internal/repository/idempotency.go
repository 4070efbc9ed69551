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

const idempotencyColumns = `idempotency_key, owner_id, request_hash, status, transaction_id,
	error_code, response, locked_at, completed_at, expires_at`

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Claim inserts an in-progress record for the key. It reports false when a
// record for the key already exists.
func (r *IdempotencyRepository) Claim(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (idempotency_key, owner_id, request_hash, status, locked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.Key, rec.OwnerID, rec.RequestHash, domain.IdempotencyStatusInProgress, rec.LockedAt, rec.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("Claim: %w", storageErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Claim: rows affected: %w", storageErr(err))
	}
	return n == 1, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_records WHERE idempotency_key = $1`, key,
	).Scan(
		&rec.Key, &rec.OwnerID, &rec.RequestHash, &rec.Status, &rec.TransactionID,
		&rec.ErrorCode, &rec.Response, &rec.LockedAt, &rec.CompletedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", storageErr(err))
	}
	return &rec, nil
}

// Complete records the outcome. Only an in-progress record transitions; a
// second completion is reported as ErrDuplicateOperation.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, transactionID *uuid.UUID, errorCode *string, response []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_records
		SET status = $1, transaction_id = $2, error_code = $3, response = $4, completed_at = now()
		WHERE idempotency_key = $5 AND status = $6`,
		domain.IdempotencyStatusCompleted, transactionID, errorCode, nullableJSON(response),
		key, domain.IdempotencyStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("Complete: %w", storageErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Complete: rows affected: %w", storageErr(err))
	}
	if n == 0 {
		return fmt.Errorf("Complete: %w", domain.ErrDuplicateOperation)
	}
	return nil
}

// Release deletes an in-progress claim so the key can be executed again.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE idempotency_key = $1 AND status = $2`,
		key, domain.IdempotencyStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", storageErr(err))
	}
	return nil
}

// TakeOver re-claims an in-progress record whose lock is older than
// staleBefore. Exactly one concurrent caller wins.
func (r *IdempotencyRepository) TakeOver(ctx context.Context, key string, staleBefore, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_records SET locked_at = $1
		WHERE idempotency_key = $2 AND status = $3 AND locked_at < $4`,
		now, key, domain.IdempotencyStatusInProgress, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("TakeOver: %w", storageErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("TakeOver: rows affected: %w", storageErr(err))
	}
	return n == 1, nil
}

func (r *IdempotencyRepository) CleanExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: %w", storageErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: rows affected: %w", err)
	}
	return n, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
