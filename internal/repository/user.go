package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, kyc_status, status, referred_by, is_system, created_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.KYCStatus, &u.Status, &u.ReferredBy, &u.IsSystem, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", storageErr(err))
	}
	return &u, nil
}

// GetKYCStatus reads the owner's KYC status as recorded by the KYC workflow.
func (r *UserRepository) GetKYCStatus(ctx context.Context, id uuid.UUID) (domain.KYCStatus, error) {
	var status domain.KYCStatus
	err := r.db.QueryRowContext(ctx, `SELECT kyc_status FROM users WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("GetKYCStatus: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("GetKYCStatus: %w", storageErr(err))
	}
	return status, nil
}

// GetReferrer returns who referred the user, or nil.
func (r *UserRepository) GetReferrer(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	var referrer *uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT referred_by FROM users WHERE id = $1`, id).Scan(&referrer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetReferrer: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetReferrer: %w", storageErr(err))
	}
	return referrer, nil
}
