package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

// OpenAccount creates an empty, active account for owner in currency.
// Balances only ever change through committed transactions, so a new
// account starts at version 0.
func (e *Engine) OpenAccount(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*domain.Account, error) {
	if !currency.IsValid() {
		return nil, fmt.Errorf("OpenAccount: %w", domain.ErrInvalidCurrency)
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	account := &domain.Account{
		ID:          uuid.New(),
		UserID:      ownerID,
		Currency:    currency,
		AccountType: domain.AccountTypeUser,
		Status:      domain.AccountStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("OpenAccount: %w", err)
	}

	logging.FromContext(ctx).Info("account opened",
		"account_id", account.ID,
		"owner_id", ownerID,
		"currency", currency,
	)
	return account, nil
}
