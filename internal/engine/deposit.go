package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
)

type DepositRequest struct {
	OwnerID        uuid.UUID
	Currency       domain.Currency
	Amount         int64
	IdempotencyKey string
}

// Deposit credits the owner's account with funds that arrived from outside
// the ledger.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (*domain.Transaction, error) {
	var dest *domain.Account
	key := ownerKey(req.OwnerID, req.IdempotencyKey)

	op := operation{
		name:     "deposit",
		kind:     domain.KindDeposit,
		owner:    req.OwnerID,
		currency: req.Currency,
		amount:   req.Amount,
		key:      key,
		fingerprint: idempotency.Fingerprint(string(domain.KindDeposit),
			req.OwnerID.String(), string(req.Currency), strconv.FormatInt(req.Amount, 10)),
		resolve: func(ctx context.Context) error {
			a, err := e.store.GetAccount(ctx, req.OwnerID, req.Currency)
			if err != nil {
				return err
			}
			dest = a
			return nil
		},
		build: func(ctx context.Context, _ domain.Tier) (*domain.TransactionDraft, error) {
			cur, err := e.store.GetAccountByID(ctx, dest.ID)
			if err != nil {
				return nil, err
			}
			if err := cur.StatusErr(); err != nil {
				return nil, err
			}

			t := e.newTransaction(domain.KindDeposit, req.Currency, req.Amount, key)
			t.DestAccountID = &cur.ID
			return &domain.TransactionDraft{
				Transaction: t,
				Mutations: []domain.AccountMutation{
					{AccountID: cur.ID, Delta: req.Amount, ExpectedVersion: cur.Version},
				},
			}, nil
		},
		failed: func(code string) *domain.Transaction {
			if dest == nil {
				return nil
			}
			t := e.failedTransaction(domain.KindDeposit, req.Currency, req.Amount, key, code)
			t.DestAccountID = &dest.ID
			return t
		},
	}

	t, err := e.execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}
	return t, nil
}
