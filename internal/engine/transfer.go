package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
)

type TransferRequest struct {
	FromOwnerID    uuid.UUID
	ToOwnerID      uuid.UUID
	Currency       domain.Currency
	Amount         int64
	IdempotencyKey string
}

// Transfer moves amount between two owners' accounts in one currency. Both
// sides commit together or not at all.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error) {
	if req.FromOwnerID == req.ToOwnerID {
		return nil, fmt.Errorf("Transfer: %w", domain.ErrSelfTransfer)
	}

	var source, dest *domain.Account
	key := ownerKey(req.FromOwnerID, req.IdempotencyKey)

	op := operation{
		name:     "transfer",
		kind:     domain.KindTransfer,
		owner:    req.FromOwnerID,
		currency: req.Currency,
		amount:   req.Amount,
		key:      key,
		fingerprint: idempotency.Fingerprint(string(domain.KindTransfer),
			req.FromOwnerID.String(), req.ToOwnerID.String(), string(req.Currency), strconv.FormatInt(req.Amount, 10)),
		resolve: func(ctx context.Context) error {
			s, err := e.store.GetAccount(ctx, req.FromOwnerID, req.Currency)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			d, err := e.store.GetAccount(ctx, req.ToOwnerID, req.Currency)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}
			source, dest = s, d
			return nil
		},
		build: func(ctx context.Context, _ domain.Tier) (*domain.TransactionDraft, error) {
			return e.buildTransfer(ctx, req, key, source.ID, dest.ID)
		},
		failed: func(code string) *domain.Transaction {
			if source == nil || dest == nil {
				return nil
			}
			t := e.failedTransaction(domain.KindTransfer, req.Currency, req.Amount, key, code)
			t.SourceAccountID = &source.ID
			t.DestAccountID = &dest.ID
			return t
		},
	}

	t, err := e.execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	return t, nil
}

func (e *Engine) buildTransfer(ctx context.Context, req TransferRequest, key string, sourceID, destID uuid.UUID) (*domain.TransactionDraft, error) {
	src, err := e.store.GetAccountByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	dst, err := e.store.GetAccountByID(ctx, destID)
	if err != nil {
		return nil, err
	}
	if err := src.StatusErr(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := dst.StatusErr(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if src.Balance < req.Amount {
		return nil, fmt.Errorf("balance %d < %d: %w", src.Balance, req.Amount, domain.ErrInsufficientFunds)
	}

	t := e.newTransaction(domain.KindTransfer, req.Currency, req.Amount, key)
	t.SourceAccountID = &src.ID
	t.DestAccountID = &dst.ID
	return &domain.TransactionDraft{
		Transaction: t,
		Mutations: []domain.AccountMutation{
			{AccountID: src.ID, Delta: -req.Amount, ExpectedVersion: src.Version},
			{AccountID: dst.ID, Delta: req.Amount, ExpectedVersion: dst.Version},
		},
	}, nil
}
