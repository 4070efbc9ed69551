package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
)

type CommissionRequest struct {
	ReferrerID               uuid.UUID
	Currency                 domain.Currency
	Amount                   int64
	OriginatingTransactionID uuid.UUID
	IdempotencyKey           string
}

// CreditAffiliateCommission credits a referrer with commission earned on a
// referred user's committed transaction, linked to that transaction.
func (e *Engine) CreditAffiliateCommission(ctx context.Context, req CommissionRequest) (*domain.Transaction, error) {
	var dest *domain.Account
	key := ownerKey(req.ReferrerID, req.IdempotencyKey)

	op := operation{
		name:     "credit_commission",
		kind:     domain.KindCommission,
		owner:    req.ReferrerID,
		currency: req.Currency,
		amount:   req.Amount,
		key:      key,
		fingerprint: idempotency.Fingerprint(string(domain.KindCommission),
			req.ReferrerID.String(), string(req.Currency), strconv.FormatInt(req.Amount, 10),
			req.OriginatingTransactionID.String()),
		resolve: func(ctx context.Context) error {
			orig, err := e.txs.GetByID(ctx, req.OriginatingTransactionID)
			if err != nil {
				return fmt.Errorf("originating transaction: %w", err)
			}
			if orig.Status != domain.TransactionStatusCommitted {
				return fmt.Errorf("originating transaction is %s: %w", orig.Status, domain.ErrInvalidRequest)
			}
			a, err := e.store.GetAccount(ctx, req.ReferrerID, req.Currency)
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

			t := e.newTransaction(domain.KindCommission, req.Currency, req.Amount, key)
			t.DestAccountID = &cur.ID
			t.RelatedTransactionID = ptr(req.OriginatingTransactionID)
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
			t := e.failedTransaction(domain.KindCommission, req.Currency, req.Amount, key, code)
			t.DestAccountID = &dest.ID
			t.RelatedTransactionID = ptr(req.OriginatingTransactionID)
			return t
		},
	}

	t, err := e.execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("CreditAffiliateCommission: %w", err)
	}
	return t, nil
}
