package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
)

type WithdrawRequest struct {
	OwnerID        uuid.UUID
	Currency       domain.Currency
	Amount         int64
	IdempotencyKey string
}

// Withdraw debits amount plus the tier's withdrawal fee from the owner's
// account. The fee is booked as a linked fee transaction crediting the
// platform fee account, committed in the same unit as the withdrawal.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (*domain.Transaction, error) {
	var source, feeAccount *domain.Account
	key := ownerKey(req.OwnerID, req.IdempotencyKey)

	op := operation{
		name:     "withdraw",
		kind:     domain.KindWithdrawal,
		owner:    req.OwnerID,
		currency: req.Currency,
		amount:   req.Amount,
		key:      key,
		fingerprint: idempotency.Fingerprint(string(domain.KindWithdrawal),
			req.OwnerID.String(), string(req.Currency), strconv.FormatInt(req.Amount, 10)),
		resolve: func(ctx context.Context) error {
			a, err := e.store.GetAccount(ctx, req.OwnerID, req.Currency)
			if err != nil {
				return err
			}
			source = a
			f, err := e.store.GetFeeAccount(ctx, req.Currency)
			if err != nil {
				return fmt.Errorf("fee account: %w", err)
			}
			feeAccount = f
			return nil
		},
		build: func(ctx context.Context, tier domain.Tier) (*domain.TransactionDraft, error) {
			return e.buildWithdrawal(ctx, req, key, tier, source.ID, feeAccount)
		},
		failed: func(code string) *domain.Transaction {
			if source == nil {
				return nil
			}
			t := e.failedTransaction(domain.KindWithdrawal, req.Currency, req.Amount, key, code)
			t.SourceAccountID = &source.ID
			return t
		},
	}

	t, err := e.execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}
	return t, nil
}

func (e *Engine) buildWithdrawal(ctx context.Context, req WithdrawRequest, key string, tier domain.Tier, sourceID uuid.UUID, feeAccount *domain.Account) (*domain.TransactionDraft, error) {
	cur, err := e.store.GetAccountByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := cur.StatusErr(); err != nil {
		return nil, err
	}

	fee, err := e.fees.WithdrawalFee(req.Amount, req.Currency, tier)
	if err != nil {
		return nil, err
	}
	if cur.Balance < req.Amount+fee {
		return nil, fmt.Errorf("balance %d < %d + fee %d: %w", cur.Balance, req.Amount, fee, domain.ErrInsufficientFunds)
	}

	v := versions{}
	w := e.newTransaction(domain.KindWithdrawal, req.Currency, req.Amount, key)
	w.SourceAccountID = &cur.ID
	w.FeeAmount = fee
	draft := &domain.TransactionDraft{
		Transaction: w,
		Mutations: []domain.AccountMutation{
			{AccountID: cur.ID, Delta: -req.Amount, ExpectedVersion: v.next(cur)},
		},
	}
	if fee == 0 {
		return draft, nil
	}

	f := e.newTransaction(domain.KindFee, req.Currency, fee, "")
	f.SourceAccountID = &cur.ID
	f.DestAccountID = &feeAccount.ID
	f.RelatedTransactionID = &w.ID
	draft.Linked = append(draft.Linked, &domain.TransactionDraft{
		Transaction: f,
		Mutations: []domain.AccountMutation{
			{AccountID: cur.ID, Delta: -fee, ExpectedVersion: v.next(cur)},
			{AccountID: feeAccount.ID, Delta: fee, ExpectedVersion: v.next(feeAccount)},
		},
	})
	return draft, nil
}
