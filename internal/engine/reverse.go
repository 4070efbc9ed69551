package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

// ReversalKey is the idempotency key of the reversal of transaction id.
// At most one reversal per original can exist.
func ReversalKey(id uuid.UUID) string {
	return "reversal:" + id.String()
}

// Reverse books a compensating transaction that inverts every ledger entry
// of a committed transaction, including the fee transactions linked to it,
// and flips the originals to reversed in the same unit.
func (e *Engine) Reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "engine.reverse", trace.WithAttributes(
		attribute.String("wallet.original_transaction_id", transactionID.String()),
	))
	defer span.End()
	ctx = logging.With(ctx, "op", "reverse", "original_transaction_id", transactionID)

	t, err := e.reverse(ctx, transactionID, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorCode(err))
		return nil, fmt.Errorf("Reverse: %w", err)
	}

	logging.FromContext(ctx).Info("transaction reversed", "transaction_id", t.ID, "reason", reason)
	return t, nil
}

func (e *Engine) reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	orig, err := e.txs.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := checkReversible(orig); err != nil {
		return nil, err
	}

	linked, err := e.txs.ListLinked(ctx, orig.ID)
	if err != nil {
		return nil, err
	}

	t, _, err := e.appendWithRetry(ctx, "", nil, func(ctx context.Context) (*domain.TransactionDraft, error) {
		return e.buildReversal(ctx, orig, linked, reason)
	})
	if errors.Is(err, domain.ErrDuplicateOperation) {
		return nil, domain.ErrAlreadyReversed
	}
	return t, err
}

func checkReversible(t *domain.Transaction) error {
	switch {
	case t.Status == domain.TransactionStatusReversed:
		return domain.ErrAlreadyReversed
	case t.Status != domain.TransactionStatusCommitted:
		return fmt.Errorf("status %s: %w", t.Status, domain.ErrNotReversible)
	case t.Kind == domain.KindReversal:
		return fmt.Errorf("a reversal cannot be reversed: %w", domain.ErrNotReversible)
	case t.Kind == domain.KindFee && t.RelatedTransactionID != nil:
		return fmt.Errorf("reverse the parent transaction %s: %w", *t.RelatedTransactionID, domain.ErrNotReversible)
	}
	return nil
}

func (e *Engine) buildReversal(ctx context.Context, orig *domain.Transaction, linked []domain.Transaction, reason string) (*domain.TransactionDraft, error) {
	accounts := map[uuid.UUID]*domain.Account{}
	v := versions{}

	draft, err := e.reversalDraft(ctx, orig, reason, ReversalKey(orig.ID), accounts, v)
	if err != nil {
		return nil, err
	}
	for i := range linked {
		l := &linked[i]
		if l.Status != domain.TransactionStatusCommitted {
			continue
		}
		ld, err := e.reversalDraft(ctx, l, reason, "", accounts, v)
		if err != nil {
			return nil, err
		}
		draft.Linked = append(draft.Linked, ld)
	}
	return draft, nil
}

// reversalDraft inverts the ledger entries of one transaction. accounts and
// v are shared across the draft tree so an account touched twice chains its
// versions.
func (e *Engine) reversalDraft(ctx context.Context, orig *domain.Transaction, reason, key string, accounts map[uuid.UUID]*domain.Account, v versions) (*domain.TransactionDraft, error) {
	entries, err := e.entries.ListByTransaction(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("transaction %s has no ledger entries: %w", orig.ID, domain.ErrNotReversible)
	}

	r := e.newTransaction(domain.KindReversal, orig.Currency, orig.Amount, key)
	r.SourceAccountID = orig.DestAccountID
	r.DestAccountID = orig.SourceAccountID
	r.RelatedTransactionID = ptr(orig.ID)
	if reason != "" {
		r.Reason = ptr(reason)
	}

	draft := &domain.TransactionDraft{Transaction: r, Reverses: []uuid.UUID{orig.ID}}
	for _, entry := range entries {
		a, ok := accounts[entry.AccountID]
		if !ok {
			a, err = e.store.GetAccountByID(ctx, entry.AccountID)
			if err != nil {
				return nil, err
			}
			accounts[a.ID] = a
		}
		delta := -entry.Delta()
		if a.Balance+delta < 0 {
			return nil, fmt.Errorf("account %s cannot absorb reversal: %w", a.ID, domain.ErrInsufficientFunds)
		}
		a.Balance += delta
		draft.Mutations = append(draft.Mutations, domain.AccountMutation{
			AccountID:       a.ID,
			Delta:           delta,
			ExpectedVersion: v.next(a),
		})
	}
	return draft, nil
}
