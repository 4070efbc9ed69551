package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// LedgerStore is the single writer of balances and transaction records.
// Every write goes through AppendTransaction or RecordFailure.
type LedgerStore struct {
	db       *DB
	accounts *AccountRepository
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{
		db:       NewDB(db),
		accounts: NewAccountRepository(db),
	}
}

func (s *LedgerStore) GetAccount(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*domain.Account, error) {
	a, err := s.accounts.GetByOwnerAndCurrency(ctx, ownerID, currency, domain.AccountTypeUser)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, nil
}

func (s *LedgerStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAccountByID: %w", err)
	}
	return a, nil
}

// GetFeeAccount returns the platform account that collects fees in currency.
func (s *LedgerStore) GetFeeAccount(ctx context.Context, currency domain.Currency) (*domain.Account, error) {
	a, err := s.accounts.GetByOwnerAndCurrency(ctx, domain.SystemUserID, currency, domain.AccountTypeFee)
	if err != nil {
		return nil, fmt.Errorf("GetFeeAccount: %w", err)
	}
	return a, nil
}

func (s *LedgerStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := s.accounts.Create(ctx, account); err != nil {
		return fmt.Errorf("CreateAccount: %w", err)
	}
	return nil
}

// AppendTransaction applies every mutation of the draft and its linked drafts,
// inserts their transaction rows and ledger entries, and flips reversed
// originals, all in one database transaction. On any rejection nothing is
// written. Every transaction in the tree carries the balances its accounts
// hold once the whole unit is applied, so a withdrawal reports the balance
// after its linked fee.
func (s *LedgerStore) AppendTransaction(ctx context.Context, draft *domain.TransactionDraft) (*domain.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("AppendTransaction: %w", err)
	}
	defer tx.Rollback()

	balances := map[uuid.UUID]int64{}
	if err := applyDraft(ctx, tx, draft, balances); err != nil {
		return nil, fmt.Errorf("AppendTransaction: %w", err)
	}
	if len(draft.Linked) > 0 {
		if err := settleSnapshots(ctx, tx, draft, balances); err != nil {
			return nil, fmt.Errorf("AppendTransaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("AppendTransaction: commit: %w", storageErr(err))
	}
	return draft.Transaction, nil
}

// RecordFailure stores a failed transaction for the audit trail. It touches
// no balances.
func (s *LedgerStore) RecordFailure(ctx context.Context, t *domain.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("RecordFailure: %w", err)
	}
	defer tx.Rollback()

	t.Status = domain.TransactionStatusFailed
	if err := insertTransaction(ctx, tx, t); err != nil {
		return fmt.Errorf("RecordFailure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("RecordFailure: commit: %w", storageErr(err))
	}
	return nil
}

type appliedMutation struct {
	accountID    uuid.UUID
	delta        int64
	balanceAfter int64
	version      int64
}

// applyDraft records in balances the latest balance of every account it
// mutates.
func applyDraft(ctx context.Context, tx *sql.Tx, d *domain.TransactionDraft, balances map[uuid.UUID]int64) error {
	t := d.Transaction
	applied := make([]appliedMutation, 0, len(d.Mutations))

	for _, m := range sortedMutations(d.Mutations) {
		am, err := applyMutation(ctx, tx, m)
		if err != nil {
			return fmt.Errorf("applyDraft: account %s: %w", m.AccountID, err)
		}
		applied = append(applied, am)
		balances[m.AccountID] = am.balanceAfter

		balance := am.balanceAfter
		if t.SourceAccountID != nil && *t.SourceAccountID == m.AccountID {
			t.SourceBalanceAfter = &balance
		}
		if t.DestAccountID != nil && *t.DestAccountID == m.AccountID {
			t.DestBalanceAfter = &balance
		}
	}

	t.Status = domain.TransactionStatusCommitted
	if err := insertTransaction(ctx, tx, t); err != nil {
		return fmt.Errorf("applyDraft: %w", err)
	}

	for _, am := range applied {
		entry := &domain.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: t.ID,
			AccountID:     am.accountID,
			EntryType:     domain.EntryTypeCredit,
			Amount:        am.delta,
			BalanceBefore: am.balanceAfter - am.delta,
			BalanceAfter:  am.balanceAfter,
			Version:       am.version,
			CreatedAt:     t.CreatedAt,
		}
		if am.delta < 0 {
			entry.EntryType = domain.EntryTypeDebit
			entry.Amount = -am.delta
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("applyDraft: %w", err)
		}
	}

	for _, id := range d.Reverses {
		if err := markReversed(ctx, tx, id); err != nil {
			return fmt.Errorf("applyDraft: %w", err)
		}
	}

	for _, linked := range d.Linked {
		if err := applyDraft(ctx, tx, linked, balances); err != nil {
			return err
		}
	}
	return nil
}

// settleSnapshots rewrites the balance snapshot of every transaction in the
// tree whose accounts were mutated again by a later draft.
func settleSnapshots(ctx context.Context, tx *sql.Tx, d *domain.TransactionDraft, balances map[uuid.UUID]int64) error {
	t := d.Transaction
	changed := false
	settle := func(account *uuid.UUID, snapshot **int64) {
		if account == nil {
			return
		}
		final, ok := balances[*account]
		if !ok || (*snapshot != nil && **snapshot == final) {
			return
		}
		*snapshot = &final
		changed = true
	}
	settle(t.SourceAccountID, &t.SourceBalanceAfter)
	settle(t.DestAccountID, &t.DestBalanceAfter)

	if changed {
		_, err := tx.ExecContext(ctx,
			`UPDATE transactions SET source_balance_after = $1, dest_balance_after = $2 WHERE id = $3`,
			t.SourceBalanceAfter, t.DestBalanceAfter, t.ID,
		)
		if err != nil {
			return fmt.Errorf("settleSnapshots: %w", storageErr(err))
		}
	}

	for _, linked := range d.Linked {
		if err := settleSnapshots(ctx, tx, linked, balances); err != nil {
			return err
		}
	}
	return nil
}

func applyMutation(ctx context.Context, tx *sql.Tx, m domain.AccountMutation) (appliedMutation, error) {
	am := appliedMutation{accountID: m.AccountID, delta: m.Delta}
	err := tx.QueryRowContext(ctx,
		`UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND ($3 < 0 OR version = $3) AND balance + $1 >= 0
		RETURNING balance, version`,
		m.Delta, m.AccountID, m.ExpectedVersion,
	).Scan(&am.balanceAfter, &am.version)
	if err == nil {
		return am, nil
	}
	if isLockConflict(err) {
		return am, fmt.Errorf("applyMutation: %w", domain.ErrVersionConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return am, fmt.Errorf("applyMutation: %w", storageErr(err))
	}
	return am, fmt.Errorf("applyMutation: %w", classifyRejected(ctx, tx, m))
}

// classifyRejected explains why a guarded update matched no row.
func classifyRejected(ctx context.Context, tx *sql.Tx, m domain.AccountMutation) error {
	var version, balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT version, balance FROM accounts WHERE id = $1`, m.AccountID,
	).Scan(&version, &balance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrAccountNotFound
	case err != nil:
		return storageErr(err)
	case m.ExpectedVersion != domain.AnyVersion && version != m.ExpectedVersion:
		return domain.ErrVersionConflict
	default:
		return domain.ErrInsufficientFunds
	}
}

// sortedMutations orders row updates by account id so that two drafts touching
// the same pair of accounts always lock them in the same order.
func sortedMutations(ms []domain.AccountMutation) []domain.AccountMutation {
	sorted := make([]domain.AccountMutation, len(ms))
	copy(sorted, ms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].AccountID[:], sorted[j].AccountID[:]) < 0
	})
	return sorted
}

func markReversed(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		domain.TransactionStatusReversed, id, domain.TransactionStatusCommitted,
	)
	if err != nil {
		return fmt.Errorf("markReversed: %w", storageErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("markReversed: rows affected: %w", storageErr(err))
	}
	if n == 0 {
		return fmt.Errorf("markReversed: %s: %w", id, domain.ErrAlreadyReversed)
	}
	return nil
}
