package readmodel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type accountLister interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

type entryLister interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)
}

// Mismatch describes an account whose stored state disagrees with a replay
// of its ledger entries.
type Mismatch struct {
	AccountID       uuid.UUID
	StoredBalance   int64
	ReplayedBalance int64
	StoredVersion   int64
	ReplayedVersion int64
	Detail          string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("account %s: stored %d@v%d, replayed %d@v%d: %s",
		m.AccountID, m.StoredBalance, m.StoredVersion, m.ReplayedBalance, m.ReplayedVersion, m.Detail)
}

// Reconciler replays ledger entries from version 0 and compares the result
// with stored balances.
type Reconciler struct {
	accounts    accountLister
	entries     entryLister
	concurrency int
}

func NewReconciler(accounts accountLister, entries entryLister, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{accounts: accounts, entries: entries, concurrency: concurrency}
}

// VerifyAccount returns nil when the account is consistent with its ledger.
func (r *Reconciler) VerifyAccount(ctx context.Context, accountID uuid.UUID) (*Mismatch, error) {
	a, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("VerifyAccount: %w", err)
	}
	entries, err := r.entries.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("VerifyAccount: %w", err)
	}
	// Entries committed after the account was read are ignored.
	for i, e := range entries {
		if e.Version > a.Version {
			entries = entries[:i]
			break
		}
	}

	m := replay(entries)
	m.AccountID = accountID
	m.StoredBalance = a.Balance
	m.StoredVersion = a.Version

	switch {
	case m.Detail != "":
	case a.Version != m.ReplayedVersion:
		m.Detail = "version mismatch"
	case a.Balance != m.ReplayedBalance:
		m.Detail = "balance mismatch"
	default:
		return nil, nil
	}
	return &m, nil
}

func replay(entries []domain.LedgerEntry) Mismatch {
	var m Mismatch
	for _, e := range entries {
		if e.Version != m.ReplayedVersion+1 {
			m.Detail = fmt.Sprintf("version gap: expected %d, got %d", m.ReplayedVersion+1, e.Version)
			return m
		}
		if e.BalanceBefore != m.ReplayedBalance {
			m.Detail = fmt.Sprintf("entry %s starts at %d, replay is at %d", e.ID, e.BalanceBefore, m.ReplayedBalance)
			return m
		}
		m.ReplayedBalance += e.Delta()
		m.ReplayedVersion = e.Version
		if m.ReplayedBalance < 0 {
			m.Detail = fmt.Sprintf("negative balance at v%d", e.Version)
			return m
		}
	}
	return m
}

// VerifyAll checks every account with bounded concurrency and returns the
// mismatches found.
func (r *Reconciler) VerifyAll(ctx context.Context) ([]Mismatch, error) {
	ids, err := r.accounts.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("VerifyAll: %w", err)
	}

	var (
		mu         sync.Mutex
		mismatches []Mismatch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			m, err := r.VerifyAccount(gctx, id)
			if err != nil {
				return err
			}
			if m != nil {
				mu.Lock()
				mismatches = append(mismatches, *m)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("VerifyAll: %w", err)
	}

	logging.FromContext(ctx).Debug("reconciliation finished", "accounts", len(ids), "mismatches", len(mismatches))
	return mismatches, nil
}
