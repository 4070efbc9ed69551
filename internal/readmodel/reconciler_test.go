package readmodel

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type fakeEntries struct {
	byAccount map[uuid.UUID][]domain.LedgerEntry
}

func (f *fakeEntries) ListByAccount(_ context.Context, id uuid.UUID) ([]domain.LedgerEntry, error) {
	return f.byAccount[id], nil
}

func entry(accountID uuid.UUID, version, before, after int64) domain.LedgerEntry {
	e := domain.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     accountID,
		EntryType:     domain.EntryTypeCredit,
		Amount:        after - before,
		BalanceBefore: before,
		BalanceAfter:  after,
		Version:       version,
	}
	if after < before {
		e.EntryType = domain.EntryTypeDebit
		e.Amount = before - after
	}
	return e
}

func TestVerifyAccount(t *testing.T) {
	id := uuid.New()
	history := []domain.LedgerEntry{
		entry(id, 1, 0, 50_000),
		entry(id, 2, 50_000, 90_000),
		entry(id, 3, 90_000, 40_000),
		entry(id, 4, 40_000, 39_000),
	}

	tests := []struct {
		name       string
		account    domain.Account
		entries    []domain.LedgerEntry
		wantDetail string
	}{
		{
			name:    "consistent",
			account: domain.Account{ID: id, Balance: 39_000, Version: 4},
			entries: history,
		},
		{
			name:    "entries newer than the account read are ignored",
			account: domain.Account{ID: id, Balance: 40_000, Version: 3},
			entries: history,
		},
		{
			name:       "balance drift",
			account:    domain.Account{ID: id, Balance: 40_000, Version: 4},
			entries:    history,
			wantDetail: "balance mismatch",
		},
		{
			name:       "missing entries",
			account:    domain.Account{ID: id, Balance: 39_000, Version: 6},
			entries:    history,
			wantDetail: "version mismatch",
		},
		{
			name:       "version gap",
			account:    domain.Account{ID: id, Balance: 39_000, Version: 4},
			entries:    []domain.LedgerEntry{history[0], history[2], history[3]},
			wantDetail: "version gap: expected 2, got 3",
		},
		{
			name:    "untouched account",
			account: domain.Account{ID: id},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := tt.account
			r := NewReconciler(
				&fakeAccounts{byID: map[uuid.UUID]*domain.Account{id: &acct}},
				&fakeEntries{byAccount: map[uuid.UUID][]domain.LedgerEntry{id: tt.entries}},
				1,
			)
			m, err := r.VerifyAccount(context.Background(), id)
			require.NoError(t, err)
			if tt.wantDetail == "" {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.wantDetail, m.Detail)
		})
	}
}

func TestVerifyAll_CollectsMismatches(t *testing.T) {
	good, bad := uuid.New(), uuid.New()
	accounts := &fakeAccounts{byID: map[uuid.UUID]*domain.Account{
		good: {ID: good, Balance: 10, Version: 1},
		bad:  {ID: bad, Balance: 99, Version: 1},
	}}
	entries := &fakeEntries{byAccount: map[uuid.UUID][]domain.LedgerEntry{
		good: {entry(good, 1, 0, 10)},
		bad:  {entry(bad, 1, 0, 10)},
	}}

	mismatches, err := NewReconciler(accounts, entries, 4).VerifyAll(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, bad, mismatches[0].AccountID)
	assert.Equal(t, int64(10), mismatches[0].ReplayedBalance)
}

func TestVerifyAccount_UnknownAccountFails(t *testing.T) {
	accounts := &fakeAccounts{byID: map[uuid.UUID]*domain.Account{}}
	r := NewReconciler(accounts, &fakeEntries{}, 1)

	_, err := r.VerifyAccount(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}
