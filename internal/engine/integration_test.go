package engine_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/engine"
	"github.com/josh-kwaku/wallet-ledger/internal/fee"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
	"github.com/josh-kwaku/wallet-ledger/internal/policy"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/testutil"
)

func setupEngine(t *testing.T, db *sql.DB) *engine.Engine {
	t.Helper()

	store := repository.NewLedgerStore(db)
	txs := repository.NewTransactionRepository(db)
	users := repository.NewUserRepository(db)

	guard := idempotency.NewGuard(repository.NewIdempotencyRepository(db), txs, idempotency.Options{
		TTL:   time.Hour,
		Lease: 30 * time.Second,
		Wait:  2 * time.Second,
	})
	gate := policy.NewGate(store, users, txs, config.DefaultLimits)
	fees := fee.NewSchedule(
		config.FeeConfig{BasicPct: decimal.RequireFromString("0.02"), VerifiedPct: decimal.RequireFromString("0.01")},
		config.AffiliateConfig{CommissionPct: decimal.RequireFromString("0.01")},
	)

	return engine.New(store, txs, repository.NewLedgerEntryRepository(db), guard, gate, fees, engine.Options{
		MaxAttempts:   8,
		RetryInterval: 2 * time.Millisecond,
	})
}

func deposit(t *testing.T, e *engine.Engine, owner uuid.UUID, amount int64) *domain.Transaction {
	t.Helper()
	tx, err := e.Deposit(context.Background(), engine.DepositRequest{
		OwnerID:        owner,
		Currency:       domain.CurrencyHTG,
		Amount:         amount,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	return tx
}

// assertReplayable folds the account's ledger entries from version 0 and
// checks the result matches the stored balance and version.
func assertReplayable(t *testing.T, db *sql.DB, accountID uuid.UUID) {
	t.Helper()

	entries, err := repository.NewLedgerEntryRepository(db).ListByAccount(context.Background(), accountID)
	require.NoError(t, err)

	var balance, version int64
	for _, e := range entries {
		version++
		require.Equal(t, version, e.Version, "version gap on account %s", accountID)
		require.Equal(t, balance, e.BalanceBefore)
		balance += e.Delta()
		require.Equal(t, balance, e.BalanceAfter)
	}

	acct, err := repository.NewAccountRepository(db).GetByID(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, acct.Balance, balance)
	assert.Equal(t, acct.Version, version)
}

func TestScenario_DepositCapAndWithdrawalFee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	user := testutil.SeedUser(t, db, domain.KYCStatusUnverified, nil)
	acct := testutil.SeedAccount(t, db, user.ID, domain.CurrencyHTG)
	deposit(t, e, user.ID, 50_000)

	_, err := e.Deposit(ctx, engine.DepositRequest{
		OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 60_000, IdempotencyKey: "dep-600",
	})
	require.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.Equal(t, int64(50_000), testutil.GetAccountBalance(t, db, acct.ID))

	_, err = e.Deposit(ctx, engine.DepositRequest{
		OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 40_000, IdempotencyKey: "dep-400",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), testutil.GetAccountBalance(t, db, acct.ID))

	_, err = e.Withdraw(ctx, engine.WithdrawRequest{
		OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 100_000, IdempotencyKey: "wd-1000",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(90_000), testutil.GetAccountBalance(t, db, acct.ID))

	w, err := e.Withdraw(ctx, engine.WithdrawRequest{
		OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 50_000, IdempotencyKey: "wd-500",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), w.FeeAmount)
	assert.Equal(t, int64(39_000), testutil.GetAccountBalance(t, db, acct.ID))
	assert.Equal(t, int64(1_000), testutil.GetAccountBalance(t, db, testutil.FeeAccountHTGID))
	require.NotNil(t, w.SourceBalanceAfter)
	assert.Equal(t, int64(39_000), *w.SourceBalanceAfter, "snapshot includes the linked fee")

	txs := repository.NewTransactionRepository(db)
	stored, err := txs.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(39_000), *stored.SourceBalanceAfter)

	linked, err := txs.ListLinked(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, domain.KindFee, linked[0].Kind)
	assert.Equal(t, int64(1_000), linked[0].Amount)
	assert.Equal(t, domain.TransactionStatusCommitted, linked[0].Status)
	assert.Equal(t, int64(39_000), *linked[0].SourceBalanceAfter)
	assert.Equal(t, int64(1_000), *linked[0].DestBalanceAfter)

	assert.Equal(t, 2, testutil.CountTransactions(t, db, domain.TransactionStatusFailed))
	assertReplayable(t, db, acct.ID)
	assertReplayable(t, db, testutil.FeeAccountHTGID)
}

func TestConcurrentOverdraft_AtMostOneSucceeds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)

	user := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	acct := testutil.SeedAccount(t, db, user.ID, domain.CurrencyHTG)
	deposit(t, e, user.ID, 100_000)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Withdraw(context.Background(), engine.WithdrawRequest{
				OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 80_000, IdempotencyKey: uuid.NewString(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range errs {
		assert.True(t, domain.ErrorCode(err) == domain.CodeInsufficientFunds || domain.IsRetryable(err), "unexpected error: %v", err)
	}
	// verified tier pays 1%
	assert.Equal(t, int64(100_000-80_000-800), testutil.GetAccountBalance(t, db, acct.ID))
	assertReplayable(t, db, acct.ID)
}

func TestDeposit_SameKeyAppliesOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	user := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	acct := testutil.SeedAccount(t, db, user.ID, domain.CurrencyHTG)
	req := engine.DepositRequest{OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 25_000, IdempotencyKey: "same-key"}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]int{}
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := e.Deposit(ctx, req)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[tx.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	again, err := e.Deposit(ctx, req)
	require.NoError(t, err)

	assert.Len(t, ids, 1)
	assert.Contains(t, ids, again.ID)
	assert.Equal(t, int64(25_000), testutil.GetAccountBalance(t, db, acct.ID))

	req.Amount = 30_000
	_, err = e.Deposit(ctx, req)
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestTransfer_Atomic(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	alice := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	bob := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	aliceAcct := testutil.SeedAccount(t, db, alice.ID, domain.CurrencyHTG)
	bobAcct := testutil.SeedAccount(t, db, bob.ID, domain.CurrencyHTG)
	deposit(t, e, alice.ID, 70_000)

	tx, err := e.Transfer(ctx, engine.TransferRequest{
		FromOwnerID: alice.ID, ToOwnerID: bob.ID, Currency: domain.CurrencyHTG, Amount: 30_000, IdempotencyKey: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), *tx.SourceBalanceAfter)
	assert.Equal(t, int64(30_000), *tx.DestBalanceAfter)
	assert.Equal(t, 2, testutil.CountLedgerEntries(t, db, tx.ID))

	testutil.SetAccountStatus(t, db, bobAcct.ID, domain.AccountStatusFrozen)
	_, err = e.Transfer(ctx, engine.TransferRequest{
		FromOwnerID: alice.ID, ToOwnerID: bob.ID, Currency: domain.CurrencyHTG, Amount: 10_000, IdempotencyKey: "t2",
	})
	require.ErrorIs(t, err, domain.ErrAccountFrozen)

	assert.Equal(t, int64(40_000), testutil.GetAccountBalance(t, db, aliceAcct.ID))
	assert.Equal(t, int64(30_000), testutil.GetAccountBalance(t, db, bobAcct.ID))
	assertReplayable(t, db, aliceAcct.ID)
	assertReplayable(t, db, bobAcct.ID)
}

func TestTransfer_CrossingTransfersConserveTotal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)

	alice := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	bob := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	aliceAcct := testutil.SeedAccount(t, db, alice.ID, domain.CurrencyHTG)
	bobAcct := testutil.SeedAccount(t, db, bob.ID, domain.CurrencyHTG)
	deposit(t, e, alice.ID, 100_000)
	deposit(t, e, bob.ID, 100_000)

	var wg sync.WaitGroup
	for i := range 20 {
		from, to := alice.ID, bob.ID
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Transfer(context.Background(), engine.TransferRequest{
				FromOwnerID: from, ToOwnerID: to, Currency: domain.CurrencyHTG, Amount: 1_000, IdempotencyKey: uuid.NewString(),
			})
			if err != nil {
				assert.True(t, domain.IsRetryable(err), "unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	total := testutil.GetAccountBalance(t, db, aliceAcct.ID) + testutil.GetAccountBalance(t, db, bobAcct.ID)
	assert.Equal(t, int64(200_000), total)
	assertReplayable(t, db, aliceAcct.ID)
	assertReplayable(t, db, bobAcct.ID)
}

func TestReverse_WithdrawalRestoresBalanceAndFee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	user := testutil.SeedUser(t, db, domain.KYCStatusUnverified, nil)
	acct := testutil.SeedAccount(t, db, user.ID, domain.CurrencyHTG)
	deposit(t, e, user.ID, 90_000)

	w, err := e.Withdraw(ctx, engine.WithdrawRequest{
		OwnerID: user.ID, Currency: domain.CurrencyHTG, Amount: 50_000, IdempotencyKey: "wd",
	})
	require.NoError(t, err)
	require.Equal(t, int64(39_000), testutil.GetAccountBalance(t, db, acct.ID))

	r, err := e.Reverse(ctx, w.ID, "payout bounced")
	require.NoError(t, err)
	assert.Equal(t, domain.KindReversal, r.Kind)
	assert.Equal(t, w.ID, *r.RelatedTransactionID)
	assert.Equal(t, int64(90_000), testutil.GetAccountBalance(t, db, acct.ID))
	assert.Equal(t, int64(0), testutil.GetAccountBalance(t, db, testutil.FeeAccountHTGID))

	txs := repository.NewTransactionRepository(db)
	orig, err := txs.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReversed, orig.Status)
	linked, err := txs.ListLinked(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, domain.TransactionStatusReversed, linked[0].Status)

	_, err = e.Reverse(ctx, w.ID, "again")
	require.ErrorIs(t, err, domain.ErrAlreadyReversed)
	_, err = e.Reverse(ctx, r.ID, "undo the undo")
	require.ErrorIs(t, err, domain.ErrNotReversible)

	assertReplayable(t, db, acct.ID)
	assertReplayable(t, db, testutil.FeeAccountHTGID)
}

func TestReverse_DepositAlreadySpentIsRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	alice := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	bob := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	aliceAcct := testutil.SeedAccount(t, db, alice.ID, domain.CurrencyHTG)
	testutil.SeedAccount(t, db, bob.ID, domain.CurrencyHTG)

	d := deposit(t, e, alice.ID, 20_000)
	_, err := e.Transfer(ctx, engine.TransferRequest{
		FromOwnerID: alice.ID, ToOwnerID: bob.ID, Currency: domain.CurrencyHTG, Amount: 15_000, IdempotencyKey: "t",
	})
	require.NoError(t, err)

	_, err = e.Reverse(ctx, d.ID, "chargeback")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(5_000), testutil.GetAccountBalance(t, db, aliceAcct.ID))
}

func TestDeposit_KeysAreScopedToOwner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	alice := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	bob := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	aliceAcct := testutil.SeedAccount(t, db, alice.ID, domain.CurrencyHTG)
	bobAcct := testutil.SeedAccount(t, db, bob.ID, domain.CurrencyHTG)

	a, err := e.Deposit(ctx, engine.DepositRequest{OwnerID: alice.ID, Currency: domain.CurrencyHTG, Amount: 10_000, IdempotencyKey: "order-1"})
	require.NoError(t, err)
	b, err := e.Deposit(ctx, engine.DepositRequest{OwnerID: bob.ID, Currency: domain.CurrencyHTG, Amount: 50_000, IdempotencyKey: "order-1"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(10_000), testutil.GetAccountBalance(t, db, aliceAcct.ID))
	assert.Equal(t, int64(50_000), testutil.GetAccountBalance(t, db, bobAcct.ID))

	// with the guard records swept, a reuse for another amount is refused
	_, err = db.ExecContext(ctx, `DELETE FROM idempotency_records`)
	require.NoError(t, err)
	_, err = e.Deposit(ctx, engine.DepositRequest{OwnerID: alice.ID, Currency: domain.CurrencyHTG, Amount: 99_000, IdempotencyKey: "order-1"})
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Equal(t, int64(10_000), testutil.GetAccountBalance(t, db, aliceAcct.ID))
}

func TestCreditAffiliateCommission_LinksOriginatingTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	referrer := testutil.SeedUser(t, db, domain.KYCStatusVerified, nil)
	referred := testutil.SeedUser(t, db, domain.KYCStatusVerified, &referrer.ID)
	refAcct := testutil.SeedAccount(t, db, referrer.ID, domain.CurrencyHTG)
	testutil.SeedAccount(t, db, referred.ID, domain.CurrencyHTG)
	d := deposit(t, e, referred.ID, 100_000)

	req := engine.CommissionRequest{
		ReferrerID:               referrer.ID,
		Currency:                 domain.CurrencyHTG,
		Amount:                   1_000,
		OriginatingTransactionID: d.ID,
		IdempotencyKey:           "commission:" + d.ID.String(),
	}
	c, err := e.CreditAffiliateCommission(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.KindCommission, c.Kind)
	assert.Equal(t, d.ID, *c.RelatedTransactionID)

	again, err := e.CreditAffiliateCommission(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, int64(1_000), testutil.GetAccountBalance(t, db, refAcct.ID))
}

func TestOpenAccount_OnePerCurrency(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := setupEngine(t, db)
	ctx := context.Background()

	user := testutil.SeedUser(t, db, domain.KYCStatusUnverified, nil)
	acct, err := e.OpenAccount(ctx, user.ID, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Version)

	_, err = e.OpenAccount(ctx, user.ID, domain.CurrencyUSD)
	require.ErrorIs(t, err, domain.ErrAccountExists)
}
