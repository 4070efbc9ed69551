package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type memRecords struct {
	mu   sync.Mutex
	recs map[string]*domain.IdempotencyRecord
}

func newMemRecords() *memRecords {
	return &memRecords{recs: map[string]*domain.IdempotencyRecord{}}
}

func (m *memRecords) Claim(_ context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.Key]; ok {
		return false, nil
	}
	cp := *rec
	cp.Status = domain.IdempotencyStatusInProgress
	m.recs[rec.Key] = &cp
	return true, nil
}

func (m *memRecords) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecords) Complete(_ context.Context, key string, txID *uuid.UUID, code *string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok || rec.Status != domain.IdempotencyStatusInProgress {
		return domain.ErrDuplicateOperation
	}
	rec.Status = domain.IdempotencyStatusCompleted
	rec.TransactionID = txID
	rec.ErrorCode = code
	rec.Response = response
	return nil
}

func (m *memRecords) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[key]; ok && rec.Status == domain.IdempotencyStatusInProgress {
		delete(m.recs, key)
	}
	return nil
}

func (m *memRecords) TakeOver(_ context.Context, key string, staleBefore, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok || rec.Status != domain.IdempotencyStatusInProgress || !rec.LockedAt.Before(staleBefore) {
		return false, nil
	}
	rec.LockedAt = now
	return true, nil
}

type memTxs struct {
	byKey map[string]*domain.Transaction
}

func (m *memTxs) GetByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	if t, ok := m.byKey[key]; ok {
		return t, nil
	}
	return nil, domain.ErrTransactionNotFound
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestGuard() (*Guard, *memRecords, *memTxs, *clock) {
	recs := newMemRecords()
	txs := &memTxs{byKey: map[string]*domain.Transaction{}}
	c := &clock{t: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	g := NewGuard(recs, txs, Options{TTL: 24 * time.Hour, Lease: 30 * time.Second, Wait: 200 * time.Millisecond}).
		WithClock(c.now)
	return g, recs, txs, c
}

func committedTx() *domain.Transaction {
	key := "k"
	return &domain.Transaction{
		ID:             uuid.New(),
		Kind:           domain.KindDeposit,
		Status:         domain.TransactionStatusCommitted,
		Amount:         40_000,
		Currency:       domain.CurrencyHTG,
		IdempotencyKey: &key,
		CreatedAt:      time.Date(2026, 1, 2, 10, 0, 0, 123000, time.UTC),
	}
}

func TestBeginOrReplay_FreshThenReplay(t *testing.T) {
	g, _, _, _ := newTestGuard()
	ctx := context.Background()
	owner := uuid.New()
	fp := Fingerprint("deposit", owner.String(), "HTG", "40000")

	d, err := g.BeginOrReplay(ctx, "k", owner, fp)
	require.NoError(t, err)
	assert.Equal(t, Fresh, d.Outcome)

	tx := committedTx()
	require.NoError(t, g.Complete(ctx, "k", Result{Transaction: tx}))

	d, err = g.BeginOrReplay(ctx, "k", owner, fp)
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
	require.NotNil(t, d.Result.Transaction)
	assert.Equal(t, *tx, *d.Result.Transaction)
	assert.NoError(t, d.Result.Err)
}

func TestBeginOrReplay_ConcurrentSameKeySingleFresh(t *testing.T) {
	g, _, _, _ := newTestGuard()
	owner := uuid.New()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		fresh  int
		others int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if d.Outcome == Fresh {
				fresh++
			} else {
				others++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, 9, others)
}

func TestBeginOrReplay_FingerprintMismatch(t *testing.T) {
	g, _, _, _ := newTestGuard()
	owner := uuid.New()

	_, err := g.BeginOrReplay(context.Background(), "k", owner, "fp-1")
	require.NoError(t, err)

	_, err = g.BeginOrReplay(context.Background(), "k", owner, "fp-2")
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	_, err = g.BeginOrReplay(context.Background(), "k", uuid.New(), "fp-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestComplete_FailureReplaysSameError(t *testing.T) {
	g, _, _, _ := newTestGuard()
	ctx := context.Background()
	owner := uuid.New()

	_, err := g.BeginOrReplay(ctx, "k", owner, "fp")
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, "k", Result{Err: errors.Join(errors.New("daily cap"), domain.ErrLimitExceeded)}))

	d, err := g.BeginOrReplay(ctx, "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
	assert.ErrorIs(t, d.Result.Err, domain.ErrLimitExceeded)
	assert.Nil(t, d.Result.Transaction)
}

func TestComplete_RetryableReleasesKey(t *testing.T) {
	g, recs, _, _ := newTestGuard()
	ctx := context.Background()
	owner := uuid.New()

	_, err := g.BeginOrReplay(ctx, "k", owner, "fp")
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, "k", Result{Err: domain.ErrContention}))

	_, err = recs.Get(ctx, "k")
	require.ErrorIs(t, err, domain.ErrNotFound)

	d, err := g.BeginOrReplay(ctx, "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, Fresh, d.Outcome)
}

func TestBeginOrReplay_InProgressWithinLease(t *testing.T) {
	g, _, _, c := newTestGuard()
	owner := uuid.New()

	_, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)

	c.t = c.t.Add(10 * time.Second)
	d, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, InProgress, d.Outcome)
}

func TestBeginOrReplay_StaleClaimWithoutTransactionIsTakenOver(t *testing.T) {
	g, _, _, c := newTestGuard()
	owner := uuid.New()

	_, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)

	c.t = c.t.Add(time.Minute)
	d, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, Fresh, d.Outcome)

	d, err = g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, InProgress, d.Outcome)
}

func TestBeginOrReplay_StaleClaimWithCommittedTransactionReplays(t *testing.T) {
	g, recs, txs, c := newTestGuard()
	owner := uuid.New()

	_, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	tx := committedTx()
	txs.byKey["k"] = tx

	c.t = c.t.Add(time.Minute)
	d, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
	assert.Equal(t, tx.ID, d.Result.Transaction.ID)

	rec, err := recs.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusCompleted, rec.Status)
}

func TestBeginOrReplay_StaleClaimWithFailedTransactionReplaysError(t *testing.T) {
	g, _, txs, c := newTestGuard()
	owner := uuid.New()

	_, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	tx := committedTx()
	tx.Status = domain.TransactionStatusFailed
	reason := domain.CodeInsufficientFunds
	tx.Reason = &reason
	txs.byKey["k"] = tx

	c.t = c.t.Add(time.Minute)
	d, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
	assert.ErrorIs(t, d.Result.Err, domain.ErrInsufficientFunds)
}

func TestAwait_ReplaysOnceHolderCompletes(t *testing.T) {
	g, _, _, _ := newTestGuard()
	g.opts.Wait = 2 * time.Second
	ctx := context.Background()
	owner := uuid.New()

	_, err := g.BeginOrReplay(ctx, "k", owner, "fp")
	require.NoError(t, err)

	tx := committedTx()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = g.Complete(ctx, "k", Result{Transaction: tx})
	}()

	d, err := g.Await(ctx, "k", owner, "fp")
	require.NoError(t, err)
	assert.Equal(t, Replay, d.Outcome)
	assert.Equal(t, tx.ID, d.Result.Transaction.ID)
}

func TestAwait_GivesUp(t *testing.T) {
	g, _, _, _ := newTestGuard()
	owner := uuid.New()

	_, err := g.BeginOrReplay(context.Background(), "k", owner, "fp")
	require.NoError(t, err)

	_, err = g.Await(context.Background(), "k", owner, "fp")
	require.ErrorIs(t, err, domain.ErrOperationInProgress)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("a", "b"), Fingerprint("a", "b"))
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
	assert.Len(t, Fingerprint("x"), 64)
}
