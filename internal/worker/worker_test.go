package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/josh-kwaku/wallet-ledger/internal/readmodel"
)

type countingCleaner struct {
	calls atomic.Int32
	err   error
}

func (c *countingCleaner) CleanExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, c.err
}

type stubVerifier struct {
	mismatches []readmodel.Mismatch
	err        error
}

func (s stubVerifier) VerifyAll(context.Context) ([]readmodel.Mismatch, error) {
	return s.mismatches, s.err
}

func TestIdempotencySweeper_RunsUntilCancelled(t *testing.T) {
	cleaner := &countingCleaner{}
	s := NewIdempotencySweeper(cleaner, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cleaner.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestIdempotencySweeper_LogsErrors(t *testing.T) {
	var buf bytes.Buffer
	s := NewIdempotencySweeper(&countingCleaner{err: errors.New("db down")}, slog.New(slog.NewTextHandler(&buf, nil)), time.Hour)

	s.sweep(context.Background())
	assert.Contains(t, buf.String(), "failed to clean expired idempotency records")
}

func TestReconcileJob_LogsEachMismatch(t *testing.T) {
	var buf bytes.Buffer
	id := uuid.New()
	j := NewReconcileJob(stubVerifier{mismatches: []readmodel.Mismatch{
		{AccountID: id, StoredBalance: 99, ReplayedBalance: 10, StoredVersion: 1, ReplayedVersion: 1, Detail: "balance mismatch"},
	}}, slog.New(slog.NewJSONHandler(&buf, nil)), time.Hour)

	j.reconcile(context.Background())
	out := buf.String()
	assert.Contains(t, out, "ledger mismatch")
	assert.Contains(t, out, id.String())
	assert.Contains(t, out, "balance mismatch")
}

func TestReconcileJob_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	j := NewReconcileJob(stubVerifier{err: errors.New("timeout")}, slog.New(slog.NewTextHandler(&buf, nil)), time.Hour)

	j.reconcile(context.Background())
	assert.Contains(t, buf.String(), "reconciliation failed")
}

func TestRunEvery_NonPositiveIntervalDisablesJob(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		var buf bytes.Buffer
		cleaner := &countingCleaner{}
		s := NewIdempotencySweeper(cleaner, slog.New(slog.NewTextHandler(&buf, nil)), interval)

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Start(context.Background())
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("interval %v: Start did not return", interval)
		}
		assert.Zero(t, cleaner.calls.Load())
		assert.Contains(t, buf.String(), "idempotency sweeper disabled")
	}
}
