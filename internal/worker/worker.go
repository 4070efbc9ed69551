package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/wallet-ledger/internal/readmodel"
)

type expiredCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

type ledgerVerifier interface {
	VerifyAll(ctx context.Context) ([]readmodel.Mismatch, error)
}

// runEvery calls fn on every tick until ctx is done. A non-positive
// interval disables the job.
func runEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		logger.Warn(name+" disabled", "interval", interval)
		return
	}
	logger.Info(name+" started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(name + " stopped")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// IdempotencySweeper deletes idempotency records past their expiry.
type IdempotencySweeper struct {
	records  expiredCleaner
	logger   *slog.Logger
	interval time.Duration
}

func NewIdempotencySweeper(records expiredCleaner, logger *slog.Logger, interval time.Duration) *IdempotencySweeper {
	return &IdempotencySweeper{records: records, logger: logger, interval: interval}
}

func (s *IdempotencySweeper) Start(ctx context.Context) {
	runEvery(ctx, s.logger, "idempotency sweeper", s.interval, s.sweep)
}

func (s *IdempotencySweeper) sweep(ctx context.Context) {
	n, err := s.records.CleanExpired(ctx)
	if err != nil {
		s.logger.Error("failed to clean expired idempotency records", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired idempotency records removed", "count", n)
	}
}

// ReconcileJob periodically replays every account's ledger and reports
// accounts whose stored balance has drifted.
type ReconcileJob struct {
	verifier ledgerVerifier
	logger   *slog.Logger
	interval time.Duration
}

func NewReconcileJob(verifier ledgerVerifier, logger *slog.Logger, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{verifier: verifier, logger: logger, interval: interval}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	runEvery(ctx, j.logger, "reconcile job", j.interval, j.reconcile)
}

func (j *ReconcileJob) reconcile(ctx context.Context) {
	mismatches, err := j.verifier.VerifyAll(ctx)
	if err != nil {
		j.logger.Error("reconciliation failed", "error", err)
		return
	}
	for _, m := range mismatches {
		j.logger.Error("ledger mismatch",
			"account_id", m.AccountID,
			"stored_balance", m.StoredBalance,
			"replayed_balance", m.ReplayedBalance,
			"stored_version", m.StoredVersion,
			"replayed_version", m.ReplayedVersion,
			"detail", m.Detail,
		)
	}
}
