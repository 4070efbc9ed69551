package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type Outcome int

const (
	Fresh Outcome = iota
	Replay
	InProgress
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Replay:
		return "replay"
	default:
		return "in_progress"
	}
}

// Result is the terminal outcome of an operation: a committed transaction,
// or a business failure (optionally with the failed transaction recorded).
type Result struct {
	Transaction *domain.Transaction
	Err         error
}

type Decision struct {
	Outcome Outcome
	Result  Result
}

type recordStore interface {
	Claim(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error)
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, transactionID *uuid.UUID, errorCode *string, response []byte) error
	Release(ctx context.Context, key string) error
	TakeOver(ctx context.Context, key string, staleBefore, now time.Time) (bool, error)
}

type transactionFinder interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
}

type Options struct {
	// TTL is how long a record is kept before the sweeper may delete it.
	TTL time.Duration
	// Lease is how long an in-progress claim is honoured before another
	// caller may recover it.
	Lease time.Duration
	// Wait bounds Await.
	Wait time.Duration
}

type Guard struct {
	records recordStore
	txs     transactionFinder
	opts    Options
	now     func() time.Time
}

func NewGuard(records recordStore, txs transactionFinder, opts Options) *Guard {
	return &Guard{records: records, txs: txs, opts: opts, now: time.Now}
}

// WithClock overrides the guard's clock.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Fingerprint hashes the parts of a request that must match on replay.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", sum)
}

// BeginOrReplay claims key for the caller, or reports the stored outcome, or
// reports that another caller holds it.
func (g *Guard) BeginOrReplay(ctx context.Context, key string, ownerID uuid.UUID, fingerprint string) (Decision, error) {
	// A record released or swept between claim and read is claimed again;
	// bounded so a pathological race cannot spin.
	for range 3 {
		d, retry, err := g.beginOnce(ctx, key, ownerID, fingerprint)
		if err != nil {
			return Decision{}, fmt.Errorf("BeginOrReplay: %w", err)
		}
		if !retry {
			return d, nil
		}
	}
	return Decision{Outcome: InProgress}, nil
}

func (g *Guard) beginOnce(ctx context.Context, key string, ownerID uuid.UUID, fingerprint string) (Decision, bool, error) {
	now := g.now().UTC()
	claimed, err := g.records.Claim(ctx, &domain.IdempotencyRecord{
		Key:         key,
		OwnerID:     ownerID,
		RequestHash: fingerprint,
		LockedAt:    now,
		ExpiresAt:   now.Add(g.opts.TTL),
	})
	if err != nil {
		return Decision{}, false, err
	}
	if claimed {
		return Decision{Outcome: Fresh}, false, nil
	}

	rec, err := g.records.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Decision{}, true, nil
		}
		return Decision{}, false, err
	}

	if rec.OwnerID != ownerID || rec.RequestHash != fingerprint {
		return Decision{}, false, domain.ErrIdempotencyConflict
	}

	if rec.Status == domain.IdempotencyStatusCompleted {
		res, err := decodeResult(rec)
		if err != nil {
			return Decision{}, false, err
		}
		return Decision{Outcome: Replay, Result: res}, false, nil
	}

	if now.Sub(rec.LockedAt) < g.opts.Lease {
		return Decision{Outcome: InProgress}, false, nil
	}
	return g.recoverStale(ctx, key, now)
}

// recoverStale handles a claim whose holder went away. If the holder got as
// far as writing the transaction, the record is completed from it.
func (g *Guard) recoverStale(ctx context.Context, key string, now time.Time) (Decision, bool, error) {
	t, err := g.txs.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		res := resultFromTransaction(t)
		if err := g.Complete(ctx, key, res); err != nil && !errors.Is(err, domain.ErrDuplicateOperation) {
			return Decision{}, false, err
		}
		return Decision{Outcome: Replay, Result: res}, false, nil
	case !errors.Is(err, domain.ErrTransactionNotFound):
		return Decision{}, false, err
	}

	took, err := g.records.TakeOver(ctx, key, now.Add(-g.opts.Lease), now)
	if err != nil {
		return Decision{}, false, err
	}
	if took {
		return Decision{Outcome: Fresh}, false, nil
	}
	return Decision{Outcome: InProgress}, false, nil
}

var errStillInProgress = errors.New("still in progress")

// Await polls BeginOrReplay with backoff until the key is no longer held by
// someone else, or Options.Wait elapses.
func (g *Guard) Await(ctx context.Context, key string, ownerID uuid.UUID, fingerprint string) (Decision, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = g.opts.Wait

	d, err := backoff.RetryWithData(func() (Decision, error) {
		d, err := g.BeginOrReplay(ctx, key, ownerID, fingerprint)
		if err != nil {
			return d, backoff.Permanent(err)
		}
		if d.Outcome == InProgress {
			return d, errStillInProgress
		}
		return d, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, errStillInProgress) {
			return Decision{}, fmt.Errorf("Await: %w", domain.ErrOperationInProgress)
		}
		return Decision{}, fmt.Errorf("Await: %w", err)
	}
	return d, nil
}

// Complete records the terminal outcome of a Fresh claim. A retryable
// failure releases the claim instead so the same key can run again.
func (g *Guard) Complete(ctx context.Context, key string, res Result) error {
	code := domain.ErrorCode(res.Err)
	if res.Err != nil && code == "" {
		if err := g.records.Release(ctx, key); err != nil {
			return fmt.Errorf("Complete: release: %w", err)
		}
		return nil
	}

	var (
		txID     *uuid.UUID
		codePtr  *string
		response []byte
	)
	if res.Transaction != nil {
		id := res.Transaction.ID
		txID = &id
		b, err := json.Marshal(res.Transaction)
		if err != nil {
			return fmt.Errorf("Complete: marshal: %w", err)
		}
		response = b
	}
	if code != "" {
		codePtr = &code
	}

	if err := g.records.Complete(ctx, key, txID, codePtr, response); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return nil
}

func decodeResult(rec *domain.IdempotencyRecord) (Result, error) {
	var res Result
	if len(rec.Response) > 0 {
		var t domain.Transaction
		if err := json.Unmarshal(rec.Response, &t); err != nil {
			return Result{}, fmt.Errorf("decodeResult: %w", err)
		}
		res.Transaction = &t
	}
	if rec.ErrorCode != nil {
		res.Err = domain.ErrorFromCode(*rec.ErrorCode)
		if res.Err == nil {
			res.Err = fmt.Errorf("%s: %w", *rec.ErrorCode, domain.ErrInvalidRequest)
		}
	}
	return res, nil
}

func resultFromTransaction(t *domain.Transaction) Result {
	if t.Status != domain.TransactionStatusFailed {
		return Result{Transaction: t}
	}
	res := Result{Transaction: t, Err: domain.ErrInvalidRequest}
	if t.Reason != nil {
		if err := domain.ErrorFromCode(*t.Reason); err != nil {
			res.Err = err
		}
	}
	return res
}
