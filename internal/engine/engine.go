package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/policy"
)

const tracerName = "github.com/josh-kwaku/wallet-ledger/internal/engine"

type ledgerStore interface {
	GetAccount(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetFeeAccount(ctx context.Context, currency domain.Currency) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	AppendTransaction(ctx context.Context, draft *domain.TransactionDraft) (*domain.Transaction, error)
	RecordFailure(ctx context.Context, t *domain.Transaction) error
}

type transactionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	ListLinked(ctx context.Context, id uuid.UUID) ([]domain.Transaction, error)
}

type entryReader interface {
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
}

type guard interface {
	BeginOrReplay(ctx context.Context, key string, ownerID uuid.UUID, fingerprint string) (idempotency.Decision, error)
	Await(ctx context.Context, key string, ownerID uuid.UUID, fingerprint string) (idempotency.Decision, error)
	Complete(ctx context.Context, key string, res idempotency.Result) error
}

type policyGate interface {
	Authorize(ctx context.Context, ownerID uuid.UUID, kind domain.TransactionKind, amount int64, currency domain.Currency) (policy.Decision, error)
}

type feeSchedule interface {
	WithdrawalFee(amount int64, currency domain.Currency, tier domain.Tier) (int64, error)
}

// CommitObserver is notified after a fresh transaction commits. Replays do
// not notify. Observers must not block for long; they run on the caller's
// goroutine.
type CommitObserver interface {
	TransactionCommitted(ctx context.Context, t *domain.Transaction)
}

type Options struct {
	// MaxAttempts bounds how many times a draft is rebuilt and appended
	// after version conflicts before the operation fails with ErrContention.
	MaxAttempts int
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type Engine struct {
	store     ledgerStore
	txs       transactionReader
	entries   entryReader
	guard     guard
	gate      policyGate
	fees      feeSchedule
	opts      Options
	observers []CommitObserver
	tracer    trace.Tracer
	now       func() time.Time
}

func New(
	store ledgerStore,
	txs transactionReader,
	entries entryReader,
	g guard,
	gate policyGate,
	fees feeSchedule,
	opts Options,
) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Millisecond
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Engine{
		store:   store,
		txs:     txs,
		entries: entries,
		guard:   g,
		gate:    gate,
		fees:    fees,
		opts:    opts,
		tracer:  tp.Tracer(tracerName),
		now:     time.Now,
	}
}

// AddObserver registers o for commit notifications. Not safe to call
// concurrently with operations.
func (e *Engine) AddObserver(o CommitObserver) {
	e.observers = append(e.observers, o)
}

// operation describes one idempotent money movement. resolve looks up the
// accounts involved once; build reads their current versions and produces a
// draft, and is called again on every retry.
type operation struct {
	name        string
	kind        domain.TransactionKind
	owner       uuid.UUID
	currency    domain.Currency
	amount      int64
	key         string
	fingerprint string

	resolve func(ctx context.Context) error
	build   func(ctx context.Context, tier domain.Tier) (*domain.TransactionDraft, error)
	failed  func(code string) *domain.Transaction
}

// ownerKey scopes a client idempotency key to the owner that sent it, so two
// owners may use the same key independently.
func ownerKey(owner uuid.UUID, key string) string {
	if key == "" {
		return ""
	}
	return owner.String() + ":" + key
}

// matches reports whether t, found under the operation's key, records the
// same movement.
func (op operation) matches(t *domain.Transaction) bool {
	return t.Kind == op.kind && t.Currency == op.currency && t.Amount == op.amount
}

func (e *Engine) execute(ctx context.Context, op operation) (*domain.Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "engine."+op.name, trace.WithAttributes(
		attribute.String("wallet.owner_id", op.owner.String()),
		attribute.String("wallet.currency", string(op.currency)),
		attribute.Int64("wallet.amount", op.amount),
	))
	defer span.End()

	ctx = logging.With(ctx, "op", op.name, "idempotency_key", op.key, "owner_id", op.owner)
	log := logging.FromContext(ctx)

	t, err := e.executeIdempotent(ctx, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorCode(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("wallet.transaction_id", t.ID.String()))
	log.Info("transaction committed", "transaction_id", t.ID, "kind", t.Kind, "amount", t.Amount)
	return t, nil
}

func (e *Engine) executeIdempotent(ctx context.Context, op operation) (*domain.Transaction, error) {
	if op.amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !op.currency.IsValid() {
		return nil, domain.ErrInvalidCurrency
	}
	if op.key == "" {
		return nil, fmt.Errorf("missing idempotency key: %w", domain.ErrInvalidRequest)
	}

	d, err := e.guard.BeginOrReplay(ctx, op.key, op.owner, op.fingerprint)
	if err != nil {
		return nil, err
	}
	if d.Outcome == idempotency.InProgress {
		if d, err = e.guard.Await(ctx, op.key, op.owner, op.fingerprint); err != nil {
			return nil, err
		}
	}
	if d.Outcome == idempotency.Replay {
		logging.FromContext(ctx).Debug("replaying stored outcome")
		if d.Result.Err != nil {
			return nil, d.Result.Err
		}
		return d.Result.Transaction, nil
	}

	t, prior, runErr := e.run(ctx, op)

	res := idempotency.Result{Transaction: t, Err: runErr}
	if runErr != nil {
		res.Transaction = nil
	}
	// The outcome is stored even if the caller has gone away; a committed
	// transaction must not be re-executed under the same key.
	if err := e.guard.Complete(context.WithoutCancel(ctx), op.key, res); err != nil {
		logging.FromContext(ctx).Error("failed to complete idempotency record", "error", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	if prior {
		logging.FromContext(ctx).Debug("key already committed", "transaction_id", t.ID)
		return t, nil
	}

	for _, o := range e.observers {
		o.TransactionCommitted(ctx, t)
	}
	return t, nil
}

// run reports prior when the outcome is a transaction committed under the
// key before this call.
func (e *Engine) run(ctx context.Context, op operation) (*domain.Transaction, bool, error) {
	if op.resolve != nil {
		if err := op.resolve(ctx); err != nil {
			return nil, false, err
		}
	}

	tier := domain.TierBasic
	if op.kind != domain.KindReversal {
		dec, err := e.gate.Authorize(ctx, op.owner, op.kind, op.amount, op.currency)
		if err != nil {
			return nil, false, err
		}
		if !dec.Allowed {
			logging.FromContext(ctx).Info("operation denied by policy", "reason", dec.Reason, "detail", dec.Detail)
			return nil, false, e.recordFailure(ctx, op, dec.Err())
		}
		if dec.Tier != "" {
			tier = dec.Tier
		}
	}

	t, prior, err := e.appendWithRetry(ctx, op.key, op.matches, func(ctx context.Context) (*domain.TransactionDraft, error) {
		return op.build(ctx, tier)
	})
	if err != nil {
		if !prior && domain.ErrorCode(err) != "" {
			return nil, false, e.recordFailure(ctx, op, err)
		}
		return nil, prior, err
	}
	return t, prior, nil
}

// recordFailure stores a failed transaction for a terminal business
// rejection and returns cause unchanged.
func (e *Engine) recordFailure(ctx context.Context, op operation, cause error) error {
	if op.failed == nil {
		return cause
	}
	t := op.failed(domain.ErrorCode(cause))
	if t == nil || (t.SourceAccountID == nil && t.DestAccountID == nil) {
		return cause
	}
	if err := e.store.RecordFailure(context.WithoutCancel(ctx), t); err != nil {
		logging.FromContext(ctx).Warn("failed to record failed transaction", "error", err, "reason", domain.ErrorCode(cause))
	}
	return cause
}

// appendWithRetry builds and appends a draft, rebuilding it from fresh
// account reads after a version conflict or a storage failure. A duplicate
// key on the append means the key already holds a transaction: either an
// earlier attempt of this call committed and its result was lost, or the key
// was used before. The stored outcome is returned when it records the same
// movement, and prior reports the latter case. A transaction that does not
// match is ErrIdempotencyConflict.
func (e *Engine) appendWithRetry(
	ctx context.Context,
	key string,
	matches func(*domain.Transaction) bool,
	build func(ctx context.Context) (*domain.TransactionDraft, error),
) (*domain.Transaction, bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInterval
	b.MaxInterval = 50 * e.opts.RetryInterval
	b.MaxElapsedTime = 0

	attempts := 0
	prior := false
	built := map[uuid.UUID]struct{}{}
	t, err := backoff.RetryWithData(func() (*domain.Transaction, error) {
		attempts++
		draft, err := build(ctx)
		if err != nil {
			return nil, retryable(err)
		}
		built[draft.Transaction.ID] = struct{}{}
		t, err := e.store.AppendTransaction(ctx, draft)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, domain.ErrDuplicateOperation) && key != "" {
			existing, lookupErr := e.txs.GetByIdempotencyKey(ctx, key)
			if lookupErr == nil {
				return e.existingOutcome(ctx, existing, matches, built, &prior)
			}
		}
		if attempts > 1 {
			logging.FromContext(ctx).Debug("append attempt failed", "attempt", attempts, "error", err)
		}
		return nil, retryable(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxAttempts-1)), ctx))
	if err == nil {
		return t, prior, nil
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		logging.FromContext(ctx).Warn("giving up after version conflicts", "attempts", attempts)
		return nil, false, fmt.Errorf("%d attempts: %w", attempts, domain.ErrContention)
	}
	return nil, prior, err
}

func (e *Engine) existingOutcome(
	ctx context.Context,
	existing *domain.Transaction,
	matches func(*domain.Transaction) bool,
	built map[uuid.UUID]struct{},
	prior *bool,
) (*domain.Transaction, error) {
	if _, ours := built[existing.ID]; ours {
		return existing, nil
	}
	*prior = true
	if matches != nil && !matches(existing) {
		logging.FromContext(ctx).Warn("key reused for a different movement",
			"existing_transaction_id", existing.ID, "existing_kind", existing.Kind, "existing_amount", existing.Amount)
		return nil, backoff.Permanent(domain.ErrIdempotencyConflict)
	}
	if existing.Status != domain.TransactionStatusFailed {
		return existing, nil
	}
	// The key already failed terminally; its record was swept.
	if existing.Reason != nil {
		if stored := domain.ErrorFromCode(*existing.Reason); stored != nil {
			return nil, backoff.Permanent(stored)
		}
	}
	return nil, backoff.Permanent(domain.ErrIdempotencyConflict)
}

func retryable(err error) error {
	if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return backoff.Permanent(err)
}

func (e *Engine) newTransaction(kind domain.TransactionKind, currency domain.Currency, amount int64, key string) *domain.Transaction {
	t := &domain.Transaction{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    domain.TransactionStatusPending,
		Amount:    amount,
		Currency:  currency,
		CreatedAt: e.now().UTC().Truncate(time.Microsecond),
	}
	if key != "" {
		t.IdempotencyKey = &key
	}
	return t
}

func (e *Engine) failedTransaction(kind domain.TransactionKind, currency domain.Currency, amount int64, key, code string) *domain.Transaction {
	t := e.newTransaction(kind, currency, amount, key)
	t.Status = domain.TransactionStatusFailed
	if code != "" {
		t.Reason = &code
	}
	return t
}

// versions hands out expected versions for accounts mutated more than once
// in a draft tree. Platform accounts are credited without a version check.
type versions map[uuid.UUID]int64

func (v versions) next(a *domain.Account) int64 {
	if a.AccountType == domain.AccountTypeFee {
		return domain.AnyVersion
	}
	cur, ok := v[a.ID]
	if !ok {
		cur = a.Version
	}
	v[a.ID] = cur + 1
	return cur
}

func ptr[T any](v T) *T {
	return &v
}
