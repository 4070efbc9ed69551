package affiliate

import (
	"context"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/engine"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type accountReader interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type referrerReader interface {
	GetReferrer(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error)
}

type commissionCalculator interface {
	CommissionFor(amount int64) int64
}

type commissionCrediter interface {
	CreditAffiliateCommission(ctx context.Context, req engine.CommissionRequest) (*domain.Transaction, error)
}

// Observer credits referrers when a referred user's qualifying deposit
// commits. It never fails the deposit; problems are logged.
type Observer struct {
	accounts   accountReader
	referrers  referrerReader
	calc       commissionCalculator
	crediter   commissionCrediter
	qualifying map[domain.Currency]int64
}

func NewObserver(accounts accountReader, referrers referrerReader, calc commissionCalculator, crediter commissionCrediter, cfg config.AffiliateConfig) *Observer {
	return &Observer{
		accounts:  accounts,
		referrers: referrers,
		calc:      calc,
		crediter:  crediter,
		qualifying: map[domain.Currency]int64{
			domain.CurrencyHTG: cfg.MinQualifyingHTG,
			domain.CurrencyUSD: cfg.MinQualifyingUSD,
		},
	}
}

// CommissionKey is the idempotency key for the commission earned on
// transaction id, so each deposit pays out at most once.
func CommissionKey(id uuid.UUID) string {
	return "commission:" + id.String()
}

func (o *Observer) TransactionCommitted(ctx context.Context, t *domain.Transaction) {
	if t.Kind != domain.KindDeposit || t.DestAccountID == nil {
		return
	}
	if t.Amount < o.qualifying[t.Currency] {
		return
	}

	// The deposit is committed; its commission must not depend on the
	// depositor's request staying open.
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx).With("originating_transaction_id", t.ID)

	acct, err := o.accounts.GetAccountByID(ctx, *t.DestAccountID)
	if err != nil {
		log.Warn("affiliate: failed to load deposit account", "error", err)
		return
	}
	referrer, err := o.referrers.GetReferrer(ctx, acct.UserID)
	if err != nil {
		log.Warn("affiliate: failed to load referrer", "error", err)
		return
	}
	if referrer == nil {
		return
	}

	amount := o.calc.CommissionFor(t.Amount)
	if amount <= 0 {
		return
	}

	c, err := o.crediter.CreditAffiliateCommission(ctx, engine.CommissionRequest{
		ReferrerID:               *referrer,
		Currency:                 t.Currency,
		Amount:                   amount,
		OriginatingTransactionID: t.ID,
		IdempotencyKey:           CommissionKey(t.ID),
	})
	if err != nil {
		log.Warn("affiliate: commission not credited", "referrer_id", *referrer, "amount", amount, "error", err)
		return
	}
	log.Info("affiliate commission credited", "referrer_id", *referrer, "commission_transaction_id", c.ID, "amount", amount)
}
