package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type DenyReason string

const (
	ReasonKYCRequired   DenyReason = "KYC_REQUIRED"
	ReasonLimitExceeded DenyReason = "LIMIT_EXCEEDED"
	ReasonAccountFrozen DenyReason = "ACCOUNT_FROZEN"
	ReasonAccountClosed DenyReason = "ACCOUNT_CLOSED"
)

// Decision is the gate's verdict. Tier is the owner's effective tier as
// established from the gate's own KYC record.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Detail  string
	Tier    domain.Tier
}

func allow(tier domain.Tier) Decision {
	return Decision{Allowed: true, Tier: tier}
}

func deny(reason DenyReason, tier domain.Tier, format string, args ...any) Decision {
	return Decision{Reason: reason, Tier: tier, Detail: fmt.Sprintf(format, args...)}
}

// Err converts a denial into its sentinel error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	var base error
	switch d.Reason {
	case ReasonKYCRequired:
		base = domain.ErrKYCRequired
	case ReasonAccountFrozen:
		base = domain.ErrAccountFrozen
	case ReasonAccountClosed:
		base = domain.ErrAccountClosed
	default:
		base = domain.ErrLimitExceeded
	}
	if d.Detail == "" {
		return base
	}
	return fmt.Errorf("%s: %w", d.Detail, base)
}

type accountReader interface {
	GetAccount(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*domain.Account, error)
}

type kycReader interface {
	GetKYCStatus(ctx context.Context, ownerID uuid.UUID) (domain.KYCStatus, error)
}

type activityReader interface {
	SumCommitted(ctx context.Context, accountID uuid.UUID, kind domain.TransactionKind, since time.Time) (int64, error)
}

// Gate decides whether an owner may perform an operation. It reads ledger
// state and never writes.
type Gate struct {
	accounts accountReader
	kyc      kycReader
	activity activityReader
	limits   config.LimitsConfig
	now      func() time.Time
}

func NewGate(accounts accountReader, kyc kycReader, activity activityReader, limits config.LimitsConfig) *Gate {
	return &Gate{
		accounts: accounts,
		kyc:      kyc,
		activity: activity,
		limits:   limits,
		now:      time.Now,
	}
}

// WithClock overrides the clock used to find period boundaries.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) Authorize(ctx context.Context, ownerID uuid.UUID, kind domain.TransactionKind, amount int64, currency domain.Currency) (Decision, error) {
	acct, err := g.accounts.GetAccount(ctx, ownerID, currency)
	if err != nil {
		return Decision{}, fmt.Errorf("Authorize: %w", err)
	}

	switch acct.Status {
	case domain.AccountStatusActive:
	case domain.AccountStatusFrozen:
		return deny(ReasonAccountFrozen, "", "account %s", acct.ID), nil
	default:
		return deny(ReasonAccountClosed, "", "account %s", acct.ID), nil
	}

	if !isLimited(kind) {
		return allow(""), nil
	}

	status, err := g.kyc.GetKYCStatus(ctx, ownerID)
	if err != nil {
		return Decision{}, fmt.Errorf("Authorize: %w", err)
	}
	tier := status.Tier()

	if status == domain.KYCStatusRejected && kind != domain.KindDeposit {
		return deny(ReasonKYCRequired, tier, "kyc rejected"), nil
	}

	lim := currencyLimits(g.tierLimits(tier, kind), currency)
	if lim.perTx > 0 && amount > lim.perTx {
		if tier == domain.TierBasic {
			verified := currencyLimits(g.tierLimits(domain.TierVerified, kind), currency)
			if verified.perTx == 0 || amount <= verified.perTx {
				return deny(ReasonKYCRequired, tier, "%s of %d above basic ceiling %d", kind, amount, lim.perTx), nil
			}
		}
		return deny(ReasonLimitExceeded, tier, "%s of %d above per-transaction limit %d", kind, amount, lim.perTx), nil
	}

	now := g.now().UTC()
	periods := []struct {
		name  string
		cap   int64
		since time.Time
	}{
		{"daily", lim.daily, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)},
		{"monthly", lim.monthly, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, p := range periods {
		if p.cap <= 0 {
			continue
		}
		used, err := g.activity.SumCommitted(ctx, acct.ID, kind, p.since)
		if err != nil {
			return Decision{}, fmt.Errorf("Authorize: %s usage: %w", p.name, err)
		}
		if used+amount > p.cap {
			return deny(ReasonLimitExceeded, tier, "%s %s limit %d reached (used %d)", p.name, kind, p.cap, used), nil
		}
	}

	return allow(tier), nil
}

func isLimited(kind domain.TransactionKind) bool {
	switch kind {
	case domain.KindDeposit, domain.KindWithdrawal, domain.KindTransfer:
		return true
	}
	return false
}

func (g *Gate) tierLimits(tier domain.Tier, kind domain.TransactionKind) config.Limits {
	tl := g.limits.Basic
	if tier == domain.TierVerified {
		tl = g.limits.Verified
	}
	switch kind {
	case domain.KindDeposit:
		return tl.Deposit
	case domain.KindWithdrawal:
		return tl.Withdrawal
	default:
		return tl.Transfer
	}
}

type limitSet struct {
	perTx, daily, monthly int64
}

func currencyLimits(l config.Limits, c domain.Currency) limitSet {
	if c == domain.CurrencyUSD {
		return limitSet{l.PerTxUSD, l.DailyUSD, l.MonthlyUSD}
	}
	return limitSet{l.PerTxHTG, l.DailyHTG, l.MonthlyHTG}
}
