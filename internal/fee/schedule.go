package fee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

// Schedule prices withdrawals and affiliate commissions. It is a pure
// function of its configuration and inputs; amounts are minor units.
type Schedule struct {
	pctByTier     map[domain.Tier]decimal.Decimal
	minByCurrency map[domain.Currency]int64
	commissionPct decimal.Decimal
}

func NewSchedule(fees config.FeeConfig, affiliate config.AffiliateConfig) *Schedule {
	return &Schedule{
		pctByTier: map[domain.Tier]decimal.Decimal{
			domain.TierBasic:    fees.BasicPct,
			domain.TierVerified: fees.VerifiedPct,
		},
		minByCurrency: map[domain.Currency]int64{
			domain.CurrencyHTG: fees.MinHTG,
			domain.CurrencyUSD: fees.MinUSD,
		},
		commissionPct: affiliate.CommissionPct,
	}
}

// WithdrawalFee returns the fee charged on top of amount. The percentage is
// rounded half away from zero to whole minor units and never goes below the
// currency minimum.
func (s *Schedule) WithdrawalFee(amount int64, currency domain.Currency, tier domain.Tier) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("WithdrawalFee: %w", domain.ErrInvalidAmount)
	}
	if !currency.IsValid() {
		return 0, fmt.Errorf("WithdrawalFee: %s: %w", currency, domain.ErrInvalidCurrency)
	}

	pct, ok := s.pctByTier[tier]
	if !ok {
		pct = s.pctByTier[domain.TierBasic]
	}

	fee := decimal.NewFromInt(amount).Mul(pct).Round(0).IntPart()
	if floor := s.minByCurrency[currency]; fee < floor {
		fee = floor
	}
	if fee < 0 {
		fee = 0
	}
	return fee, nil
}

// CommissionFor returns the affiliate commission earned on a qualifying amount.
func (s *Schedule) CommissionFor(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	c := decimal.NewFromInt(amount).Mul(s.commissionPct).Round(0).IntPart()
	if c < 0 {
		return 0
	}
	return c
}
