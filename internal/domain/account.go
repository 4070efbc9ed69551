package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyHTG Currency = "HTG"
	CurrencyUSD Currency = "USD"
)

var SupportedCurrencies = []Currency{CurrencyHTG, CurrencyUSD}

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyHTG, CurrencyUSD:
		return true
	}
	return false
}

type AccountType string

const (
	AccountTypeUser AccountType = "user"
	AccountTypeFee  AccountType = "fee"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Account holds one owner's balance in one currency, in minor units.
// Version starts at 0 and increments on every applied mutation.
type Account struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Currency    Currency
	AccountType AccountType
	Balance     int64
	Version     int64
	Status      AccountStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusErr maps a non-active status to its sentinel error.
func (a *Account) StatusErr() error {
	switch a.Status {
	case AccountStatusActive:
		return nil
	case AccountStatusFrozen:
		return ErrAccountFrozen
	default:
		return ErrAccountClosed
	}
}

// AnyVersion skips the version comparison for a mutation. Only platform
// accounts are mutated this way; the non-negative balance guard still applies.
const AnyVersion int64 = -1

// AccountMutation is one balance change applied under an optimistic version check.
type AccountMutation struct {
	AccountID       uuid.UUID
	Delta           int64
	ExpectedVersion int64
}
