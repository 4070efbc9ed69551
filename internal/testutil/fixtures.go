package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

var (
	FeeAccountHTGID = uuid.MustParse("00000000-0000-0000-0001-000000000001")
	FeeAccountUSDID = uuid.MustParse("00000000-0000-0000-0001-000000000002")
)

// SeedUser inserts an active user with the given KYC status. referredBy may be nil.
func SeedUser(t *testing.T, db *sql.DB, kyc domain.KYCStatus, referredBy *uuid.UUID) *domain.User {
	t.Helper()

	u := &domain.User{
		ID:         uuid.New(),
		KYCStatus:  kyc,
		Status:     domain.UserStatusActive,
		ReferredBy: referredBy,
		CreatedAt:  time.Now().UTC(),
	}
	u.Email = u.ID.String() + "@wallet.test"

	_, err := db.Exec(
		`INSERT INTO users (id, email, kyc_status, status, referred_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.KYCStatus, u.Status, u.ReferredBy, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", u.Email, err)
	}
	return u
}

// SeedAccount inserts an empty active account at version 0. Tests fund it
// through the engine so the ledger stays replayable.
func SeedAccount(t *testing.T, db *sql.DB, userID uuid.UUID, currency domain.Currency) *domain.Account {
	t.Helper()

	a := &domain.Account{
		ID:          uuid.New(),
		UserID:      userID,
		Currency:    currency,
		AccountType: domain.AccountTypeUser,
		Status:      domain.AccountStatusActive,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, user_id, currency, account_type, balance, version, status, created_at)
		 VALUES ($1, $2, $3, $4, 0, 0, $5, $6)`,
		a.ID, a.UserID, a.Currency, a.AccountType, a.Status, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account %s/%s: %v", userID, currency, err)
	}
	return a
}

func SetAccountStatus(t *testing.T, db *sql.DB, accountID uuid.UUID, status domain.AccountStatus) {
	t.Helper()

	if _, err := db.Exec(`UPDATE accounts SET status = $1 WHERE id = $2`, status, accountID); err != nil {
		t.Fatalf("set account %s status: %v", accountID, err)
	}
}

func GetAccountBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get account balance %s: %v", accountID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, transactionID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE transaction_id = $1`, transactionID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for transaction %s: %v", transactionID, err)
	}
	return count
}

func CountTransactions(t *testing.T, db *sql.DB, status domain.TransactionStatus) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE status = $1`, status).Scan(&count)
	if err != nil {
		t.Fatalf("count %s transactions: %v", status, err)
	}
	return count
}
