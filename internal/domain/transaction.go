package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
	KindFee        TransactionKind = "fee"
	KindCommission TransactionKind = "commission"
	KindReversal   TransactionKind = "reversal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCommitted TransactionStatus = "committed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

// Transaction is the immutable record of one money movement. Only Status may
// change after insert, and only from committed to reversed.
type Transaction struct {
	ID                   uuid.UUID
	Kind                 TransactionKind
	Status               TransactionStatus
	SourceAccountID      *uuid.UUID
	DestAccountID        *uuid.UUID
	Amount               int64
	FeeAmount            int64
	Currency             Currency
	IdempotencyKey       *string
	RelatedTransactionID *uuid.UUID
	Reason               *string
	SourceBalanceAfter   *int64
	DestBalanceAfter     *int64
	CreatedAt            time.Time
}

// TransactionDraft is what the engine hands to the ledger store: the record
// to insert, the balance mutations it implies, and any linked drafts that must
// commit in the same unit.
type TransactionDraft struct {
	Transaction *Transaction
	Mutations   []AccountMutation
	Linked      []*TransactionDraft
	// Reverses lists committed transactions flipped to reversed in the same unit.
	Reverses []uuid.UUID
}

type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// LedgerEntry is one account-side effect of a transaction. Version is the
// account version after the entry was applied.
type LedgerEntry struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	EntryType     EntryType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Version       int64
	CreatedAt     time.Time
}

// Delta is the signed balance change of the entry.
func (e LedgerEntry) Delta() int64 {
	if e.EntryType == EntryTypeDebit {
		return -e.Amount
	}
	return e.Amount
}
