package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type transactionDTO struct {
	ID                   uuid.UUID  `json:"id"`
	Kind                 string     `json:"kind"`
	Status               string     `json:"status"`
	SourceAccountID      *uuid.UUID `json:"source_account_id"`
	DestAccountID        *uuid.UUID `json:"dest_account_id"`
	Amount               int64      `json:"amount"`
	FeeAmount            int64      `json:"fee_amount"`
	Currency             string     `json:"currency"`
	RelatedTransactionID *uuid.UUID `json:"related_transaction_id,omitempty"`
	Reason               *string    `json:"reason,omitempty"`
	SourceBalanceAfter   *int64     `json:"source_balance_after,omitempty"`
	DestBalanceAfter     *int64     `json:"dest_balance_after,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toTransactionDTO(t *domain.Transaction) transactionDTO {
	return transactionDTO{
		ID:                   t.ID,
		Kind:                 string(t.Kind),
		Status:               string(t.Status),
		SourceAccountID:      t.SourceAccountID,
		DestAccountID:        t.DestAccountID,
		Amount:               t.Amount,
		FeeAmount:            t.FeeAmount,
		Currency:             string(t.Currency),
		RelatedTransactionID: t.RelatedTransactionID,
		Reason:               t.Reason,
		SourceBalanceAfter:   t.SourceBalanceAfter,
		DestBalanceAfter:     t.DestBalanceAfter,
		CreatedAt:            t.CreatedAt,
	}
}

func validateCurrency(field, c string) []FieldError {
	if c == "" {
		return []FieldError{{Field: field, Message: "required"}}
	}
	if !domain.Currency(c).IsValid() {
		return []FieldError{{Field: field, Message: "must be HTG or USD"}}
	}
	return nil
}

func validateAmount(amount int64) []FieldError {
	if amount <= 0 {
		return []FieldError{{Field: "amount", Message: "must be greater than 0"}}
	}
	return nil
}
