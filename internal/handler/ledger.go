package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/readmodel"
)

type ledgerReader interface {
	CurrentBalance(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*readmodel.Balance, error)
	TransactionHistory(ctx context.Context, ownerID uuid.UUID, pageToken string, limit int) (*readmodel.HistoryPage, error)
}

type LedgerHandler struct {
	reads ledgerReader
}

func NewLedgerHandler(reads ledgerReader) *LedgerHandler {
	return &LedgerHandler{reads: reads}
}

type balanceDTO struct {
	OwnerID     uuid.UUID `json:"owner_id"`
	Currency    string    `json:"currency"`
	Balance     int64     `json:"balance"`
	AsOfVersion int64     `json:"as_of_version"`
}

type historyDTO struct {
	Items    []transactionDTO `json:"items"`
	NextPage string           `json:"next_page,omitempty"`
}

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	ownerID, appErr := ownerFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	currency := r.URL.Query().Get("currency")
	if fields := validateCurrency("currency", currency); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	b, err := h.reads.CurrentBalance(r.Context(), ownerID, domain.Currency(currency))
	if err != nil {
		logging.FromContext(r.Context()).Warn("balance lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{
		OwnerID:     ownerID,
		Currency:    string(b.Currency),
		Balance:     b.Amount,
		AsOfVersion: b.AsOfVersion,
	})
}

func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID, appErr := ownerFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be an integer"}})
			return
		}
		limit = n
	}

	page, err := h.reads.TransactionHistory(r.Context(), ownerID, q.Get("page"), limit)
	if err != nil {
		logging.FromContext(r.Context()).Warn("history lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	items := make([]transactionDTO, len(page.Items))
	for i := range page.Items {
		items[i] = toTransactionDTO(&page.Items[i])
	}
	RespondSuccess(w, http.StatusOK, historyDTO{Items: items, NextPage: page.NextPage})
}
