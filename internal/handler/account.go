package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type accountOpener interface {
	OpenAccount(ctx context.Context, ownerID uuid.UUID, currency domain.Currency) (*domain.Account, error)
}

type AccountHandler struct {
	accounts accountOpener
}

func NewAccountHandler(accounts accountOpener) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type openAccountRequest struct {
	Currency string `json:"currency"`
}

func (r openAccountRequest) Validate() []FieldError {
	return validateCurrency("currency", r.Currency)
}

type accountDTO struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:        a.ID,
		UserID:    a.UserID,
		Currency:  string(a.Currency),
		Balance:   a.Balance,
		Version:   a.Version,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
}

func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID, appErr := ownerFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	account, err := h.accounts.OpenAccount(r.Context(), userID, domain.Currency(req.Currency))
	if err != nil {
		logging.FromContext(r.Context()).Warn("failed to open account", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toAccountDTO(account))
}
