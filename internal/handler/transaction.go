package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/domain"
	"github.com/josh-kwaku/wallet-ledger/internal/engine"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

type ledgerEngine interface {
	Deposit(ctx context.Context, req engine.DepositRequest) (*domain.Transaction, error)
	Withdraw(ctx context.Context, req engine.WithdrawRequest) (*domain.Transaction, error)
	Transfer(ctx context.Context, req engine.TransferRequest) (*domain.Transaction, error)
}

type TransactionHandler struct {
	engine ledgerEngine
}

func NewTransactionHandler(e ledgerEngine) *TransactionHandler {
	return &TransactionHandler{engine: e}
}

type movementRequest struct {
	OwnerID  uuid.UUID `json:"owner_id"`
	Currency string    `json:"currency"`
	Amount   int64     `json:"amount"`
}

func (r movementRequest) Validate() []FieldError {
	var errs []FieldError
	if r.OwnerID == uuid.Nil {
		errs = append(errs, FieldError{Field: "owner_id", Message: "required"})
	}
	errs = append(errs, validateCurrency("currency", r.Currency)...)
	errs = append(errs, validateAmount(r.Amount)...)
	return errs
}

type transferRequest struct {
	ToOwnerID uuid.UUID `json:"to_owner_id"`
	Currency  string    `json:"currency"`
	Amount    int64     `json:"amount"`
}

func (r transferRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ToOwnerID == uuid.Nil {
		errs = append(errs, FieldError{Field: "to_owner_id", Message: "required"})
	}
	errs = append(errs, validateCurrency("currency", r.Currency)...)
	errs = append(errs, validateAmount(r.Amount)...)
	return errs
}

// decodeMovement parses a deposit or withdrawal body and checks the caller
// may move the owner's funds.
func decodeMovement(w http.ResponseWriter, r *http.Request) (movementRequest, bool) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return req, false
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return req, false
	}
	if appErr := authorizeOwner(r, req.OwnerID); appErr != nil {
		RespondAppError(w, appErr, nil)
		return req, false
	}
	return req, true
}

func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMovement(w, r)
	if !ok {
		return
	}

	t, err := h.engine.Deposit(r.Context(), engine.DepositRequest{
		OwnerID:        req.OwnerID,
		Currency:       domain.Currency(req.Currency),
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("deposit failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toTransactionDTO(t))
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMovement(w, r)
	if !ok {
		return
	}

	t, err := h.engine.Withdraw(r.Context(), engine.WithdrawRequest{
		OwnerID:        req.OwnerID,
		Currency:       domain.Currency(req.Currency),
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("withdrawal failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toTransactionDTO(t))
}

// Transfer always debits the caller.
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	t, err := h.engine.Transfer(r.Context(), engine.TransferRequest{
		FromOwnerID:    userID,
		ToOwnerID:      req.ToOwnerID,
		Currency:       domain.Currency(req.Currency),
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("transfer failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toTransactionDTO(t))
}
