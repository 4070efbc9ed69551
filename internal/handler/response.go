package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	if appErr.Status == http.StatusServiceUnavailable || appErr == ErrContention || appErr == ErrOperationInProgress {
		w.Header().Set("Retry-After", "1")
	}
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// domainErrors is checked in order; the first sentinel err wraps wins.
var domainErrors = []struct {
	err    error
	appErr *AppError
}{
	{domain.ErrInvalidAmount, ErrInvalidAmount},
	{domain.ErrInvalidCurrency, ErrInvalidCurrency},
	{domain.ErrInvalidRequest, ErrInvalidRequest},
	{domain.ErrInsufficientFunds, ErrInsufficientFunds},
	{domain.ErrSelfTransfer, ErrSelfTransfer},
	{domain.ErrAccountNotFound, ErrAccountNotFound},
	{domain.ErrAccountExists, ErrAccountExists},
	{domain.ErrAccountFrozen, ErrAccountFrozen},
	{domain.ErrAccountClosed, ErrAccountClosed},
	{domain.ErrKYCRequired, ErrKYCRequired},
	{domain.ErrLimitExceeded, ErrLimitExceeded},
	{domain.ErrTransactionNotFound, ErrTransactionNotFound},
	{domain.ErrNotReversible, ErrNotReversible},
	{domain.ErrAlreadyReversed, ErrAlreadyReversed},
	{domain.ErrIdempotencyConflict, ErrIdempotencyConflict},
	{domain.ErrDuplicateOperation, ErrIdempotencyConflict},
	{domain.ErrOperationInProgress, ErrOperationInProgress},
	{domain.ErrContention, ErrContention},
	{domain.ErrVersionConflict, ErrContention},
	{domain.ErrStorageUnavailable, ErrStorageUnavailable},
	{domain.ErrNotFound, ErrResourceNotFound},
}

// AppErrorFor maps err to the API error clients see.
func AppErrorFor(err error) *AppError {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.appErr
		}
	}
	return nil
}

func RespondDomainError(w http.ResponseWriter, err error) {
	appErr := AppErrorFor(err)
	if appErr == nil {
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}
	RespondAppError(w, appErr, nil)
}
