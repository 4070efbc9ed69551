package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed to perform this action"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount       = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCurrency     = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrInsufficientFunds   = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrSelfTransfer        = &AppError{http.StatusUnprocessableEntity, "SELF_TRANSFER_NOT_ALLOWED", "Cannot transfer to the same account"}
	ErrAccountNotFound     = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_NOT_FOUND", "Account not found"}
	ErrAccountExists       = &AppError{http.StatusConflict, "ACCOUNT_ALREADY_EXISTS", "Account already exists for this currency"}
	ErrAccountFrozen       = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_FROZEN", "Account is frozen"}
	ErrAccountClosed       = &AppError{http.StatusUnprocessableEntity, "ACCOUNT_CLOSED", "Account is closed"}
	ErrKYCRequired         = &AppError{http.StatusForbidden, "KYC_REQUIRED", "Identity verification required"}
	ErrLimitExceeded       = &AppError{http.StatusUnprocessableEntity, "LIMIT_EXCEEDED", "Transaction limit exceeded"}
	ErrTransactionNotFound = &AppError{http.StatusNotFound, "TRANSACTION_NOT_FOUND", "Transaction not found"}
	ErrNotReversible       = &AppError{http.StatusUnprocessableEntity, "NOT_REVERSIBLE", "Transaction cannot be reversed"}
	ErrAlreadyReversed     = &AppError{http.StatusConflict, "ALREADY_REVERSED", "Transaction already reversed"}

	ErrContention            = &AppError{http.StatusConflict, "CONTENTION", "Account is busy, please retry"}
	ErrStorageUnavailable    = &AppError{http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Ledger temporarily unavailable, please retry"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrOperationInProgress   = &AppError{http.StatusConflict, "OPERATION_IN_PROGRESS", "A request with this idempotency key is still being processed"}
)
