package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrSelfTransfer        = errors.New("cannot transfer to same account")
	ErrAccountExists       = errors.New("account already exists for this currency")

	ErrKYCRequired   = errors.New("kyc verification required")
	ErrLimitExceeded = errors.New("transaction limit exceeded")
	ErrAccountFrozen = errors.New("account frozen")
	ErrAccountClosed = errors.New("account closed")

	ErrVersionConflict = errors.New("optimistic lock conflict")
	ErrContention      = errors.New("too much contention on account, retry later")

	ErrDuplicateOperation  = errors.New("duplicate operation")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrOperationInProgress = errors.New("operation with this idempotency key is still in progress")

	ErrNotReversible   = errors.New("transaction cannot be reversed")
	ErrAlreadyReversed = errors.New("transaction already reversed")

	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Stable codes persisted with idempotency records and returned to API clients.
const (
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidCurrency     = "INVALID_CURRENCY"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeSelfTransfer        = "SELF_TRANSFER_NOT_ALLOWED"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeKYCRequired         = "KYC_REQUIRED"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
	CodeAccountFrozen       = "ACCOUNT_FROZEN"
	CodeAccountClosed       = "ACCOUNT_CLOSED"
	CodeNotReversible       = "NOT_REVERSIBLE"
	CodeAlreadyReversed     = "ALREADY_REVERSED"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeInvalidRequest      = "INVALID_REQUEST"
)

var codeTable = []struct {
	code string
	err  error
}{
	{CodeInvalidAmount, ErrInvalidAmount},
	{CodeInvalidCurrency, ErrInvalidCurrency},
	{CodeInsufficientFunds, ErrInsufficientFunds},
	{CodeSelfTransfer, ErrSelfTransfer},
	{CodeAccountNotFound, ErrAccountNotFound},
	{CodeKYCRequired, ErrKYCRequired},
	{CodeLimitExceeded, ErrLimitExceeded},
	{CodeAccountFrozen, ErrAccountFrozen},
	{CodeAccountClosed, ErrAccountClosed},
	{CodeNotReversible, ErrNotReversible},
	{CodeAlreadyReversed, ErrAlreadyReversed},
	{CodeTransactionNotFound, ErrTransactionNotFound},
	{CodeInvalidRequest, ErrInvalidRequest},
}

// ErrorCode returns the stable code for a terminal business failure, or ""
// when err is not one (retryable and unexpected errors have no code).
func ErrorCode(err error) string {
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrorFromCode is the inverse of ErrorCode.
func ErrorFromCode(code string) error {
	for _, c := range codeTable {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// IsRetryable reports whether the same request may be submitted again with
// the same idempotency key and be executed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrContention) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrOperationInProgress)
}
