package domain

import (
	"time"

	"github.com/google/uuid"
)

type IdempotencyStatus string

const (
	IdempotencyStatusInProgress IdempotencyStatus = "in_progress"
	IdempotencyStatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord maps a caller-chosen key to the terminal outcome of the
// operation it identified. Once completed it is never updated.
type IdempotencyRecord struct {
	Key           string
	OwnerID       uuid.UUID
	RequestHash   string
	Status        IdempotencyStatus
	TransactionID *uuid.UUID
	ErrorCode     *string
	Response      []byte
	LockedAt      time.Time
	CompletedAt   *time.Time
	ExpiresAt     time.Time
}
