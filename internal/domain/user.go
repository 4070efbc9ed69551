package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusClosed    UserStatus = "closed"
)

type KYCStatus string

const (
	KYCStatusUnverified KYCStatus = "unverified"
	KYCStatusPending    KYCStatus = "pending"
	KYCStatusVerified   KYCStatus = "verified"
	KYCStatusRejected   KYCStatus = "rejected"
)

type Tier string

const (
	TierBasic    Tier = "basic"
	TierVerified Tier = "verified"
)

// Tier is the limit tier a KYC status entitles the owner to.
func (s KYCStatus) Tier() Tier {
	if s == KYCStatusVerified {
		return TierVerified
	}
	return TierBasic
}

type User struct {
	ID         uuid.UUID
	Email      string
	KYCStatus  KYCStatus
	Status     UserStatus
	ReferredBy *uuid.UUID
	IsSystem   bool
	CreatedAt  time.Time
}

var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
