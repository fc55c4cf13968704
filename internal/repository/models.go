package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Platform struct {
	ID                    uuid.UUID
	Name                  string
	SupportsProfiles      bool
	MaxProfilesPerAccount sql.NullInt32
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Offer struct {
	ID                uuid.UUID
	Name              string
	RequiredProfiles  int32
	DurationDays      int32
	DefaultPlatformID uuid.NullUUID
	PlatformIDs       []uuid.UUID
}

type Account struct {
	ID                uuid.UUID
	PlatformID        uuid.UUID
	Label             string
	Credentials       []byte
	Status            string
	SlotCount         int32
	SlotCountOverride sql.NullInt32
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AccountWithFreeSlots is an account row joined with its free slot count.
type AccountWithFreeSlots struct {
	Account
	FreeSlots int32
}

type ProfileSlot struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	SlotIndex           int32
	BoundSubscriptionID uuid.NullUUID
	BoundAt             sql.NullTime
}

type Subscription struct {
	ID               uuid.UUID
	OfferID          uuid.UUID
	UserID           uuid.UUID
	OrderID          uuid.NullUUID
	PlatformID       uuid.UUID
	RequiredProfiles int32
	BoundAccountID   uuid.NullUUID
	BoundSlotIDs     []uuid.UUID
	Status           string
	AutoRenew        bool
	StartDate        time.Time
	EndDate          time.Time
	RenewedFromID    uuid.NullUUID
	ContactNote      string
	Metadata         pqtype.NullRawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      []byte
	DedupeKey    sql.NullString
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ScheduledAt  time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}

type PlatformStats struct {
	Accounts          int32
	AvailableAccounts int32
	Slots             int32
	FreeSlots         int32
}
