// Package domain contains core business types and interfaces.
//
// This file defines pool accounts and their profile slots.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Account Status
// =============================================================================

// AccountStatus represents whether an account can receive new reservations.
type AccountStatus string

const (
	// AccountStatusAvailable accounts take part in allocation.
	AccountStatusAvailable AccountStatus = "available"

	// AccountStatusDisabled accounts keep their bound slots but receive no
	// new reservations (e.g. while credentials are being fixed).
	AccountStatusDisabled AccountStatus = "disabled"

	// AccountStatusRetired accounts are being phased out of the pool.
	AccountStatusRetired AccountStatus = "retired"
)

// String returns the string representation of the status.
func (s AccountStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusAvailable, AccountStatusDisabled, AccountStatusRetired:
		return true
	}
	return false
}

// =============================================================================
// Account
// =============================================================================

// Account is a credential set on a platform, shared across customers through
// its profile slots.
type Account struct {
	ID                uuid.UUID
	PlatformID        uuid.UUID
	Label             string
	Credentials       []byte // sealed, opaque to the allocation engine
	Status            AccountStatus
	SlotCount         int
	SlotCountOverride *int
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Computed fields (populated by the slot registry)
	FreeSlots int
}

// IsAvailable returns true if the account may receive new reservations.
func (a *Account) IsAvailable() bool {
	return a.Status == AccountStatusAvailable
}

// BoundSlots returns the number of slots currently bound to subscriptions.
func (a *Account) BoundSlots() int {
	return a.SlotCount - a.FreeSlots
}

// AccountCredentials is the plaintext form of an account's login details.
// It only exists in memory; the registry stores the sealed form.
type AccountCredentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	PIN      string `json:"pin,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// CreateAccountParams contains parameters for adding an account to the pool.
type CreateAccountParams struct {
	PlatformID        uuid.UUID
	Label             string
	Credentials       AccountCredentials
	SlotCountOverride *int
}

// =============================================================================
// Profile Slot
// =============================================================================

// PrincipalSlotIndex is the slot that conventionally carries elevated account
// access. It is reserved last.
const PrincipalSlotIndex = 1

// ProfileSlot is one concurrent-use position within an account.
type ProfileSlot struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	SlotIndex           int
	BoundSubscriptionID *uuid.UUID
	BoundAt             *time.Time
}

// IsFree returns true if no subscription holds the slot.
func (s *ProfileSlot) IsFree() bool {
	return s.BoundSubscriptionID == nil
}

// IsPrincipal returns true for the account's principal slot.
func (s *ProfileSlot) IsPrincipal() bool {
	return s.SlotIndex == PrincipalSlotIndex
}

// SlotIDs extracts the slot IDs in order.
func SlotIDs(slots []ProfileSlot) []uuid.UUID {
	ids := make([]uuid.UUID, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	return ids
}

// PoolStats summarizes capacity of a platform's account pool.
type PoolStats struct {
	PlatformID        uuid.UUID
	Accounts          int
	AvailableAccounts int
	Slots             int
	FreeSlots         int // free slots on available accounts only
}
