// Package domain contains core business types and interfaces.
//
// This file defines the Platform catalog type: a third-party streaming
// service whose accounts are resold through profile slots.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Platform represents a streaming (or similar) service offered for resale.
type Platform struct {
	ID                    uuid.UUID
	Name                  string
	SupportsProfiles      bool
	MaxProfilesPerAccount *int // nil when the platform has no profile limit configured
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DefaultSlotCount returns the number of slots a new account of this platform
// exposes when it does not override the count.
//
// Platforms without profiles always expose a single slot: the whole account.
func (p *Platform) DefaultSlotCount() int {
	if !p.SupportsProfiles {
		return 1
	}
	if p.MaxProfilesPerAccount != nil && *p.MaxProfilesPerAccount > 0 {
		return *p.MaxProfilesPerAccount
	}
	return 1
}

// ResolveSlotCount validates an optional per-account override against the
// platform and returns the effective slot count.
func (p *Platform) ResolveSlotCount(override *int) (int, error) {
	const op = "platform.resolve_slot_count"

	if override == nil {
		return p.DefaultSlotCount(), nil
	}
	n := *override
	if n < 1 {
		return 0, Invalid(op, "Slot count must be at least 1")
	}
	if !p.SupportsProfiles && n > 1 {
		return 0, WithOp(ErrInvalidPlatformConfig, op)
	}
	return n, nil
}

// CheckRequest verifies that a profile request is compatible with the
// platform configuration.
func (p *Platform) CheckRequest(requiredProfiles int) error {
	const op = "platform.check_request"

	if requiredProfiles < 1 {
		return Invalid(op, "At least one profile is required")
	}
	if !p.SupportsProfiles && requiredProfiles > 1 {
		return WithOp(ErrInvalidPlatformConfig, op)
	}
	return nil
}
