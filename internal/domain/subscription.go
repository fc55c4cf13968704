// Package domain contains core business types and interfaces.
//
// This file defines the Subscription type and its lifecycle state machine.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Subscription Status
// =============================================================================

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	// SubscriptionStatusPending is the initial state. Slots are already
	// reserved so they cannot be sold twice while payment settles.
	SubscriptionStatusPending SubscriptionStatus = "pending"

	// SubscriptionStatusActive indicates payment/fulfillment is confirmed.
	SubscriptionStatusActive SubscriptionStatus = "active"

	// SubscriptionStatusContactNeeded is a holding state that requires manual
	// staff action. Slots stay bound.
	SubscriptionStatusContactNeeded SubscriptionStatus = "contact_needed"

	// SubscriptionStatusExpired is terminal. Slots have been released.
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

// String returns the string representation of the status.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive,
		SubscriptionStatusContactNeeded, SubscriptionStatusExpired:
		return true
	}
	return false
}

// IsLive returns true for every state that holds slots.
func (s SubscriptionStatus) IsLive() bool {
	return s.IsValid() && s != SubscriptionStatusExpired
}

// CanTransitionTo checks if a subscription can move to the target status.
//
// Valid transitions:
// - pending -> active (payment confirmed)
// - pending, active -> contact_needed (operational exception)
// - contact_needed -> active (client contacted)
// - any live status -> expired
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	if s == SubscriptionStatusExpired {
		return false
	}
	if target == SubscriptionStatusExpired {
		return true
	}

	switch s {
	case SubscriptionStatusPending:
		return target == SubscriptionStatusActive || target == SubscriptionStatusContactNeeded
	case SubscriptionStatusActive:
		return target == SubscriptionStatusContactNeeded
	case SubscriptionStatusContactNeeded:
		return target == SubscriptionStatusActive
	}

	return false
}

// =============================================================================
// Subscription Domain Type
// =============================================================================

// Subscription binds a customer's purchase to specific reserved slots for a
// time window.
type Subscription struct {
	ID               uuid.UUID
	OfferID          uuid.UUID
	UserID           uuid.UUID
	OrderID          *uuid.UUID
	PlatformID       uuid.UUID
	RequiredProfiles int
	BoundAccountID   *uuid.UUID  // kept after expiry so renewals can prefer it
	BoundSlotIDs     []uuid.UUID // cleared on expiry
	Status           SubscriptionStatus
	AutoRenew        bool
	StartDate        time.Time
	EndDate          time.Time
	RenewedFromID    *uuid.UUID
	ContactNote      string
	Allocation       AllocationInfo
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLive returns true while the subscription holds slots.
func (s *Subscription) IsLive() bool {
	return s.Status.IsLive()
}

// IsDue returns true once the subscription window has ended.
func (s *Subscription) IsDue(now time.Time) bool {
	return !s.EndDate.After(now)
}

// NeedsSweep reports whether the expiry sweep should act on the
// subscription at now. A contact-needed subscription that auto-renews is
// left for staff; one that does not is expired like any other.
func (s *Subscription) NeedsSweep(now time.Time) bool {
	if !s.IsDue(now) {
		return false
	}
	switch s.Status {
	case SubscriptionStatusPending, SubscriptionStatusActive:
		return true
	case SubscriptionStatusContactNeeded:
		return !s.AutoRenew
	}
	return false
}

// TransitionTo moves the subscription to the target status, or returns an
// error and leaves the status unchanged.
func (s *Subscription) TransitionTo(target SubscriptionStatus) error {
	if !s.Status.CanTransitionTo(target) {
		return &Error{
			Code:    ErrInvalidTransition.Code,
			Op:      "subscription.transition",
			Message: fmt.Sprintf("cannot transition subscription from %s to %s", s.Status, target),
			Err:     ErrInvalidTransition,
		}
	}
	s.Status = target
	if target == SubscriptionStatusExpired {
		s.BoundSlotIDs = nil
	}
	return nil
}

// =============================================================================
// Subscription Service Parameters
// =============================================================================

// CreateSubscriptionParams contains parameters for creating a subscription at
// order time.
type CreateSubscriptionParams struct {
	OfferID    uuid.UUID
	UserID     uuid.UUID
	OrderID    *uuid.UUID
	PlatformID *uuid.UUID // optional; defaults to the offer's default platform
	AutoRenew  bool
}

// RenewSubscriptionParams contains parameters for renewing a subscription.
type RenewSubscriptionParams struct {
	SubscriptionID uuid.UUID
	OrderID        *uuid.UUID // optional order that paid for the renewal
}
