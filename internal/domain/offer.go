package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Offer is a sellable bundle specifying how many profiles a customer receives
// and for how long.
type Offer struct {
	ID                uuid.UUID
	Name              string
	RequiredProfiles  int
	DurationDays      int
	DefaultPlatformID *uuid.UUID
	PlatformIDs       []uuid.UUID // allowed platforms
}

// ResolvedOffer is the resource shape an offer maps to on one platform.
type ResolvedOffer struct {
	OfferID          uuid.UUID
	PlatformID       uuid.UUID
	RequiredProfiles int
	DurationDays     int
}

// Allows returns true if the offer can be fulfilled on the platform.
func (o *Offer) Allows(platformID uuid.UUID) bool {
	if o.DefaultPlatformID != nil && *o.DefaultPlatformID == platformID {
		return true
	}
	return slices.Contains(o.PlatformIDs, platformID)
}

// Resolve maps the offer onto a platform. A nil platform selects the offer's
// default platform.
func (o *Offer) Resolve(platformID *uuid.UUID) (ResolvedOffer, error) {
	const op = "offer.resolve"

	if o.RequiredProfiles < 1 {
		return ResolvedOffer{}, Errorf(ECONFIG, op, "offer %s requires no profiles", o.ID)
	}
	if o.DurationDays < 1 {
		return ResolvedOffer{}, Errorf(ECONFIG, op, "offer %s has no duration", o.ID)
	}

	var target uuid.UUID
	switch {
	case platformID != nil:
		if !o.Allows(*platformID) {
			return ResolvedOffer{}, Invalid(op, "This offer is not available on the selected platform")
		}
		target = *platformID
	case o.DefaultPlatformID != nil:
		target = *o.DefaultPlatformID
	case len(o.PlatformIDs) == 1:
		target = o.PlatformIDs[0]
	default:
		return ResolvedOffer{}, Invalid(op, "A platform must be selected for this offer")
	}

	return ResolvedOffer{
		OfferID:          o.ID,
		PlatformID:       target,
		RequiredProfiles: o.RequiredProfiles,
		DurationDays:     o.DurationDays,
	}, nil
}

// Window returns the subscription window starting at start.
func (r ResolvedOffer) Window(start time.Time) (time.Time, time.Time) {
	return start, start.AddDate(0, 0, r.DurationDays)
}
