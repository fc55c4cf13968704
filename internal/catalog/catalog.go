// Package catalog is the read side of platform and offer reference data.
package catalog

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

// Store provides lookup of platforms and offers.
type Store interface {
	GetPlatform(ctx context.Context, id uuid.UUID) (*domain.Platform, error)
	ListPlatforms(ctx context.Context) ([]domain.Platform, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error)
}

// Resolver maps a purchased offer onto a platform and checks the platform can
// carry the requested profile count.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates an offer resolver over the given store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
	}
}

// Resolve returns the resource shape for offerID. A nil platformID selects the
// offer's default platform.
func (r *Resolver) Resolve(ctx context.Context, offerID uuid.UUID, platformID *uuid.UUID) (domain.ResolvedOffer, error) {
	const op = "catalog.resolve"

	offer, err := r.store.GetOffer(ctx, offerID)
	if err != nil {
		return domain.ResolvedOffer{}, err
	}

	resolved, err := offer.Resolve(platformID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ECONFIG {
			r.logger.Error("offer misconfigured", "error", err, "offer_id", offerID)
		}
		return domain.ResolvedOffer{}, err
	}

	platform, err := r.store.GetPlatform(ctx, resolved.PlatformID)
	if err != nil {
		return domain.ResolvedOffer{}, err
	}
	if err := platform.CheckRequest(resolved.RequiredProfiles); err != nil {
		r.logger.Error("offer incompatible with platform",
			"error", err,
			"op", op,
			"offer_id", offerID,
			"platform_id", platform.ID,
			"required_profiles", resolved.RequiredProfiles,
		)
		return domain.ResolvedOffer{}, err
	}

	return resolved, nil
}

// Platform returns the platform by id.
func (r *Resolver) Platform(ctx context.Context, id uuid.UUID) (*domain.Platform, error) {
	return r.store.GetPlatform(ctx, id)
}
