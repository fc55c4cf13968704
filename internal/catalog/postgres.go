package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/repository"
	"github.com/google/uuid"
)

// PostgresStore reads the catalog from Postgres.
type PostgresStore struct {
	queries *repository.Queries
}

// NewPostgresStore creates a catalog store backed by Postgres.
func NewPostgresStore(queries *repository.Queries) *PostgresStore {
	return &PostgresStore{queries: queries}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) GetPlatform(ctx context.Context, id uuid.UUID) (*domain.Platform, error) {
	const op = "PostgresStore.GetPlatform"

	row, err := s.queries.GetPlatform(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "platform", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve platform")
	}
	p := repoPlatformToDomain(row)
	return &p, nil
}

func (s *PostgresStore) ListPlatforms(ctx context.Context) ([]domain.Platform, error) {
	const op = "PostgresStore.ListPlatforms"

	rows, err := s.queries.ListPlatforms(ctx)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list platforms")
	}
	platforms := make([]domain.Platform, len(rows))
	for i, row := range rows {
		platforms[i] = repoPlatformToDomain(row)
	}
	return platforms, nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	const op = "PostgresStore.GetOffer"

	row, err := s.queries.GetOffer(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "offer", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve offer")
	}

	offer := &domain.Offer{
		ID:               row.ID,
		Name:             row.Name,
		RequiredProfiles: int(row.RequiredProfiles),
		DurationDays:     int(row.DurationDays),
		PlatformIDs:      row.PlatformIDs,
	}
	if row.DefaultPlatformID.Valid {
		id := row.DefaultPlatformID.UUID
		offer.DefaultPlatformID = &id
	}
	return offer, nil
}

func repoPlatformToDomain(rp repository.Platform) domain.Platform {
	p := domain.Platform{
		ID:               rp.ID,
		Name:             rp.Name,
		SupportsProfiles: rp.SupportsProfiles,
		CreatedAt:        rp.CreatedAt,
		UpdatedAt:        rp.UpdatedAt,
	}
	if rp.MaxProfilesPerAccount.Valid {
		n := int(rp.MaxProfilesPerAccount.Int32)
		p.MaxProfilesPerAccount = &n
	}
	return p
}
