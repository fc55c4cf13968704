package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const getPlatform = `-- name: GetPlatform :one
SELECT id, name, supports_profiles, max_profiles_per_account, created_at, updated_at
FROM platforms
WHERE id = $1
`

func (q *Queries) GetPlatform(ctx context.Context, id uuid.UUID) (Platform, error) {
	row := q.db.QueryRowContext(ctx, getPlatform, id)
	var i Platform
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.SupportsProfiles,
		&i.MaxProfilesPerAccount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listPlatforms = `-- name: ListPlatforms :many
SELECT id, name, supports_profiles, max_profiles_per_account, created_at, updated_at
FROM platforms
ORDER BY name
`

func (q *Queries) ListPlatforms(ctx context.Context) ([]Platform, error) {
	rows, err := q.db.QueryContext(ctx, listPlatforms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Platform
	for rows.Next() {
		var i Platform
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.SupportsProfiles,
			&i.MaxProfilesPerAccount,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOffer = `-- name: GetOffer :one
SELECT o.id, o.name, o.required_profiles, o.duration_days, o.default_platform_id,
       COALESCE(array_agg(op.platform_id) FILTER (WHERE op.platform_id IS NOT NULL), '{}')::uuid[] AS platform_ids
FROM offers o
LEFT JOIN offer_platforms op ON op.offer_id = o.id
WHERE o.id = $1
GROUP BY o.id
`

func (q *Queries) GetOffer(ctx context.Context, id uuid.UUID) (Offer, error) {
	row := q.db.QueryRowContext(ctx, getOffer, id)
	var i Offer
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.RequiredProfiles,
		&i.DurationDays,
		&i.DefaultPlatformID,
		pq.Array(&i.PlatformIDs),
	)
	return i, err
}
