package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const slotColumns = `id, account_id, slot_index, bound_subscription_id, bound_at`

func scanSlots(rows interface {
	Next() bool
	Scan(...any) error
	Close() error
	Err() error
}) ([]ProfileSlot, error) {
	defer rows.Close()
	var items []ProfileSlot
	for rows.Next() {
		var i ProfileSlot
		if err := rows.Scan(
			&i.ID,
			&i.AccountID,
			&i.SlotIndex,
			&i.BoundSubscriptionID,
			&i.BoundAt,
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

const createSlots = `-- name: CreateSlots :exec
INSERT INTO profile_slots (account_id, slot_index)
SELECT $1, generate_series(1, $2::int)
`

type CreateSlotsParams struct {
	AccountID uuid.UUID
	SlotCount int32
}

// CreateSlots creates slots 1..SlotCount for the account.
func (q *Queries) CreateSlots(ctx context.Context, arg CreateSlotsParams) error {
	_, err := q.db.ExecContext(ctx, createSlots, arg.AccountID, arg.SlotCount)
	return err
}

const deleteSlotsByAccount = `-- name: DeleteSlotsByAccount :exec
DELETE FROM profile_slots WHERE account_id = $1
`

func (q *Queries) DeleteSlotsByAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteSlotsByAccount, accountID)
	return err
}

const listSlotsByAccount = `-- name: ListSlotsByAccount :many
SELECT ` + slotColumns + `
FROM profile_slots
WHERE account_id = $1
ORDER BY slot_index
`

func (q *Queries) ListSlotsByAccount(ctx context.Context, accountID uuid.UUID) ([]ProfileSlot, error) {
	rows, err := q.db.QueryContext(ctx, listSlotsByAccount, accountID)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

const listFreeSlotsForUpdate = `-- name: ListFreeSlotsForUpdate :many
SELECT ` + slotColumns + `
FROM profile_slots
WHERE account_id = $1 AND bound_subscription_id IS NULL
ORDER BY slot_index
FOR UPDATE
`

func (q *Queries) ListFreeSlotsForUpdate(ctx context.Context, accountID uuid.UUID) ([]ProfileSlot, error) {
	rows, err := q.db.QueryContext(ctx, listFreeSlotsForUpdate, accountID)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

const listSlotsBySubscription = `-- name: ListSlotsBySubscription :many
SELECT ` + slotColumns + `
FROM profile_slots
WHERE bound_subscription_id = $1
ORDER BY account_id, slot_index
`

func (q *Queries) ListSlotsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]ProfileSlot, error) {
	rows, err := q.db.QueryContext(ctx, listSlotsBySubscription, subscriptionID)
	if err != nil {
		return nil, err
	}
	return scanSlots(rows)
}

const countFreeSlots = `-- name: CountFreeSlots :one
SELECT COUNT(*)::int FROM profile_slots
WHERE account_id = $1 AND bound_subscription_id IS NULL
`

func (q *Queries) CountFreeSlots(ctx context.Context, accountID uuid.UUID) (int32, error) {
	row := q.db.QueryRowContext(ctx, countFreeSlots, accountID)
	var count int32
	err := row.Scan(&count)
	return count, err
}

const countBoundSlots = `-- name: CountBoundSlots :one
SELECT COUNT(*)::int FROM profile_slots
WHERE account_id = $1 AND bound_subscription_id IS NOT NULL
`

func (q *Queries) CountBoundSlots(ctx context.Context, accountID uuid.UUID) (int32, error) {
	row := q.db.QueryRowContext(ctx, countBoundSlots, accountID)
	var count int32
	err := row.Scan(&count)
	return count, err
}

const bindSlots = `-- name: BindSlots :execrows
UPDATE profile_slots
SET bound_subscription_id = $2, bound_at = NOW()
WHERE id = ANY($1::uuid[]) AND bound_subscription_id IS NULL
`

type BindSlotsParams struct {
	SlotIDs        []uuid.UUID
	SubscriptionID uuid.UUID
}

// BindSlots binds free slots only; the affected row count tells the caller
// whether every requested slot was still free.
func (q *Queries) BindSlots(ctx context.Context, arg BindSlotsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, bindSlots, pq.Array(arg.SlotIDs), arg.SubscriptionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const rebindSlots = `-- name: RebindSlots :execrows
UPDATE profile_slots
SET bound_subscription_id = $3, bound_at = NOW()
WHERE id = ANY($1::uuid[]) AND bound_subscription_id = $2
`

type RebindSlotsParams struct {
	SlotIDs            []uuid.UUID
	FromSubscriptionID uuid.UUID
	ToSubscriptionID   uuid.UUID
}

func (q *Queries) RebindSlots(ctx context.Context, arg RebindSlotsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, rebindSlots,
		pq.Array(arg.SlotIDs),
		arg.FromSubscriptionID,
		arg.ToSubscriptionID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const releaseSlots = `-- name: ReleaseSlots :execrows
UPDATE profile_slots
SET bound_subscription_id = NULL, bound_at = NULL
WHERE id = ANY($1::uuid[]) AND bound_subscription_id IS NOT NULL
`

func (q *Queries) ReleaseSlots(ctx context.Context, slotIDs []uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, releaseSlots, pq.Array(slotIDs))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const releaseSlotsBySubscription = `-- name: ReleaseSlotsBySubscription :execrows
UPDATE profile_slots
SET bound_subscription_id = NULL, bound_at = NULL
WHERE bound_subscription_id = $1
`

func (q *Queries) ReleaseSlotsBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, releaseSlotsBySubscription, subscriptionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
