package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const subscriptionColumns = `id, offer_id, user_id, order_id, platform_id, required_profiles, bound_account_id,
       bound_slot_ids, status, auto_renew, start_date, end_date, renewed_from_id, contact_note,
       metadata, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }, i *Subscription) error {
	return row.Scan(
		&i.ID,
		&i.OfferID,
		&i.UserID,
		&i.OrderID,
		&i.PlatformID,
		&i.RequiredProfiles,
		&i.BoundAccountID,
		pq.Array(&i.BoundSlotIDs),
		&i.Status,
		&i.AutoRenew,
		&i.StartDate,
		&i.EndDate,
		&i.RenewedFromID,
		&i.ContactNote,
		&i.Metadata,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

func scanSubscriptions(rows *sql.Rows) ([]Subscription, error) {
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		var i Subscription
		if err := scanSubscription(rows, &i); err != nil {
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

const createSubscription = `-- name: CreateSubscription :one
INSERT INTO subscriptions (
    id, offer_id, user_id, order_id, platform_id, required_profiles, bound_account_id,
    bound_slot_ids, status, auto_renew, start_date, end_date, renewed_from_id, metadata
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::uuid[], $9, $10, $11, $12, $13, $14)
RETURNING ` + subscriptionColumns

type CreateSubscriptionParams struct {
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
	Metadata         pqtype.NullRawMessage
}

func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, createSubscription,
		arg.ID,
		arg.OfferID,
		arg.UserID,
		arg.OrderID,
		arg.PlatformID,
		arg.RequiredProfiles,
		arg.BoundAccountID,
		pq.Array(arg.BoundSlotIDs),
		arg.Status,
		arg.AutoRenew,
		arg.StartDate,
		arg.EndDate,
		arg.RenewedFromID,
		arg.Metadata,
	)
	var i Subscription
	err := scanSubscription(row, &i)
	return i, err
}

const getSubscription = `-- name: GetSubscription :one
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE id = $1
`

func (q *Queries) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscription, id)
	var i Subscription
	err := scanSubscription(row, &i)
	return i, err
}

const updateSubscriptionStatus = `-- name: UpdateSubscriptionStatus :one
UPDATE subscriptions
SET status = $3,
    bound_slot_ids = CASE WHEN $4::boolean THEN '{}'::uuid[] ELSE bound_slot_ids END,
    contact_note = COALESCE($5, contact_note),
    updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + subscriptionColumns

type UpdateSubscriptionStatusParams struct {
	ID          uuid.UUID
	FromStatus  string
	ToStatus    string
	ClearSlots  bool
	ContactNote sql.NullString
}

// UpdateSubscriptionStatus is a compare-and-set on the status column. It
// returns sql.ErrNoRows when the row is missing or its status has moved on.
func (q *Queries) UpdateSubscriptionStatus(ctx context.Context, arg UpdateSubscriptionStatusParams) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, updateSubscriptionStatus,
		arg.ID,
		arg.FromStatus,
		arg.ToStatus,
		arg.ClearSlots,
		arg.ContactNote,
	)
	var i Subscription
	err := scanSubscription(row, &i)
	return i, err
}

const detachSubscriptionOrder = `-- name: DetachSubscriptionOrder :exec
UPDATE subscriptions SET order_id = NULL, updated_at = NOW()
WHERE id = $1
`

func (q *Queries) DetachSubscriptionOrder(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, detachSubscriptionOrder, id)
	return err
}

const deleteSubscription = `-- name: DeleteSubscription :execrows
DELETE FROM subscriptions WHERE id = $1
`

func (q *Queries) DeleteSubscription(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSubscription, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listSubscriptionsByAccount = `-- name: ListSubscriptionsByAccount :many
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE bound_account_id = $1 AND status <> 'expired'
ORDER BY created_at
`

func (q *Queries) ListSubscriptionsByAccount(ctx context.Context, accountID uuid.UUID) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptionsByAccount, accountID)
	if err != nil {
		return nil, err
	}
	return scanSubscriptions(rows)
}

const listSubscriptionsByOrder = `-- name: ListSubscriptionsByOrder :many
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListSubscriptionsByOrder(ctx context.Context, orderID uuid.UUID) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptionsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	return scanSubscriptions(rows)
}

const listDueSubscriptions = `-- name: ListDueSubscriptions :many
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE end_date <= $1
  AND (status IN ('pending', 'active') OR (status = 'contact_needed' AND NOT auto_renew))
ORDER BY end_date
LIMIT $2
`

type ListDueSubscriptionsParams struct {
	Before time.Time
	Limit  int32
}

func (q *Queries) ListDueSubscriptions(ctx context.Context, arg ListDueSubscriptionsParams) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listDueSubscriptions, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	return scanSubscriptions(rows)
}

const getSubscriptionSuccessor = `-- name: GetSubscriptionSuccessor :one
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE renewed_from_id = $1
ORDER BY created_at DESC
LIMIT 1
`

func (q *Queries) GetSubscriptionSuccessor(ctx context.Context, renewedFromID uuid.UUID) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscriptionSuccessor, renewedFromID)
	var i Subscription
	err := scanSubscription(row, &i)
	return i, err
}
