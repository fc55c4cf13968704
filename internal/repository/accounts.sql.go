package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const accountColumns = `a.id, a.platform_id, a.label, a.credentials, a.status, a.slot_count, a.slot_count_override, a.created_at, a.updated_at`

func scanAccount(row interface{ Scan(...any) error }, i *Account, extra ...any) error {
	dest := []any{
		&i.ID,
		&i.PlatformID,
		&i.Label,
		&i.Credentials,
		&i.Status,
		&i.SlotCount,
		&i.SlotCountOverride,
		&i.CreatedAt,
		&i.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

const createAccount = `-- name: CreateAccount :one
INSERT INTO accounts AS a (platform_id, label, credentials, status, slot_count, slot_count_override)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + accountColumns

type CreateAccountParams struct {
	PlatformID        uuid.UUID
	Label             string
	Credentials       []byte
	Status            string
	SlotCount         int32
	SlotCountOverride sql.NullInt32
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	row := q.db.QueryRowContext(ctx, createAccount,
		arg.PlatformID,
		arg.Label,
		arg.Credentials,
		arg.Status,
		arg.SlotCount,
		arg.SlotCountOverride,
	)
	var i Account
	err := scanAccount(row, &i)
	return i, err
}

const getAccountWithFreeSlots = `-- name: GetAccountWithFreeSlots :one
SELECT ` + accountColumns + `,
       (SELECT COUNT(*) FROM profile_slots s
        WHERE s.account_id = a.id AND s.bound_subscription_id IS NULL)::int AS free_slots
FROM accounts a
WHERE a.id = $1
`

func (q *Queries) GetAccountWithFreeSlots(ctx context.Context, id uuid.UUID) (AccountWithFreeSlots, error) {
	row := q.db.QueryRowContext(ctx, getAccountWithFreeSlots, id)
	var i AccountWithFreeSlots
	err := scanAccount(row, &i.Account, &i.FreeSlots)
	return i, err
}

const lockAccount = `-- name: LockAccount :one
SELECT ` + accountColumns + `
FROM accounts a
WHERE a.id = $1
FOR UPDATE
`

// LockAccount takes a row lock on the account for the rest of the transaction.
// Every slot mutation on the account is serialized behind this lock.
func (q *Queries) LockAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := q.db.QueryRowContext(ctx, lockAccount, id)
	var i Account
	err := scanAccount(row, &i)
	return i, err
}

const listCandidateAccounts = `-- name: ListCandidateAccounts :many
SELECT ` + accountColumns + `, COUNT(s.id)::int AS free_slots
FROM accounts a
JOIN profile_slots s ON s.account_id = a.id AND s.bound_subscription_id IS NULL
WHERE a.platform_id = $1
  AND (a.status = 'available' OR (NOT $2::boolean AND a.status = 'disabled'))
GROUP BY a.id
ORDER BY a.created_at, a.id
`

type ListCandidateAccountsParams struct {
	PlatformID      uuid.UUID
	ExcludeDisabled bool
}

func (q *Queries) ListCandidateAccounts(ctx context.Context, arg ListCandidateAccountsParams) ([]AccountWithFreeSlots, error) {
	rows, err := q.db.QueryContext(ctx, listCandidateAccounts, arg.PlatformID, arg.ExcludeDisabled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccountWithFreeSlots
	for rows.Next() {
		var i AccountWithFreeSlots
		if err := scanAccount(rows, &i.Account, &i.FreeSlots); err != nil {
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

const updateAccountStatus = `-- name: UpdateAccountStatus :execrows
UPDATE accounts SET status = $2, updated_at = NOW()
WHERE id = $1
`

type UpdateAccountStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateAccountStatus(ctx context.Context, arg UpdateAccountStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateAccountStatus, arg.ID, arg.Status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateAccountPlatform = `-- name: UpdateAccountPlatform :exec
UPDATE accounts
SET platform_id = $2, slot_count = $3, slot_count_override = $4, updated_at = NOW()
WHERE id = $1
`

type UpdateAccountPlatformParams struct {
	ID                uuid.UUID
	PlatformID        uuid.UUID
	SlotCount         int32
	SlotCountOverride sql.NullInt32
}

func (q *Queries) UpdateAccountPlatform(ctx context.Context, arg UpdateAccountPlatformParams) error {
	_, err := q.db.ExecContext(ctx, updateAccountPlatform,
		arg.ID,
		arg.PlatformID,
		arg.SlotCount,
		arg.SlotCountOverride,
	)
	return err
}

const deleteAccount = `-- name: DeleteAccount :exec
DELETE FROM accounts WHERE id = $1
`

func (q *Queries) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteAccount, id)
	return err
}

const getPlatformStats = `-- name: GetPlatformStats :one
SELECT COUNT(DISTINCT a.id)::int AS accounts,
       (COUNT(DISTINCT a.id) FILTER (WHERE a.status = 'available'))::int AS available_accounts,
       COUNT(s.id)::int AS slots,
       (COUNT(s.id) FILTER (WHERE s.bound_subscription_id IS NULL AND a.status = 'available'))::int AS free_slots
FROM accounts a
LEFT JOIN profile_slots s ON s.account_id = a.id
WHERE a.platform_id = $1
`

func (q *Queries) GetPlatformStats(ctx context.Context, platformID uuid.UUID) (PlatformStats, error) {
	row := q.db.QueryRowContext(ctx, getPlatformStats, platformID)
	var i PlatformStats
	err := row.Scan(
		&i.Accounts,
		&i.AvailableAccounts,
		&i.Slots,
		&i.FreeSlots,
	)
	return i, err
}
