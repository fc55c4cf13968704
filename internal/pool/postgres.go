package pool

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/repository"
	"github.com/google/uuid"
)

// PostgresRegistry is the production Registry. Every mutation of an account's
// slots runs in its own transaction behind a row lock on that account, so
// unrelated accounts stay independently concurrent.
type PostgresRegistry struct {
	db      *sql.DB
	queries *repository.Queries
	logger  *slog.Logger
}

// NewPostgresRegistry creates a Registry backed by Postgres.
func NewPostgresRegistry(db *sql.DB, queries *repository.Queries, logger *slog.Logger) *PostgresRegistry {
	return &PostgresRegistry{
		db:      db,
		queries: queries,
		logger:  logger,
	}
}

var _ Registry = (*PostgresRegistry)(nil)

// withAccountLock runs fn in a transaction holding the account's row lock.
func (r *PostgresRegistry) withAccountLock(ctx context.Context, op string, accountID uuid.UUID, fn func(qtx *repository.Queries, account repository.Account) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)

	account, err := qtx.LockAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "account", accountID.String())
		}
		return domain.Internal(err, op, "Failed to lock account")
	}

	if err := fn(qtx, account); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "Failed to commit transaction")
	}
	return nil
}

func (r *PostgresRegistry) ListCandidateAccounts(ctx context.Context, platformID uuid.UUID, excludeDisabled bool) ([]domain.Account, error) {
	const op = "PostgresRegistry.ListCandidateAccounts"

	rows, err := r.queries.ListCandidateAccounts(ctx, repository.ListCandidateAccountsParams{
		PlatformID:      platformID,
		ExcludeDisabled: excludeDisabled,
	})
	if err != nil {
		r.logger.Error("failed to list candidate accounts", "error", err, "op", op, "platform_id", platformID)
		return nil, domain.Internal(err, op, "Failed to list candidate accounts")
	}

	accounts := make([]domain.Account, len(rows))
	for i, row := range rows {
		accounts[i] = repoAccountToDomain(row.Account, int(row.FreeSlots))
	}
	return accounts, nil
}

func (r *PostgresRegistry) FreeSlotCount(ctx context.Context, accountID uuid.UUID) (int, error) {
	const op = "PostgresRegistry.FreeSlotCount"

	count, err := r.queries.CountFreeSlots(ctx, accountID)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to count free slots")
	}
	return int(count), nil
}

func (r *PostgresRegistry) ReserveSlots(ctx context.Context, params ReserveParams) ([]domain.ProfileSlot, error) {
	const op = "PostgresRegistry.ReserveSlots"

	var reserved []domain.ProfileSlot
	err := r.withAccountLock(ctx, op, params.AccountID, func(qtx *repository.Queries, account repository.Account) error {
		if account.Status != string(domain.AccountStatusAvailable) {
			return domain.WithOp(domain.ErrInsufficientSlots, op)
		}

		free, err := qtx.ListFreeSlotsForUpdate(ctx, params.AccountID)
		if err != nil {
			return domain.Internal(err, op, "Failed to read free slots")
		}

		picked := pickFree(repoSlotsToDomain(free), params.Count, params.PreferNonPrincipal)
		if picked == nil {
			return domain.WithOp(domain.ErrInsufficientSlots, op)
		}

		bound, err := qtx.BindSlots(ctx, repository.BindSlotsParams{
			SlotIDs:        domain.SlotIDs(picked),
			SubscriptionID: params.SubscriptionID,
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to bind slots")
		}
		if int(bound) != len(picked) {
			// A slot changed hands under us; roll back the partial bind.
			return domain.WithOp(domain.ErrInsufficientSlots, op)
		}

		subID := params.SubscriptionID
		for i := range picked {
			picked[i].BoundSubscriptionID = &subID
		}
		reserved = picked
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("slots reserved",
		"account_id", params.AccountID,
		"subscription_id", params.SubscriptionID,
		"count", len(reserved),
	)
	return reserved, nil
}

func (r *PostgresRegistry) RebindSlots(ctx context.Context, slotIDs []uuid.UUID, from, to uuid.UUID) ([]domain.ProfileSlot, error) {
	const op = "PostgresRegistry.RebindSlots"

	if len(slotIDs) == 0 {
		return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
	}

	held, err := r.queries.ListSlotsBySubscription(ctx, from)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to read subscription slots")
	}
	if len(held) == 0 {
		return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
	}
	accountID := held[0].AccountID

	var rebound []domain.ProfileSlot
	err = r.withAccountLock(ctx, op, accountID, func(qtx *repository.Queries, _ repository.Account) error {
		n, err := qtx.RebindSlots(ctx, repository.RebindSlotsParams{
			SlotIDs:            slotIDs,
			FromSubscriptionID: from,
			ToSubscriptionID:   to,
		})
		if err != nil {
			return domain.Internal(err, op, "Failed to rebind slots")
		}
		if int(n) != len(slotIDs) {
			return domain.WithOp(domain.ErrInsufficientSlots, op)
		}

		slots, err := qtx.ListSlotsBySubscription(ctx, to)
		if err != nil {
			return domain.Internal(err, op, "Failed to read rebound slots")
		}
		rebound = orderLike(repoSlotsToDomain(slots), slotIDs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rebound, nil
}

func (r *PostgresRegistry) ReleaseSlots(ctx context.Context, slotIDs []uuid.UUID) error {
	const op = "PostgresRegistry.ReleaseSlots"

	if len(slotIDs) == 0 {
		return nil
	}
	n, err := r.queries.ReleaseSlots(ctx, slotIDs)
	if err != nil {
		r.logger.Error("failed to release slots", "error", err, "op", op, "count", len(slotIDs))
		return domain.Internal(err, op, "Failed to release slots")
	}
	r.logger.Debug("slots released", "requested", len(slotIDs), "released", n)
	return nil
}

func (r *PostgresRegistry) ReleaseSubscription(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	const op = "PostgresRegistry.ReleaseSubscription"

	n, err := r.queries.ReleaseSlotsBySubscription(ctx, subscriptionID)
	if err != nil {
		r.logger.Error("failed to release subscription slots", "error", err, "op", op, "subscription_id", subscriptionID)
		return 0, domain.Internal(err, op, "Failed to release slots")
	}
	return int(n), nil
}

func (r *PostgresRegistry) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	const op = "PostgresRegistry.CreateAccount"

	if account.SlotCount < 1 {
		return nil, domain.Invalid(op, "Slot count must be at least 1")
	}
	status := account.Status
	if status == "" {
		status = domain.AccountStatusAvailable
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to begin transaction")
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)

	row, err := qtx.CreateAccount(ctx, repository.CreateAccountParams{
		PlatformID:        account.PlatformID,
		Label:             account.Label,
		Credentials:       account.Credentials,
		Status:            string(status),
		SlotCount:         int32(account.SlotCount),
		SlotCountOverride: toNullInt32(account.SlotCountOverride),
	})
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, domain.NotFound(op, "platform", account.PlatformID.String())
		}
		return nil, domain.Internal(err, op, "Failed to create account")
	}

	if err := qtx.CreateSlots(ctx, repository.CreateSlotsParams{
		AccountID: row.ID,
		SlotCount: row.SlotCount,
	}); err != nil {
		return nil, domain.Internal(err, op, "Failed to create slots")
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.Internal(err, op, "Failed to commit transaction")
	}

	created := repoAccountToDomain(row, int(row.SlotCount))
	return &created, nil
}

func (r *PostgresRegistry) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	const op = "PostgresRegistry.GetAccount"

	row, err := r.queries.GetAccountWithFreeSlots(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "account", accountID.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve account")
	}
	account := repoAccountToDomain(row.Account, int(row.FreeSlots))
	return &account, nil
}

func (r *PostgresRegistry) ListSlots(ctx context.Context, accountID uuid.UUID) ([]domain.ProfileSlot, error) {
	const op = "PostgresRegistry.ListSlots"

	rows, err := r.queries.ListSlotsByAccount(ctx, accountID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list slots")
	}
	return repoSlotsToDomain(rows), nil
}

func (r *PostgresRegistry) SetAccountStatus(ctx context.Context, accountID uuid.UUID, status domain.AccountStatus) error {
	const op = "PostgresRegistry.SetAccountStatus"

	n, err := r.queries.UpdateAccountStatus(ctx, repository.UpdateAccountStatusParams{
		ID:     accountID,
		Status: string(status),
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to update account status")
	}
	if n == 0 {
		return domain.NotFound(op, "account", accountID.String())
	}
	return nil
}

func (r *PostgresRegistry) ChangeAccountPlatform(ctx context.Context, accountID, platformID uuid.UUID, slotCount int, override *int) error {
	const op = "PostgresRegistry.ChangeAccountPlatform"

	return r.withAccountLock(ctx, op, accountID, func(qtx *repository.Queries, _ repository.Account) error {
		bound, err := qtx.CountBoundSlots(ctx, accountID)
		if err != nil {
			return domain.Internal(err, op, "Failed to count bound slots")
		}
		if bound > 0 {
			return domain.WithOp(domain.ErrAccountHasBoundSlots, op)
		}

		if err := qtx.UpdateAccountPlatform(ctx, repository.UpdateAccountPlatformParams{
			ID:                accountID,
			PlatformID:        platformID,
			SlotCount:         int32(slotCount),
			SlotCountOverride: toNullInt32(override),
		}); err != nil {
			return domain.Internal(err, op, "Failed to update account platform")
		}
		if err := qtx.DeleteSlotsByAccount(ctx, accountID); err != nil {
			return domain.Internal(err, op, "Failed to remove old slots")
		}
		if err := qtx.CreateSlots(ctx, repository.CreateSlotsParams{
			AccountID: accountID,
			SlotCount: int32(slotCount),
		}); err != nil {
			return domain.Internal(err, op, "Failed to create slots")
		}
		return nil
	})
}

func (r *PostgresRegistry) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	const op = "PostgresRegistry.DeleteAccount"

	return r.withAccountLock(ctx, op, accountID, func(qtx *repository.Queries, _ repository.Account) error {
		bound, err := qtx.CountBoundSlots(ctx, accountID)
		if err != nil {
			return domain.Internal(err, op, "Failed to count bound slots")
		}
		if bound > 0 {
			return domain.WithOp(domain.ErrAccountHasBoundSlots, op)
		}
		if err := qtx.DeleteAccount(ctx, accountID); err != nil {
			return domain.Internal(err, op, "Failed to delete account")
		}
		return nil
	})
}

func (r *PostgresRegistry) Stats(ctx context.Context, platformID uuid.UUID) (domain.PoolStats, error) {
	const op = "PostgresRegistry.Stats"

	row, err := r.queries.GetPlatformStats(ctx, platformID)
	if err != nil {
		return domain.PoolStats{}, domain.Internal(err, op, "Failed to read pool stats")
	}
	return domain.PoolStats{
		PlatformID:        platformID,
		Accounts:          int(row.Accounts),
		AvailableAccounts: int(row.AvailableAccounts),
		Slots:             int(row.Slots),
		FreeSlots:         int(row.FreeSlots),
	}, nil
}

// =============================================================================
// Conversions
// =============================================================================

func repoAccountToDomain(ra repository.Account, freeSlots int) domain.Account {
	return domain.Account{
		ID:                ra.ID,
		PlatformID:        ra.PlatformID,
		Label:             ra.Label,
		Credentials:       ra.Credentials,
		Status:            domain.AccountStatus(ra.Status),
		SlotCount:         int(ra.SlotCount),
		SlotCountOverride: fromNullInt32(ra.SlotCountOverride),
		CreatedAt:         ra.CreatedAt,
		UpdatedAt:         ra.UpdatedAt,
		FreeSlots:         freeSlots,
	}
}

func repoSlotsToDomain(rows []repository.ProfileSlot) []domain.ProfileSlot {
	slots := make([]domain.ProfileSlot, len(rows))
	for i, rs := range rows {
		slots[i] = domain.ProfileSlot{
			ID:        rs.ID,
			AccountID: rs.AccountID,
			SlotIndex: int(rs.SlotIndex),
		}
		if rs.BoundSubscriptionID.Valid {
			id := rs.BoundSubscriptionID.UUID
			slots[i].BoundSubscriptionID = &id
		}
		if rs.BoundAt.Valid {
			t := rs.BoundAt.Time
			slots[i].BoundAt = &t
		}
	}
	return slots
}

// orderLike sorts slots to follow the order of ids.
func orderLike(slots []domain.ProfileSlot, ids []uuid.UUID) []domain.ProfileSlot {
	byID := make(map[uuid.UUID]domain.ProfileSlot, len(slots))
	for _, s := range slots {
		byID[s.ID] = s
	}
	out := make([]domain.ProfileSlot, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func toNullInt32(n *int) sql.NullInt32 {
	if n == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*n), Valid: true}
}

func fromNullInt32(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}
