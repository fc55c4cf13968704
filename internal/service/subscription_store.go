package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/repository"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// errStatusChanged is returned by SubscriptionStore.UpdateStatus when the
// stored status no longer matches the expected one.
var errStatusChanged = errors.New("subscription status changed concurrently")

// StatusUpdate is a compare-and-set on a subscription's status.
type StatusUpdate struct {
	ID          uuid.UUID
	From        domain.SubscriptionStatus
	To          domain.SubscriptionStatus
	ClearSlots  bool
	ContactNote *string
}

// SubscriptionStore persists subscription rows. It never touches slots; the
// pool registry owns those.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	// Successor returns the subscription renewed from id, or ENOTFOUND.
	Successor(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (*domain.Subscription, error)
	DetachOrder(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Subscription, error)
	ListDue(ctx context.Context, before time.Time, limit int) ([]domain.Subscription, error)
}

// =============================================================================
// Postgres
// =============================================================================

type postgresSubscriptionStore struct {
	queries *repository.Queries
}

// NewPostgresSubscriptionStore creates a SubscriptionStore backed by Postgres.
func NewPostgresSubscriptionStore(queries *repository.Queries) SubscriptionStore {
	return &postgresSubscriptionStore{queries: queries}
}

func (s *postgresSubscriptionStore) Create(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	const op = "subscription_store.create"

	metadata, err := encodeAllocation(sub.Allocation)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to encode allocation metadata")
	}

	row, err := s.queries.CreateSubscription(ctx, repository.CreateSubscriptionParams{
		ID:               sub.ID,
		OfferID:          sub.OfferID,
		UserID:           sub.UserID,
		OrderID:          domain.ToNullUUID(sub.OrderID),
		PlatformID:       sub.PlatformID,
		RequiredProfiles: int32(sub.RequiredProfiles),
		BoundAccountID:   domain.ToNullUUID(sub.BoundAccountID),
		BoundSlotIDs:     sub.BoundSlotIDs,
		Status:           string(sub.Status),
		AutoRenew:        sub.AutoRenew,
		StartDate:        sub.StartDate,
		EndDate:          sub.EndDate,
		RenewedFromID:    domain.ToNullUUID(sub.RenewedFromID),
		Metadata:         metadata,
	})
	if err != nil {
		switch {
		case repository.IsDuplicateKey(err) && sub.RenewedFromID != nil:
			return nil, domain.WithOp(domain.ErrAlreadyRenewed, op)
		case repository.IsDuplicateKey(err):
			return nil, domain.Conflict(op, "Subscription already exists")
		case repository.IsForeignKeyViolation(err):
			return nil, domain.Invalid(op, "Subscription references an unknown offer, platform or account")
		}
		return nil, domain.Internal(err, op, "Failed to create subscription")
	}
	return rowToSubscription(row), nil
}

func (s *postgresSubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	const op = "subscription_store.get"

	row, err := s.queries.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "subscription", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve subscription")
	}
	return rowToSubscription(row), nil
}

func (s *postgresSubscriptionStore) Successor(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	const op = "subscription_store.successor"

	row, err := s.queries.GetSubscriptionSuccessor(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "successor of subscription", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve successor")
	}
	return rowToSubscription(row), nil
}

func (s *postgresSubscriptionStore) UpdateStatus(ctx context.Context, update StatusUpdate) (*domain.Subscription, error) {
	const op = "subscription_store.update_status"

	params := repository.UpdateSubscriptionStatusParams{
		ID:         update.ID,
		FromStatus: string(update.From),
		ToStatus:   string(update.To),
		ClearSlots: update.ClearSlots,
	}
	if update.ContactNote != nil {
		params.ContactNote = sql.NullString{String: *update.ContactNote, Valid: true}
	}

	row, err := s.queries.UpdateSubscriptionStatus(ctx, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errStatusChanged
		}
		return nil, domain.Internal(err, op, "Failed to update subscription status")
	}
	return rowToSubscription(row), nil
}

func (s *postgresSubscriptionStore) DetachOrder(ctx context.Context, id uuid.UUID) error {
	if err := s.queries.DetachSubscriptionOrder(ctx, id); err != nil {
		return domain.Internal(err, "subscription_store.detach_order", "Failed to detach order")
	}
	return nil
}

func (s *postgresSubscriptionStore) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "subscription_store.delete"

	n, err := s.queries.DeleteSubscription(ctx, id)
	if err != nil {
		return domain.Internal(err, op, "Failed to delete subscription")
	}
	if n == 0 {
		return domain.NotFound(op, "subscription", id.String())
	}
	return nil
}

func (s *postgresSubscriptionStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error) {
	rows, err := s.queries.ListSubscriptionsByAccount(ctx, accountID)
	if err != nil {
		return nil, domain.Internal(err, "subscription_store.list_by_account", "Failed to list subscriptions")
	}
	return rowsToSubscriptions(rows), nil
}

func (s *postgresSubscriptionStore) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Subscription, error) {
	rows, err := s.queries.ListSubscriptionsByOrder(ctx, orderID)
	if err != nil {
		return nil, domain.Internal(err, "subscription_store.list_by_order", "Failed to list subscriptions")
	}
	return rowsToSubscriptions(rows), nil
}

func (s *postgresSubscriptionStore) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.Subscription, error) {
	rows, err := s.queries.ListDueSubscriptions(ctx, repository.ListDueSubscriptionsParams{
		Before: before,
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, domain.Internal(err, "subscription_store.list_due", "Failed to list due subscriptions")
	}
	return rowsToSubscriptions(rows), nil
}

func encodeAllocation(info domain.AllocationInfo) (pqtype.NullRawMessage, error) {
	if info == (domain.AllocationInfo{}) {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func rowToSubscription(row repository.Subscription) *domain.Subscription {
	sub := &domain.Subscription{
		ID:               row.ID,
		OfferID:          row.OfferID,
		UserID:           row.UserID,
		PlatformID:       row.PlatformID,
		RequiredProfiles: int(row.RequiredProfiles),
		BoundSlotIDs:     row.BoundSlotIDs,
		Status:           domain.SubscriptionStatus(row.Status),
		AutoRenew:        row.AutoRenew,
		StartDate:        row.StartDate,
		EndDate:          row.EndDate,
		ContactNote:      row.ContactNote,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	sub.OrderID = domain.FromNullUUID(row.OrderID)
	sub.BoundAccountID = domain.FromNullUUID(row.BoundAccountID)
	sub.RenewedFromID = domain.FromNullUUID(row.RenewedFromID)
	if row.Metadata.Valid {
		// Unreadable metadata is informational only; leave it zero.
		_ = json.Unmarshal(row.Metadata.RawMessage, &sub.Allocation)
	}
	if len(sub.BoundSlotIDs) == 0 {
		sub.BoundSlotIDs = nil
	}
	return sub
}

func rowsToSubscriptions(rows []repository.Subscription) []domain.Subscription {
	subs := make([]domain.Subscription, len(rows))
	for i, row := range rows {
		subs[i] = *rowToSubscription(row)
	}
	return subs
}
