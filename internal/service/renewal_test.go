package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionService_Renew_HandsOverDueSlots(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(2))
	f.account(t, 2, 0) // tighter fit that selection would prefer
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, source.ID)
	require.NoError(t, err)
	f.now = source.EndDate

	orderID := uuid.New()
	successor, err := f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID, OrderID: &orderID})
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, successor.ID)
	assert.Equal(t, domain.SubscriptionStatusPending, successor.Status)
	assert.Equal(t, a.ID, *successor.BoundAccountID)
	assert.Equal(t, source.BoundSlotIDs, successor.BoundSlotIDs)
	assert.Equal(t, source.ID, *successor.RenewedFromID)
	assert.Equal(t, orderID, *successor.OrderID)
	assert.Equal(t, source.UserID, successor.UserID)
	assert.Equal(t, domain.StrategyHandover, successor.Allocation.Strategy)

	// Starts where the source ends
	assert.Equal(t, source.EndDate, successor.StartDate)
	assert.Equal(t, source.EndDate.AddDate(0, 0, 30), successor.EndDate)

	old, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, old.Status)
	assert.Empty(t, old.BoundSlotIDs)

	// Expiring the old row must not free the handed-over slots
	_, err = f.svc.Expire(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, f.free(t, a.ID))
}

func TestSubscriptionService_Renew_BeforeEndKeepsSourceLive(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(2))
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, source.ID)
	require.NoError(t, err)

	// Renewed early, weeks before the paid window ends
	successor, err := f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPreferred, successor.Allocation.Strategy)
	assert.Equal(t, a.ID, *successor.BoundAccountID)
	assert.ElementsMatch(t, []int{1, 4}, f.boundIndexes(t, successor))
	assert.Equal(t, source.EndDate, successor.StartDate)

	old, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, old.Status)
	assert.Equal(t, source.BoundSlotIDs, old.BoundSlotIDs)
	assert.NotContains(t, successor.BoundSlotIDs, old.BoundSlotIDs[0])

	// Refunding the renewal leaves the running window intact
	_, err = f.svc.Expire(ctx, successor.ID)
	require.NoError(t, err)
	old, err = f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, old.Status)
	assert.Equal(t, []int{1, 4}, f.free(t, a.ID))
}

func TestSubscriptionService_Renew_ReusesPreviousAccount(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(2))
	ctx := context.Background()

	_, err := f.svc.Expire(ctx, source.ID)
	require.NoError(t, err)

	// A tighter fit appears after expiry; renewal still prefers the old account
	f.account(t, 2, 0)
	f.now = source.EndDate.AddDate(0, 0, 1)

	successor, err := f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, *successor.BoundAccountID)
	assert.Equal(t, domain.StrategyPreferred, successor.Allocation.Strategy)
	assert.Equal(t, []int{2, 3}, f.boundIndexes(t, successor))

	// Source ended in the past: a fresh window from now
	assert.Equal(t, f.now, successor.StartDate)
	assert.Equal(t, f.now.AddDate(0, 0, 30), successor.EndDate)
	assert.Nil(t, successor.OrderID)
}

func TestSubscriptionService_Renew_FallsBackToSelection(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(3))
	ctx := context.Background()

	_, err := f.svc.Expire(ctx, source.ID)
	require.NoError(t, err)

	// Someone else takes the old account's capacity
	_, err = f.registry.ReserveSlots(ctx, pool.ReserveParams{AccountID: a.ID, SubscriptionID: uuid.New(), Count: 2})
	require.NoError(t, err)
	b := f.account(t, 4, 0)

	successor, err := f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, *successor.BoundAccountID)
	assert.Equal(t, domain.StrategySelected, successor.Allocation.Strategy)
}

func TestSubscriptionService_Renew_DisabledAccountFallsBack(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(1))
	b := f.account(t, 4, 0)
	ctx := context.Background()

	require.NoError(t, f.registry.SetAccountStatus(ctx, a.ID, domain.AccountStatusDisabled))

	successor, err := f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, *successor.BoundAccountID)

	// No handover happened, so the live source keeps its slot until it expires
	old, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, old.Status)
	assert.Equal(t, source.BoundSlotIDs, old.BoundSlotIDs)
}

func TestSubscriptionService_Renew_UnavailableFlagsContactNeeded(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 2, 0)
	source := f.create(t, f.offer(2))
	ctx := context.Background()

	// The account can no longer take new reservations and nothing else has room
	require.NoError(t, f.registry.SetAccountStatus(ctx, a.ID, domain.AccountStatusRetired))

	_, err := f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	assert.ErrorIs(t, err, domain.ErrRenewalUnavailable)

	got, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusContactNeeded, got.Status)
	assert.Equal(t, renewalUnavailableNote, got.ContactNote)
	assert.Equal(t, source.BoundSlotIDs, got.BoundSlotIDs, "slots stay bound for staff to act on")
}

func TestSubscriptionService_Renew_UnavailableAfterExpiry(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 2, 0)
	source := f.create(t, f.offer(2))
	ctx := context.Background()

	_, err := f.svc.Expire(ctx, source.ID)
	require.NoError(t, err)
	_, err = f.registry.ReserveSlots(ctx, pool.ReserveParams{AccountID: a.ID, SubscriptionID: uuid.New(), Count: 1})
	require.NoError(t, err)

	_, err = f.svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	assert.ErrorIs(t, err, domain.ErrRenewalUnavailable)

	got, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status, "expired is terminal")
}

func TestSubscriptionService_Renew_CompensatesHandover(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(2))
	ctx := context.Background()
	f.now = source.EndDate

	svc := f.build(failingCreateStore{f.store}, nil)
	_, err := svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	// Slots went back to the source
	slots, err := f.registry.ListSlots(ctx, a.ID)
	require.NoError(t, err)
	held := 0
	for _, s := range slots {
		if s.BoundSubscriptionID != nil {
			assert.Equal(t, source.ID, *s.BoundSubscriptionID)
			held++
		}
	}
	assert.Equal(t, 2, held)

	got, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, got.Status)
}

// failingUpdateStore rejects every status change.
type failingUpdateStore struct {
	SubscriptionStore
}

func (failingUpdateStore) UpdateStatus(ctx context.Context, update StatusUpdate) (*domain.Subscription, error) {
	return nil, domain.Internal(errors.New("connection reset"), "test", "Failed to update subscription")
}

func TestSubscriptionService_Renew_UndoesHandoverWhenSourceStaysLive(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(2))
	ctx := context.Background()
	f.now = source.EndDate

	svc := f.build(failingUpdateStore{f.store}, nil)
	_, err := svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	got, err := f.svc.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, got.Status)
	assert.Equal(t, source.BoundSlotIDs, got.BoundSlotIDs)

	slots, err := f.registry.ListSlots(ctx, a.ID)
	require.NoError(t, err)
	for _, s := range slots {
		if s.BoundSubscriptionID != nil {
			assert.Equal(t, source.ID, *s.BoundSubscriptionID)
		}
	}

	// No second live row claims the slots
	_, err = f.store.Successor(ctx, source.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	live, err := f.svc.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestSubscriptionService_Renew_CompensatesAfterCancel(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	source := f.create(t, f.offer(2))
	f.now = source.EndDate

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := f.buildWith(cancellingStore{f.store, cancel}, ctxRegistry{f.registry}, nil)

	_, err := svc.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: source.ID})
	assert.ErrorIs(t, err, context.Canceled)

	// The handed-over slots are back with the source
	assert.Equal(t, []int{1, 4}, f.free(t, a.ID))
	slots, err := f.registry.ListSlots(context.Background(), a.ID)
	require.NoError(t, err)
	for _, s := range slots {
		if s.BoundSubscriptionID != nil {
			assert.Equal(t, source.ID, *s.BoundSubscriptionID)
		}
	}
}
