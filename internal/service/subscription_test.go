package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/streamshare/internal/allocation"
	"github.com/DukeRupert/streamshare/internal/catalog"
	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      SubscriptionService
	store    SubscriptionStore
	registry *pool.MemoryRegistry
	catalog  *catalog.MemoryStore
	platform domain.Platform
	now      time.Time
}

// newFixture wires the service over in-memory stores with one profile
// platform (max 4 profiles per account).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemorySubscriptionStore(),
		registry: pool.NewMemoryRegistry(),
		catalog:  catalog.NewMemoryStore(),
		now:      testNow,
	}
	f.platform = f.catalog.PutPlatform(domain.Platform{Name: "Netflix", SupportsProfiles: true, MaxProfilesPerAccount: intPtr(4)})
	f.svc = f.build(f.store, nil)
	return f
}

func (f *fixture) build(store SubscriptionStore, selector AccountSelector) SubscriptionService {
	return f.buildWith(store, f.registry, selector)
}

func (f *fixture) buildWith(store SubscriptionStore, registry pool.Registry, selector AccountSelector) SubscriptionService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if selector == nil {
		selector = allocation.NewEngine(f.catalog, f.registry, logger)
	}
	return NewSubscriptionService(
		store,
		registry,
		selector,
		catalog.NewResolver(f.catalog, logger),
		SubscriptionConfig{ReserveRetries: 1, Now: func() time.Time { return f.now }},
		logger,
	)
}

func (f *fixture) offer(profiles int) domain.Offer {
	return f.catalog.PutOffer(domain.Offer{
		Name:              "Shared",
		RequiredProfiles:  profiles,
		DurationDays:      30,
		DefaultPlatformID: &f.platform.ID,
	})
}

// account creates an account of slotCount slots with the first used slots
// (by index) already bound elsewhere.
func (f *fixture) account(t *testing.T, slotCount, used int) *domain.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := f.registry.CreateAccount(ctx, domain.Account{PlatformID: f.platform.ID, SlotCount: slotCount})
	require.NoError(t, err)
	if used > 0 {
		_, err := f.registry.ReserveSlots(ctx, pool.ReserveParams{AccountID: acct.ID, SubscriptionID: uuid.New(), Count: used})
		require.NoError(t, err)
	}
	return acct
}

func (f *fixture) create(t *testing.T, offer domain.Offer) *domain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), domain.CreateSubscriptionParams{
		OfferID: offer.ID,
		UserID:  uuid.New(),
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) free(t *testing.T, accountID uuid.UUID) []int {
	t.Helper()
	slots, err := f.registry.ListSlots(context.Background(), accountID)
	require.NoError(t, err)
	var free []int
	for _, s := range slots {
		if s.IsFree() {
			free = append(free, s.SlotIndex)
		}
	}
	return free
}

func (f *fixture) boundIndexes(t *testing.T, sub *domain.Subscription) []int {
	t.Helper()
	slots, err := f.registry.ListSlots(context.Background(), *sub.BoundAccountID)
	require.NoError(t, err)
	byID := make(map[uuid.UUID]int, len(slots))
	for _, s := range slots {
		byID[s.ID] = s.SlotIndex
	}
	out := make([]int, len(sub.BoundSlotIDs))
	for i, id := range sub.BoundSlotIDs {
		out[i] = byID[id]
	}
	return out
}

// =============================================================================
// Create
// =============================================================================

func TestSubscriptionService_Create_BestFitPrincipalLast(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	b := f.account(t, 4, 3)

	sub := f.create(t, f.offer(3))

	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	assert.Equal(t, a.ID, *sub.BoundAccountID)
	assert.Equal(t, []int{2, 3, 4}, f.boundIndexes(t, sub))
	assert.Equal(t, []int{1}, f.free(t, a.ID))
	assert.Equal(t, []int{4}, f.free(t, b.ID))
	assert.Equal(t, testNow, sub.StartDate)
	assert.Equal(t, testNow.AddDate(0, 0, 30), sub.EndDate)
	assert.Equal(t, domain.StrategySelected, sub.Allocation.Strategy)
	assert.Equal(t, 1, sub.Allocation.Attempts)
}

func TestSubscriptionService_Create_NoEligibleAccount(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 2)
	orderID := uuid.New()

	_, err := f.svc.Create(context.Background(), domain.CreateSubscriptionParams{
		OfferID: f.offer(3).ID,
		UserID:  uuid.New(),
		OrderID: &orderID,
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleAccount)

	subs, err := f.svc.ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Equal(t, []int{3, 4}, f.free(t, a.ID))
}

func TestSubscriptionService_Create_RequiresUser(t *testing.T) {
	f := newFixture(t)
	f.account(t, 4, 0)

	_, err := f.svc.Create(context.Background(), domain.CreateSubscriptionParams{OfferID: f.offer(1).ID})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

type failingCreateStore struct {
	SubscriptionStore
}

func (failingCreateStore) Create(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	return nil, domain.Internal(errors.New("disk full"), "test", "Failed to create subscription")
}

func TestSubscriptionService_Create_CompensatesOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	svc := f.build(failingCreateStore{f.store}, nil)

	_, err := svc.Create(context.Background(), domain.CreateSubscriptionParams{
		OfferID: f.offer(2).ID,
		UserID:  uuid.New(),
	})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Equal(t, []int{1, 2, 3, 4}, f.free(t, a.ID))
}

// cancellingStore cancels the request context while the row is being
// written, as a client disconnect or request timeout would.
type cancellingStore struct {
	SubscriptionStore
	cancel context.CancelFunc
}

func (s cancellingStore) Create(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.cancel()
	return nil, ctx.Err()
}

// ctxRegistry fails slot writes on a done context like a database driver.
type ctxRegistry struct {
	*pool.MemoryRegistry
}

func (r ctxRegistry) ReleaseSubscription(ctx context.Context, id uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.MemoryRegistry.ReleaseSubscription(ctx, id)
}

func (r ctxRegistry) RebindSlots(ctx context.Context, slotIDs []uuid.UUID, from, to uuid.UUID) ([]domain.ProfileSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.MemoryRegistry.RebindSlots(ctx, slotIDs, from, to)
}

func TestSubscriptionService_Create_CompensatesAfterCancel(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := f.buildWith(cancellingStore{f.store, cancel}, ctxRegistry{f.registry}, nil)

	_, err := svc.Create(ctx, domain.CreateSubscriptionParams{
		OfferID: f.offer(2).ID,
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2, 3, 4}, f.free(t, a.ID))
}

// staleSelector hands out a stale choice first, as if another request won the
// reservation between selection and commit.
type staleSelector struct {
	stale  *domain.Account
	next   AccountSelector
	always bool
	calls  int
}

func (s *staleSelector) SelectAccount(ctx context.Context, platformID uuid.UUID, required int) (*domain.Account, error) {
	s.calls++
	if s.calls == 1 || s.always {
		return s.stale, nil
	}
	return s.next.SelectAccount(ctx, platformID, required)
}

func TestSubscriptionService_Create_RetriesLostRace(t *testing.T) {
	f := newFixture(t)
	full := f.account(t, 2, 2)
	open := f.account(t, 4, 0)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	selector := &staleSelector{stale: full, next: allocation.NewEngine(f.catalog, f.registry, logger)}
	svc := f.build(f.store, selector)

	sub, err := svc.Create(context.Background(), domain.CreateSubscriptionParams{
		OfferID: f.offer(2).ID,
		UserID:  uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, open.ID, *sub.BoundAccountID)
	assert.Equal(t, 2, sub.Allocation.Attempts)
	assert.Equal(t, 2, selector.calls)
}

func TestSubscriptionService_Create_RetryExhausted(t *testing.T) {
	f := newFixture(t)
	full := f.account(t, 2, 2)

	selector := &staleSelector{stale: full, always: true}
	svc := f.build(f.store, selector)

	_, err := svc.Create(context.Background(), domain.CreateSubscriptionParams{
		OfferID: f.offer(1).ID,
		UserID:  uuid.New(),
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleAccount)
	assert.Equal(t, 2, selector.calls, "one retry after the lost race")
}

func TestSubscriptionService_Create_Disjoint(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.account(t, 4, 0)
	}
	offer := f.offer(1)

	const requests = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		subs []*domain.Subscription
		errs []error
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := f.svc.Create(context.Background(), domain.CreateSubscriptionParams{OfferID: offer.ID, UserID: uuid.New()})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			subs = append(subs, sub)
		}()
	}
	wg.Wait()

	// 12 slots for 20 requests. Retries are bounded, so some requests may
	// give up before the pool is exhausted, but never oversell.
	assert.NotEmpty(t, subs)
	assert.LessOrEqual(t, len(subs), 12)
	assert.Len(t, errs, requests-len(subs))
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrNoEligibleAccount)
	}

	seen := make(map[uuid.UUID]uuid.UUID)
	for _, sub := range subs {
		for _, slotID := range sub.BoundSlotIDs {
			other, dup := seen[slotID]
			assert.False(t, dup, "slot %s bound to %s and %s", slotID, other, sub.ID)
			seen[slotID] = sub.ID
		}
	}

	stats, err := f.registry.Stats(context.Background(), f.platform.ID)
	require.NoError(t, err)
	assert.Equal(t, 12-len(subs), stats.FreeSlots)
}

// =============================================================================
// Transitions
// =============================================================================

func TestSubscriptionService_Transitions(t *testing.T) {
	f := newFixture(t)
	f.account(t, 4, 0)
	sub := f.create(t, f.offer(2))
	ctx := context.Background()

	got, err := f.svc.MarkContactNeeded(ctx, sub.ID, "password changed by owner")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusContactNeeded, got.Status)
	assert.Equal(t, "password changed by owner", got.ContactNote)
	assert.Equal(t, sub.BoundSlotIDs, got.BoundSlotIDs)

	_, err = f.svc.Activate(ctx, sub.ID)
	require.NoError(t, err, "contact_needed may return to active")

	_, err = f.svc.MarkContactNeeded(ctx, sub.ID, "again")
	require.NoError(t, err)

	got, err = f.svc.MarkContacted(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.Empty(t, got.ContactNote)
	assert.Equal(t, sub.BoundSlotIDs, got.BoundSlotIDs)

	_, err = f.svc.MarkContacted(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Activate(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubscriptionService_Activate(t *testing.T) {
	f := newFixture(t)
	f.account(t, 4, 0)
	sub := f.create(t, f.offer(1))

	got, err := f.svc.Activate(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	assert.Equal(t, sub.BoundSlotIDs, got.BoundSlotIDs)

	_, err = f.svc.Activate(context.Background(), uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestSubscriptionService_Expire(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	sub := f.create(t, f.offer(3))
	ctx := context.Background()

	got, err := f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)
	assert.Empty(t, got.BoundSlotIDs)
	assert.Equal(t, a.ID, *got.BoundAccountID, "last account is kept for renewal")
	assert.Equal(t, []int{1, 2, 3, 4}, f.free(t, a.ID))

	// Terminal and idempotent
	again, err := f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, again.Status)

	_, err = f.svc.Activate(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubscriptionService_Expire_FromContactNeeded(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	sub := f.create(t, f.offer(2))
	ctx := context.Background()

	_, err := f.svc.MarkContactNeeded(ctx, sub.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, f.free(t, a.ID))
}

func TestSubscriptionService_Delete(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	orderID := uuid.New()
	ctx := context.Background()

	sub, err := f.svc.Create(ctx, domain.CreateSubscriptionParams{
		OfferID: f.offer(2).ID,
		UserID:  uuid.New(),
		OrderID: &orderID,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, sub.ID))
	assert.Equal(t, []int{1, 2, 3, 4}, f.free(t, a.ID))

	_, err = f.svc.GetByID(ctx, sub.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	subs, err := f.svc.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(f.svc.Delete(ctx, sub.ID)))
}

func TestSubscriptionService_ListByAccount(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 4, 0)
	ctx := context.Background()

	first := f.create(t, f.offer(1))
	second := f.create(t, f.offer(1))
	_, err := f.svc.Expire(ctx, first.ID)
	require.NoError(t, err)

	subs, err := f.svc.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, second.ID, subs[0].ID)
}

func TestSubscriptionService_ListDue(t *testing.T) {
	f := newFixture(t)
	f.account(t, 4, 0)
	ctx := context.Background()

	due := f.create(t, f.offer(1))
	f.now = testNow.AddDate(0, 0, 10)
	f.create(t, f.offer(1))

	subs, err := f.svc.ListDue(ctx, testNow.AddDate(0, 0, 30), 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, due.ID, subs[0].ID)
}

func TestSubscriptionService_ListDue_ContactNeeded(t *testing.T) {
	f := newFixture(t)
	f.account(t, 4, 0)
	ctx := context.Background()
	offer := f.offer(1)

	parked := func(autoRenew bool) *domain.Subscription {
		sub, err := f.svc.Create(ctx, domain.CreateSubscriptionParams{OfferID: offer.ID, UserID: uuid.New(), AutoRenew: autoRenew})
		require.NoError(t, err)
		_, err = f.svc.MarkContactNeeded(ctx, sub.ID, "card declined")
		require.NoError(t, err)
		return sub
	}
	stuck := parked(false)
	parked(true) // waiting on staff after a failed renewal

	subs, err := f.svc.ListDue(ctx, testNow.AddDate(0, 0, 31), 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, stuck.ID, subs[0].ID)

	// The sweep expires it and frees the slot
	_, err = f.svc.Expire(ctx, stuck.ID)
	require.NoError(t, err)
	got, err := f.svc.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)
	assert.Empty(t, got.BoundSlotIDs)
}
