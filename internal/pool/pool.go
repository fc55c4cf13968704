// Package pool owns the authoritative free/bound state of every profile slot.
//
// All slot mutation goes through a Registry: ReserveSlots, RebindSlots and the
// release operations. Nothing else in the codebase writes slot ownership,
// which keeps the "one live subscription per slot" invariant enforceable in a
// single place.
package pool

import (
	"context"
	"sort"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

// ReserveParams describes an atomic slot reservation.
type ReserveParams struct {
	AccountID          uuid.UUID
	SubscriptionID     uuid.UUID
	Count              int
	PreferNonPrincipal bool
}

// Registry is the account pool and profile slot registry.
type Registry interface {
	// ListCandidateAccounts returns accounts of the platform with at least one
	// free slot, each carrying its current FreeSlots count. With
	// excludeDisabled set only available accounts are returned.
	ListCandidateAccounts(ctx context.Context, platformID uuid.UUID, excludeDisabled bool) ([]domain.Account, error)

	// FreeSlotCount returns the number of unbound slots on the account.
	FreeSlotCount(ctx context.Context, accountID uuid.UUID) (int, error)

	// ReserveSlots binds Count free slots of an available account to the
	// subscription, or fails with domain.ErrInsufficientSlots. Free state is
	// re-read under the account lock.
	ReserveSlots(ctx context.Context, params ReserveParams) ([]domain.ProfileSlot, error)

	// RebindSlots atomically moves slots held by one subscription to another.
	// It fails with domain.ErrInsufficientSlots unless every slot is still
	// held by the source subscription.
	RebindSlots(ctx context.Context, slotIDs []uuid.UUID, from, to uuid.UUID) ([]domain.ProfileSlot, error)

	// ReleaseSlots frees the given slots. Releasing a free slot is a no-op.
	ReleaseSlots(ctx context.Context, slotIDs []uuid.UUID) error

	// ReleaseSubscription frees every slot bound to the subscription.
	ReleaseSubscription(ctx context.Context, subscriptionID uuid.UUID) (int, error)

	// CreateAccount adds an account and its slots 1..SlotCount.
	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)

	// GetAccount returns the account with its FreeSlots populated.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// ListSlots returns the account's slots ordered by index.
	ListSlots(ctx context.Context, accountID uuid.UUID) ([]domain.ProfileSlot, error)

	// SetAccountStatus changes whether the account takes new reservations.
	SetAccountStatus(ctx context.Context, accountID uuid.UUID, status domain.AccountStatus) error

	// ChangeAccountPlatform moves an empty account to another platform and
	// rebuilds its slots. Fails with domain.ErrAccountHasBoundSlots otherwise.
	ChangeAccountPlatform(ctx context.Context, accountID, platformID uuid.UUID, slotCount int, override *int) error

	// DeleteAccount removes an empty account. Fails with
	// domain.ErrAccountHasBoundSlots otherwise.
	DeleteAccount(ctx context.Context, accountID uuid.UUID) error

	// Stats summarizes the platform's pool capacity.
	Stats(ctx context.Context, platformID uuid.UUID) (domain.PoolStats, error)
}

// ReservationOrder returns the order in which free slots are claimed: index
// ascending, with the principal slot moved to the end when preferNonPrincipal
// is set. The input is not modified.
func ReservationOrder(slots []domain.ProfileSlot, preferNonPrincipal bool) []domain.ProfileSlot {
	ordered := make([]domain.ProfileSlot, len(slots))
	copy(ordered, slots)

	sort.SliceStable(ordered, func(i, j int) bool {
		if preferNonPrincipal {
			pi, pj := ordered[i].IsPrincipal(), ordered[j].IsPrincipal()
			if pi != pj {
				return pj
			}
		}
		return ordered[i].SlotIndex < ordered[j].SlotIndex
	})

	return ordered
}

// pickFree selects count free slots in reservation order, or returns nil when
// fewer are free.
func pickFree(slots []domain.ProfileSlot, count int, preferNonPrincipal bool) []domain.ProfileSlot {
	free := make([]domain.ProfileSlot, 0, len(slots))
	for _, s := range slots {
		if s.IsFree() {
			free = append(free, s)
		}
	}
	if count < 1 || len(free) < count {
		return nil
	}
	return ReservationOrder(free, preferNonPrincipal)[:count]
}
