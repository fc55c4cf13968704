// Package service contains the business logic layer.
//
// This file implements the subscription lifecycle: creation with immediate
// slot reservation, status transitions, expiry with slot release, deletion and
// renewal.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/metrics"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService defines the interface for subscription lifecycle
// operations. It is the only caller of slot reservation and release.
type SubscriptionService interface {
	// Create resolves the offer, reserves slots on the best-fitting account and
	// stores a PENDING subscription. Nothing is persisted or left bound on
	// failure. Returns domain.ErrNoEligibleAccount when no account has room.
	Create(ctx context.Context, params domain.CreateSubscriptionParams) (*domain.Subscription, error)

	// GetByID retrieves a subscription.
	// Returns domain.ENOTFOUND if the subscription does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// ListByAccount returns live subscriptions bound to the account.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error)

	// ListByOrder returns subscriptions created for the order.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Subscription, error)

	// ListDue returns the subscriptions the expiry sweep acts on at before
	// (see domain.Subscription.NeedsSweep), oldest end date first.
	ListDue(ctx context.Context, before time.Time, limit int) ([]domain.Subscription, error)

	// Activate moves a PENDING subscription to ACTIVE.
	Activate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// MarkContactNeeded parks a PENDING or ACTIVE subscription for staff.
	// Slots stay bound.
	MarkContactNeeded(ctx context.Context, id uuid.UUID, note string) (*domain.Subscription, error)

	// MarkContacted returns a CONTACT_NEEDED subscription to ACTIVE.
	MarkContacted(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// Expire moves the subscription to EXPIRED and releases its slots.
	// Expiring an expired subscription is a no-op.
	Expire(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// Delete releases the subscription's slots, detaches it from its order
	// and removes it.
	Delete(ctx context.Context, id uuid.UUID) error

	// Renew creates a PENDING successor with the same resource shape,
	// preferring the previously used account. Returns
	// domain.ErrRenewalUnavailable when no capacity exists; a live source is
	// moved to CONTACT_NEEDED in that case.
	Renew(ctx context.Context, params domain.RenewSubscriptionParams) (*domain.Subscription, error)
}

// OfferResolver maps an offer onto a platform.
type OfferResolver interface {
	Resolve(ctx context.Context, offerID uuid.UUID, platformID *uuid.UUID) (domain.ResolvedOffer, error)
}

// AccountSelector picks the best-fitting account for a request.
type AccountSelector interface {
	SelectAccount(ctx context.Context, platformID uuid.UUID, requiredProfiles int) (*domain.Account, error)
}

// SubscriptionConfig tunes the subscription service.
type SubscriptionConfig struct {
	// ReserveRetries is how many times selection and reservation are re-run
	// after losing a reservation race.
	ReserveRetries int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// renewalUnavailableNote is stored on a subscription parked after a failed
// renewal.
const renewalUnavailableNote = "Renewal could not be allocated: no account has enough free profiles"

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	store    SubscriptionStore
	pool     pool.Registry
	selector AccountSelector
	offers   OfferResolver
	cfg      SubscriptionConfig
	logger   *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(
	store SubscriptionStore,
	registry pool.Registry,
	selector AccountSelector,
	offers OfferResolver,
	cfg SubscriptionConfig,
	logger *slog.Logger,
) SubscriptionService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReserveRetries < 0 {
		cfg.ReserveRetries = 0
	}
	return &subscriptionService{
		store:    store,
		pool:     registry,
		selector: selector,
		offers:   offers,
		cfg:      cfg,
		logger:   logger,
	}
}

// =============================================================================
// Create
// =============================================================================

func (s *subscriptionService) Create(ctx context.Context, params domain.CreateSubscriptionParams) (*domain.Subscription, error) {
	const op = "subscription.create"

	if params.UserID == uuid.Nil {
		return nil, domain.Invalid(op, "User is required")
	}

	resolved, err := s.offers.Resolve(ctx, params.OfferID, params.PlatformID)
	if err != nil {
		return nil, err
	}

	subID := uuid.New()
	account, slots, attempts, err := s.allocate(ctx, resolved.PlatformID, resolved.RequiredProfiles, subID)
	if err != nil {
		s.logger.Warn("subscription allocation failed",
			"error", err,
			"offer_id", params.OfferID,
			"platform_id", resolved.PlatformID,
			"required_profiles", resolved.RequiredProfiles,
		)
		return nil, err
	}

	start, end := resolved.Window(s.cfg.Now())
	created, err := s.store.Create(ctx, &domain.Subscription{
		ID:               subID,
		OfferID:          params.OfferID,
		UserID:           params.UserID,
		OrderID:          params.OrderID,
		PlatformID:       resolved.PlatformID,
		RequiredProfiles: resolved.RequiredProfiles,
		BoundAccountID:   &account.ID,
		BoundSlotIDs:     domain.SlotIDs(slots),
		Status:           domain.SubscriptionStatusPending,
		AutoRenew:        params.AutoRenew,
		StartDate:        start,
		EndDate:          end,
		Allocation: domain.AllocationInfo{
			Strategy: domain.StrategySelected,
			Attempts: attempts,
		},
	})
	if err != nil {
		s.compensate(ctx, op, subID)
		return nil, err
	}

	metrics.SubscriptionTransitioned(string(domain.SubscriptionStatusPending))
	s.logger.Info("subscription created",
		"subscription_id", created.ID,
		"user_id", created.UserID,
		"account_id", account.ID,
		"slots", len(slots),
		"attempts", attempts,
	)

	return created, nil
}

// allocate selects an account and reserves slots on it for subscriptionID.
// A lost reservation race re-runs selection against fresh state up to
// ReserveRetries times before giving up with domain.ErrNoEligibleAccount.
func (s *subscriptionService) allocate(ctx context.Context, platformID uuid.UUID, required int, subscriptionID uuid.UUID) (*domain.Account, []domain.ProfileSlot, int, error) {
	const op = "subscription.allocate"

	for attempt := 1; attempt <= s.cfg.ReserveRetries+1; attempt++ {
		account, err := s.selector.SelectAccount(ctx, platformID, required)
		if err != nil {
			return nil, nil, attempt, err
		}

		slots, err := s.pool.ReserveSlots(ctx, pool.ReserveParams{
			AccountID:          account.ID,
			SubscriptionID:     subscriptionID,
			Count:              required,
			PreferNonPrincipal: true,
		})
		metrics.SlotsReserved(err == nil)
		if err == nil {
			return account, slots, attempt, nil
		}
		if !errors.Is(err, domain.ErrInsufficientSlots) {
			return nil, nil, attempt, err
		}

		s.logger.Warn("slot reservation lost race",
			"account_id", account.ID,
			"subscription_id", subscriptionID,
			"attempt", attempt,
		)
	}

	return nil, nil, s.cfg.ReserveRetries + 1, domain.WithOp(domain.ErrNoEligibleAccount, op)
}

// compensationTimeout bounds cleanup that runs after the caller's context
// is gone.
const compensationTimeout = 10 * time.Second

// cleanupContext detaches from the caller's cancellation so compensation
// still runs after a request timeout.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

// compensate releases whatever is bound to a subscription that failed to
// materialize.
func (s *subscriptionService) compensate(ctx context.Context, op string, subscriptionID uuid.UUID) {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	n, err := s.pool.ReleaseSubscription(ctx, subscriptionID)
	if err != nil {
		s.logger.Error("compensating release failed",
			"error", err,
			"op", op,
			"subscription_id", subscriptionID,
		)
		return
	}
	metrics.SlotsReleased(n)
	s.logger.Info("compensating release", "op", op, "subscription_id", subscriptionID, "slots", n)
}

// =============================================================================
// Queries
// =============================================================================

func (s *subscriptionService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.store.Get(ctx, id)
}

func (s *subscriptionService) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error) {
	return s.store.ListByAccount(ctx, accountID)
}

func (s *subscriptionService) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Subscription, error) {
	return s.store.ListByOrder(ctx, orderID)
}

func (s *subscriptionService) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.Subscription, error) {
	return s.store.ListDue(ctx, before, limit)
}

// =============================================================================
// Transitions
// =============================================================================

func (s *subscriptionService) Activate(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.transition(ctx, "subscription.activate", id, domain.SubscriptionStatusActive, nil)
}

func (s *subscriptionService) MarkContactNeeded(ctx context.Context, id uuid.UUID, note string) (*domain.Subscription, error) {
	return s.transition(ctx, "subscription.mark_contact_needed", id, domain.SubscriptionStatusContactNeeded, &note)
}

func (s *subscriptionService) MarkContacted(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	const op = "subscription.mark_contacted"

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubscriptionStatusContactNeeded {
		return nil, domain.WithOp(domain.ErrInvalidTransition, op)
	}
	cleared := ""
	return s.apply(ctx, op, sub, domain.SubscriptionStatusActive, &cleared)
}

// transition loads the subscription and moves it to a non-terminal status.
func (s *subscriptionService) transition(ctx context.Context, op string, id uuid.UUID, to domain.SubscriptionStatus, note *string) (*domain.Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, op, sub, to, note)
}

// apply validates and persists a status change with compare-and-set on the
// loaded status.
func (s *subscriptionService) apply(ctx context.Context, op string, sub *domain.Subscription, to domain.SubscriptionStatus, note *string) (*domain.Subscription, error) {
	from := sub.Status
	if err := sub.TransitionTo(to); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, StatusUpdate{
		ID:          sub.ID,
		From:        from,
		To:          to,
		ClearSlots:  to == domain.SubscriptionStatusExpired,
		ContactNote: note,
	})
	if err != nil {
		if errors.Is(err, errStatusChanged) {
			return nil, domain.Conflict(op, "Subscription was modified concurrently; reload and retry")
		}
		return nil, err
	}

	metrics.SubscriptionTransitioned(string(to))
	s.logger.Info("subscription transitioned",
		"op", op,
		"subscription_id", sub.ID,
		"from", from,
		"to", to,
	)
	return updated, nil
}

// =============================================================================
// Expire & Delete
// =============================================================================

func (s *subscriptionService) Expire(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	const op = "subscription.expire"

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status != domain.SubscriptionStatusExpired {
		sub, err = s.apply(ctx, op, sub, domain.SubscriptionStatusExpired, nil)
		if err != nil {
			return nil, err
		}
	}

	// Also sweeps slots left behind by an earlier expiry whose release failed.
	n, err := s.pool.ReleaseSubscription(ctx, id)
	if err != nil {
		s.logger.Error("failed to release slots of expired subscription",
			"error", err,
			"subscription_id", id,
		)
		return nil, err
	}
	metrics.SlotsReleased(n)
	if n > 0 {
		s.logger.Info("slots released", "subscription_id", id, "slots", n)
	}

	return sub, nil
}

func (s *subscriptionService) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "subscription.delete"

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	n, err := s.pool.ReleaseSubscription(ctx, id)
	if err != nil {
		return err
	}
	metrics.SlotsReleased(n)

	if sub.OrderID != nil {
		if err := s.store.DetachOrder(ctx, id); err != nil {
			return err
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("subscription deleted",
		"op", op,
		"subscription_id", id,
		"status", sub.Status,
		"slots_released", n,
	)
	return nil
}
