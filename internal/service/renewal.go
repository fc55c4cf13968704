package service

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/metrics"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
)

// renewalPlan is where a successor's slots came from.
type renewalPlan struct {
	account  uuid.UUID
	slots    []domain.ProfileSlot
	strategy string
	attempts int
}

func (s *subscriptionService) Renew(ctx context.Context, params domain.RenewSubscriptionParams) (*domain.Subscription, error) {
	const op = "subscription.renew"

	source, err := s.store.Get(ctx, params.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if successor, err := s.store.Successor(ctx, source.ID); err == nil {
		s.logger.Info("subscription already renewed",
			"subscription_id", source.ID,
			"successor_id", successor.ID,
		)
		return nil, domain.WithOp(domain.ErrAlreadyRenewed, op)
	} else if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}

	resolved, err := s.offers.Resolve(ctx, source.OfferID, &source.PlatformID)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	successorID := uuid.New()
	plan, err := s.planRenewal(ctx, source, successorID, now)
	if err != nil {
		if errors.Is(err, domain.ErrNoEligibleAccount) {
			return nil, s.renewalUnavailable(ctx, op, source)
		}
		return nil, err
	}

	start := now
	if source.EndDate.After(now) {
		start = source.EndDate
	}
	_, end := resolved.Window(start)

	created, err := s.store.Create(ctx, &domain.Subscription{
		ID:               successorID,
		OfferID:          source.OfferID,
		UserID:           source.UserID,
		OrderID:          params.OrderID,
		PlatformID:       source.PlatformID,
		RequiredProfiles: source.RequiredProfiles,
		BoundAccountID:   &plan.account,
		BoundSlotIDs:     domain.SlotIDs(plan.slots),
		Status:           domain.SubscriptionStatusPending,
		AutoRenew:        source.AutoRenew,
		StartDate:        start,
		EndDate:          end,
		RenewedFromID:    &source.ID,
		Allocation: domain.AllocationInfo{
			Strategy: plan.strategy,
			Attempts: plan.attempts,
		},
	})
	if err != nil {
		s.undoPlan(ctx, op, plan, source.ID, successorID)
		return nil, err
	}

	if plan.strategy == domain.StrategyHandover {
		// The source no longer holds slots; retire it without a release.
		if _, err := s.apply(ctx, op, source, domain.SubscriptionStatusExpired, nil); err != nil {
			s.logger.Error("failed to expire source after handover, undoing renewal",
				"error", err,
				"subscription_id", source.ID,
				"successor_id", created.ID,
			)
			s.undoRenewal(ctx, op, plan, source.ID, successorID)
			return nil, err
		}
	}

	metrics.Renewed(plan.strategy)
	metrics.SubscriptionTransitioned(string(domain.SubscriptionStatusPending))
	s.logger.Info("subscription renewed",
		"subscription_id", source.ID,
		"successor_id", created.ID,
		"account_id", plan.account,
		"strategy", plan.strategy,
	)

	return created, nil
}

// planRenewal obtains slots for the successor. In order it tries: moving the
// source's own slots over once its window has ended, fresh slots on the
// previously used account, and best-fit selection across the pool. A source
// still inside its window keeps its slots.
func (s *subscriptionService) planRenewal(ctx context.Context, source *domain.Subscription, successorID uuid.UUID, now time.Time) (*renewalPlan, error) {
	if source.BoundAccountID != nil {
		accountID := *source.BoundAccountID

		if source.IsDue(now) {
			if plan, ok := s.tryHandover(ctx, source, successorID); ok {
				return plan, nil
			}
		}

		slots, err := s.pool.ReserveSlots(ctx, pool.ReserveParams{
			AccountID:          accountID,
			SubscriptionID:     successorID,
			Count:              source.RequiredProfiles,
			PreferNonPrincipal: true,
		})
		metrics.SlotsReserved(err == nil)
		switch {
		case err == nil:
			return &renewalPlan{
				account:  accountID,
				slots:    slots,
				strategy: domain.StrategyPreferred,
				attempts: 1,
			}, nil
		case errors.Is(err, domain.ErrInsufficientSlots), domain.ErrorCode(err) == domain.ENOTFOUND:
			s.logger.Info("previous account cannot take renewal, falling back",
				"subscription_id", source.ID,
				"account_id", accountID,
			)
		default:
			return nil, err
		}
	}

	account, slots, attempts, err := s.allocate(ctx, source.PlatformID, source.RequiredProfiles, successorID)
	if err != nil {
		return nil, err
	}
	return &renewalPlan{
		account:  account.ID,
		slots:    slots,
		strategy: domain.StrategySelected,
		attempts: attempts,
	}, nil
}

// tryHandover moves a due source's slots to the successor when the source
// holds exactly the required shape on an account still taking reservations.
func (s *subscriptionService) tryHandover(ctx context.Context, source *domain.Subscription, successorID uuid.UUID) (*renewalPlan, bool) {
	if !source.IsLive() || len(source.BoundSlotIDs) != source.RequiredProfiles {
		return nil, false
	}

	account, err := s.pool.GetAccount(ctx, *source.BoundAccountID)
	if err != nil || !account.IsAvailable() {
		return nil, false
	}

	slots, err := s.pool.RebindSlots(ctx, source.BoundSlotIDs, source.ID, successorID)
	if err != nil {
		s.logger.Debug("slot handover not possible",
			"error", err,
			"subscription_id", source.ID,
		)
		return nil, false
	}

	return &renewalPlan{
		account:  account.ID,
		slots:    slots,
		strategy: domain.StrategyHandover,
		attempts: 1,
	}, true
}

// undoPlan gives back slots obtained for a successor that was never stored.
func (s *subscriptionService) undoPlan(ctx context.Context, op string, plan *renewalPlan, sourceID, successorID uuid.UUID) {
	if plan.strategy == domain.StrategyHandover {
		cctx, cancel := cleanupContext(ctx)
		_, err := s.pool.RebindSlots(cctx, domain.SlotIDs(plan.slots), successorID, sourceID)
		cancel()
		if err == nil {
			return
		}
		s.logger.Error("handing slots back to source failed",
			"error", err,
			"op", op,
			"subscription_id", sourceID,
		)
	}
	s.compensate(ctx, op, successorID)
}

// undoRenewal reverses a stored renewal: slots go back to the source and
// the successor row is removed.
func (s *subscriptionService) undoRenewal(ctx context.Context, op string, plan *renewalPlan, sourceID, successorID uuid.UUID) {
	s.undoPlan(ctx, op, plan, sourceID, successorID)

	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := s.store.Delete(cctx, successorID); err != nil {
		s.logger.Error("failed to remove successor of undone renewal",
			"error", err,
			"op", op,
			"successor_id", successorID,
		)
	}
}

// renewalUnavailable parks a live source for staff and returns
// domain.ErrRenewalUnavailable.
func (s *subscriptionService) renewalUnavailable(ctx context.Context, op string, source *domain.Subscription) error {
	metrics.Renewed("unavailable")

	if source.Status.CanTransitionTo(domain.SubscriptionStatusContactNeeded) {
		note := renewalUnavailableNote
		if _, err := s.apply(ctx, op, source, domain.SubscriptionStatusContactNeeded, &note); err != nil {
			s.logger.Error("failed to flag subscription after unavailable renewal",
				"error", err,
				"subscription_id", source.ID,
			)
		}
	}

	s.logger.Warn("renewal unavailable",
		"subscription_id", source.ID,
		"platform_id", source.PlatformID,
		"required_profiles", source.RequiredProfiles,
	)
	return domain.WithOp(domain.ErrRenewalUnavailable, op)
}
