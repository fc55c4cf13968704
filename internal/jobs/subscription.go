// Package jobs contains the background job handlers and the sweeper that
// schedules them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/email"
	"github.com/DukeRupert/streamshare/internal/service"
	"github.com/DukeRupert/streamshare/internal/worker"
	"github.com/google/uuid"
)

// ExpireSubscriptionHandler expires a subscription whose end date has passed
// and releases its profile slots.
type ExpireSubscriptionHandler struct {
	subs   service.SubscriptionService
	logger *slog.Logger
}

// NewExpireSubscriptionHandler creates a new handler for expiry jobs.
func NewExpireSubscriptionHandler(subs service.SubscriptionService, logger *slog.Logger) *ExpireSubscriptionHandler {
	return &ExpireSubscriptionHandler{subs: subs, logger: logger}
}

// Type returns the job type identifier.
func (h *ExpireSubscriptionHandler) Type() string {
	return worker.JobTypeExpireSubscription
}

// Handle executes the expiry job.
func (h *ExpireSubscriptionHandler) Handle(ctx context.Context, payload []byte) error {
	p, err := decodeSubscriptionPayload(payload)
	if err != nil {
		return err
	}

	sub, err := h.subs.Expire(ctx, p.SubscriptionID)
	if err != nil {
		return classify(err)
	}

	h.logger.Info("Subscription expired by job",
		"subscription_id", sub.ID,
		"account_id", sub.BoundAccountID,
	)
	return nil
}

// RenewSubscriptionHandler renews an auto-renewing subscription and expires
// the source once the successor holds its slots.
type RenewSubscriptionHandler struct {
	subs     service.SubscriptionService
	notifier email.Notifier
	logger   *slog.Logger
}

// NewRenewSubscriptionHandler creates a new handler for renewal jobs.
// notifier may be nil.
func NewRenewSubscriptionHandler(subs service.SubscriptionService, notifier email.Notifier, logger *slog.Logger) *RenewSubscriptionHandler {
	return &RenewSubscriptionHandler{subs: subs, notifier: notifier, logger: logger}
}

// Type returns the job type identifier.
func (h *RenewSubscriptionHandler) Type() string {
	return worker.JobTypeRenewSubscription
}

// Handle executes the renewal job. A retried job whose renewal already
// succeeded only finishes the expiry.
func (h *RenewSubscriptionHandler) Handle(ctx context.Context, payload []byte) error {
	p, err := decodeSubscriptionPayload(payload)
	if err != nil {
		return err
	}

	successor, err := h.subs.Renew(ctx, domain.RenewSubscriptionParams{SubscriptionID: p.SubscriptionID})
	switch {
	case err == nil:
		h.logger.Info("Subscription renewed by job",
			"subscription_id", p.SubscriptionID,
			"successor_id", successor.ID,
			"account_id", successor.BoundAccountID,
			"strategy", successor.Allocation.Strategy,
		)
	case errors.Is(err, domain.ErrAlreadyRenewed):
		h.logger.Debug("Renewal already done, finishing expiry", "subscription_id", p.SubscriptionID)
	case errors.Is(err, domain.ErrRenewalUnavailable):
		// The source is parked as contact needed; staff take it from here.
		h.logger.Warn("Renewal unavailable", "subscription_id", p.SubscriptionID)
		h.alertStaff(ctx, p.SubscriptionID)
		return worker.NewPermanentError(err)
	default:
		return classify(err)
	}

	if _, err := h.subs.Expire(ctx, p.SubscriptionID); err != nil {
		return classify(err)
	}
	return nil
}

// alertStaff is best effort; a failed alert never retries the renewal.
func (h *RenewSubscriptionHandler) alertStaff(ctx context.Context, id uuid.UUID) {
	if h.notifier == nil {
		return
	}
	sub, err := h.subs.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("Failed to load subscription for alert", "subscription_id", id, "error", err)
		return
	}
	alert := email.ContactNeededAlert{
		SubscriptionID:   sub.ID,
		OrderID:          sub.OrderID,
		PlatformID:       sub.PlatformID,
		RequiredProfiles: sub.RequiredProfiles,
		EndDate:          sub.EndDate,
		Reason:           sub.ContactNote,
	}
	if err := h.notifier.SendContactNeeded(ctx, alert); err != nil {
		h.logger.Error("Failed to send contact needed alert", "subscription_id", id, "error", err)
	}
}

func decodeSubscriptionPayload(payload []byte) (worker.SubscriptionPayload, error) {
	var p worker.SubscriptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	if p.SubscriptionID == uuid.Nil {
		return p, worker.NewPermanentError(errors.New("invalid payload: missing subscription_id"))
	}
	return p, nil
}

// classify marks errors that a retry cannot fix as permanent.
func classify(err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		return worker.NewPermanentError(err)
	}
	switch domain.ErrorCode(err) {
	case domain.ENOTFOUND, domain.EINVALID, domain.ECONFIG:
		return worker.NewPermanentError(err)
	}
	return err
}
