// Package handler contains the HTTP handlers for the allocation API.
//
// This file implements the subscription endpoints used by the order flow and
// by staff.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/service"
	"github.com/google/uuid"
)

// SubscriptionHandler handles subscription HTTP requests.
type SubscriptionHandler struct {
	subs   service.SubscriptionService
	logger *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subs service.SubscriptionService, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, logger: logger}
}

// RegisterRoutes registers all subscription routes on the provided mux.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/subscriptions", h.Create)
	mux.HandleFunc("GET /api/subscriptions/{id}", h.Get)
	mux.HandleFunc("DELETE /api/subscriptions/{id}", h.Delete)
	mux.HandleFunc("POST /api/subscriptions/{id}/activate", h.Activate)
	mux.HandleFunc("POST /api/subscriptions/{id}/contact-needed", h.MarkContactNeeded)
	mux.HandleFunc("POST /api/subscriptions/{id}/contacted", h.MarkContacted)
	mux.HandleFunc("POST /api/subscriptions/{id}/expire", h.Expire)
	mux.HandleFunc("POST /api/subscriptions/{id}/renew", h.Renew)
	mux.HandleFunc("GET /api/orders/{id}/subscriptions", h.ListByOrder)
}

// CreateSubscriptionRequest is the body of POST /api/subscriptions.
type CreateSubscriptionRequest struct {
	OfferID    uuid.UUID  `json:"offer_id"`
	UserID     uuid.UUID  `json:"user_id"`
	OrderID    *uuid.UUID `json:"order_id"`
	PlatformID *uuid.UUID `json:"platform_id"`
	AutoRenew  bool       `json:"auto_renew"`
}

// Create reserves slots for a new order line.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.OfferID == uuid.Nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError("subscription.create", "offer_id", "Offer is required"))
		return
	}

	sub, err := h.subs.Create(r.Context(), domain.CreateSubscriptionParams{
		OfferID:    req.OfferID,
		UserID:     req.UserID,
		OrderID:    req.OrderID,
		PlatformID: req.PlatformID,
		AutoRenew:  req.AutoRenew,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, toSubscriptionResponse(sub))
}

// Get returns one subscription.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := h.subs.GetByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toSubscriptionResponse(sub))
}

// ListByOrder returns the subscriptions created for an order.
func (h *SubscriptionHandler) ListByOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	subs, err := h.subs.ListByOrder(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toSubscriptionList(subs))
}

// Activate confirms a pending subscription.
func (h *SubscriptionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.subs.Activate)
}

// MarkContacted returns a parked subscription to active.
func (h *SubscriptionHandler) MarkContacted(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.subs.MarkContacted)
}

// Expire ends a subscription and frees its slots.
func (h *SubscriptionHandler) Expire(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.subs.Expire)
}

// ContactNeededRequest is the body of POST /api/subscriptions/{id}/contact-needed.
type ContactNeededRequest struct {
	Note string `json:"note"`
}

// MarkContactNeeded parks a subscription for staff follow-up.
func (h *SubscriptionHandler) MarkContactNeeded(w http.ResponseWriter, r *http.Request) {
	var req ContactNeededRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
		return h.subs.MarkContactNeeded(ctx, id, req.Note)
	})
}

// RenewRequest is the body of POST /api/subscriptions/{id}/renew.
type RenewRequest struct {
	OrderID *uuid.UUID `json:"order_id"`
}

// Renew creates a successor subscription.
func (h *SubscriptionHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req RenewRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := h.subs.Renew(r.Context(), domain.RenewSubscriptionParams{
		SubscriptionID: id,
		OrderID:        req.OrderID,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, toSubscriptionResponse(sub))
}

// Delete removes a subscription and frees its slots.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.subs.Delete(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*domain.Subscription, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := fn(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toSubscriptionResponse(sub))
}
