// Package handler contains the HTTP handlers for the allocation API.
//
// This file implements staff endpoints for the account pool.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/service"
	"github.com/google/uuid"
)

// AccountHandler handles account pool HTTP requests.
type AccountHandler struct {
	accounts service.AccountService
	subs     service.SubscriptionService
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts service.AccountService, subs service.SubscriptionService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, subs: subs, logger: logger}
}

// RegisterRoutes registers all account routes on the provided mux. The
// wrap middleware guards every route.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/accounts", wrap(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/accounts/{id}", wrap(http.HandlerFunc(h.Get)))
	mux.Handle("DELETE /api/accounts/{id}", wrap(http.HandlerFunc(h.Delete)))
	mux.Handle("GET /api/accounts/{id}/slots", wrap(http.HandlerFunc(h.ListSlots)))
	mux.Handle("GET /api/accounts/{id}/subscriptions", wrap(http.HandlerFunc(h.ListSubscriptions)))
	mux.Handle("GET /api/accounts/{id}/credentials", wrap(http.HandlerFunc(h.Credentials)))
	mux.Handle("PUT /api/accounts/{id}/status", wrap(http.HandlerFunc(h.SetStatus)))
	mux.Handle("PUT /api/accounts/{id}/platform", wrap(http.HandlerFunc(h.ChangePlatform)))
}

// CreateAccountRequest is the body of POST /api/accounts.
type CreateAccountRequest struct {
	PlatformID        uuid.UUID                 `json:"platform_id"`
	Label             string                    `json:"label"`
	Credentials       domain.AccountCredentials `json:"credentials"`
	SlotCountOverride *int                      `json:"slot_count_override"`
}

// Create adds an account to the pool.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	acct, err := h.accounts.Create(r.Context(), domain.CreateAccountParams{
		PlatformID:        req.PlatformID,
		Label:             req.Label,
		Credentials:       req.Credentials,
		SlotCountOverride: req.SlotCountOverride,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, toAccountResponse(acct))
}

// Get returns one account with its free slot count.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	acct, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toAccountResponse(acct))
}

// ListSlots returns the account's slots and their bindings.
func (h *AccountHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	slots, err := h.accounts.ListSlots(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toSlotList(slots))
}

// ListSubscriptions returns the live subscriptions bound to the account.
func (h *AccountHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	subs, err := h.subs.ListByAccount(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toSubscriptionList(subs))
}

// Credentials reveals the account's login details to staff.
func (h *AccountHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	creds, err := h.accounts.RevealCredentials(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.logger, http.StatusOK, creds)
}

// SetStatusRequest is the body of PUT /api/accounts/{id}/status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus enables, disables or retires an account.
func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	status := domain.AccountStatus(req.Status)
	if !status.IsValid() {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError("account.set_status", "status", "Status must be available, disabled or retired"))
		return
	}

	if err := h.accounts.SetStatus(r.Context(), id, status); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePlatformRequest is the body of PUT /api/accounts/{id}/platform.
type ChangePlatformRequest struct {
	PlatformID        uuid.UUID `json:"platform_id"`
	SlotCountOverride *int      `json:"slot_count_override"`
}

// ChangePlatform moves an empty account to another platform.
func (h *AccountHandler) ChangePlatform(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	var req ChangePlatformRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.accounts.ChangePlatform(r.Context(), id, req.PlatformID, req.SlotCountOverride); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete removes an empty account.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.accounts.Delete(r.Context(), id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
