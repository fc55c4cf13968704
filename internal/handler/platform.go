package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/service"
)

// PlatformLister lists the platform catalog.
type PlatformLister interface {
	ListPlatforms(ctx context.Context) ([]domain.Platform, error)
}

// PlatformHandler serves the platform catalog and pool capacity.
type PlatformHandler struct {
	platforms PlatformLister
	accounts  service.AccountService
	logger    *slog.Logger
}

// NewPlatformHandler creates a new PlatformHandler.
func NewPlatformHandler(platforms PlatformLister, accounts service.AccountService, logger *slog.Logger) *PlatformHandler {
	return &PlatformHandler{platforms: platforms, accounts: accounts, logger: logger}
}

// RegisterRoutes registers the platform routes on the provided mux.
func (h *PlatformHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/platforms", h.List)
	mux.HandleFunc("GET /api/platforms/{id}/stats", h.Stats)
}

// List returns every platform.
func (h *PlatformHandler) List(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.platforms.ListPlatforms(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]PlatformResponse, 0, len(platforms))
	for i := range platforms {
		p := &platforms[i]
		out = append(out, PlatformResponse{
			ID:                    p.ID,
			Name:                  p.Name,
			SupportsProfiles:      p.SupportsProfiles,
			MaxProfilesPerAccount: p.MaxProfilesPerAccount,
			DefaultSlotCount:      p.DefaultSlotCount(),
		})
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}

// Stats returns pool capacity for one platform.
func (h *PlatformHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	stats, err := h.accounts.Stats(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, StatsResponse{
		PlatformID:        stats.PlatformID,
		Accounts:          stats.Accounts,
		AvailableAccounts: stats.AvailableAccounts,
		Slots:             stats.Slots,
		FreeSlots:         stats.FreeSlots,
	})
}
