package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Errorf(domain.EINVALID, "", "Request body is not valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// pathID parses the {name} path value as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.Errorf(domain.EINVALID, "", "Invalid %s", name)
	}
	return id, nil
}

// =============================================================================
// Response Types
// =============================================================================

// SubscriptionResponse is the API view of a subscription.
type SubscriptionResponse struct {
	ID               uuid.UUID   `json:"id"`
	OfferID          uuid.UUID   `json:"offer_id"`
	UserID           uuid.UUID   `json:"user_id"`
	OrderID          *uuid.UUID  `json:"order_id,omitempty"`
	PlatformID       uuid.UUID   `json:"platform_id"`
	RequiredProfiles int         `json:"required_profiles"`
	AccountID        *uuid.UUID  `json:"account_id,omitempty"`
	SlotIDs          []uuid.UUID `json:"slot_ids"`
	Status           string      `json:"status"`
	AutoRenew        bool        `json:"auto_renew"`
	StartDate        time.Time   `json:"start_date"`
	EndDate          time.Time   `json:"end_date"`
	RenewedFromID    *uuid.UUID  `json:"renewed_from_id,omitempty"`
	ContactNote      string      `json:"contact_note,omitempty"`
	Strategy         string      `json:"allocation_strategy,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

func toSubscriptionResponse(s *domain.Subscription) SubscriptionResponse {
	slots := s.BoundSlotIDs
	if slots == nil {
		slots = []uuid.UUID{}
	}
	return SubscriptionResponse{
		ID:               s.ID,
		OfferID:          s.OfferID,
		UserID:           s.UserID,
		OrderID:          s.OrderID,
		PlatformID:       s.PlatformID,
		RequiredProfiles: s.RequiredProfiles,
		AccountID:        s.BoundAccountID,
		SlotIDs:          slots,
		Status:           s.Status.String(),
		AutoRenew:        s.AutoRenew,
		StartDate:        s.StartDate,
		EndDate:          s.EndDate,
		RenewedFromID:    s.RenewedFromID,
		ContactNote:      s.ContactNote,
		Strategy:         s.Allocation.Strategy,
		CreatedAt:        s.CreatedAt,
	}
}

func toSubscriptionList(subs []domain.Subscription) []SubscriptionResponse {
	out := make([]SubscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i]))
	}
	return out
}

// AccountResponse is the API view of an account. Credentials are never
// included.
type AccountResponse struct {
	ID                uuid.UUID `json:"id"`
	PlatformID        uuid.UUID `json:"platform_id"`
	Label             string    `json:"label"`
	Status            string    `json:"status"`
	SlotCount         int       `json:"slot_count"`
	SlotCountOverride *int      `json:"slot_count_override,omitempty"`
	FreeSlots         int       `json:"free_slots"`
	CreatedAt         time.Time `json:"created_at"`
}

func toAccountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:                a.ID,
		PlatformID:        a.PlatformID,
		Label:             a.Label,
		Status:            a.Status.String(),
		SlotCount:         a.SlotCount,
		SlotCountOverride: a.SlotCountOverride,
		FreeSlots:         a.FreeSlots,
		CreatedAt:         a.CreatedAt,
	}
}

// SlotResponse is the API view of a profile slot.
type SlotResponse struct {
	ID             uuid.UUID  `json:"id"`
	Index          int        `json:"index"`
	Principal      bool       `json:"principal"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	BoundAt        *time.Time `json:"bound_at,omitempty"`
}

func toSlotList(slots []domain.ProfileSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		s := &slots[i]
		out = append(out, SlotResponse{
			ID:             s.ID,
			Index:          s.SlotIndex,
			Principal:      s.IsPrincipal(),
			SubscriptionID: s.BoundSubscriptionID,
			BoundAt:        s.BoundAt,
		})
	}
	return out
}

// PlatformResponse is the API view of a platform.
type PlatformResponse struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	SupportsProfiles      bool      `json:"supports_profiles"`
	MaxProfilesPerAccount *int      `json:"max_profiles_per_account,omitempty"`
	DefaultSlotCount      int       `json:"default_slot_count"`
}

// StatsResponse is the API view of pool capacity for a platform.
type StatsResponse struct {
	PlatformID        uuid.UUID `json:"platform_id"`
	Accounts          int       `json:"accounts"`
	AvailableAccounts int       `json:"available_accounts"`
	Slots             int       `json:"slots"`
	FreeSlots         int       `json:"free_slots"`
}
