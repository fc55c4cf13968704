// Package service contains the business logic layer.
//
// This file implements staff operations on the account pool.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DukeRupert/streamshare/internal/credential"
	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
)

// AccountService defines the interface for account pool administration.
type AccountService interface {
	// Create adds an account with sealed credentials and its slots.
	// Returns domain.ErrInvalidPlatformConfig if the slot override does not
	// fit the platform.
	Create(ctx context.Context, params domain.CreateAccountParams) (*domain.Account, error)

	// GetByID returns the account with its free slot count.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// ListSlots returns the account's slots ordered by index.
	ListSlots(ctx context.Context, id uuid.UUID) ([]domain.ProfileSlot, error)

	// SetStatus enables, disables or retires the account.
	SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error

	// ChangePlatform moves an empty account to another platform.
	// Returns domain.ErrAccountHasBoundSlots if any slot is bound.
	ChangePlatform(ctx context.Context, id, platformID uuid.UUID, slotCountOverride *int) error

	// Delete removes an empty account.
	// Returns domain.ErrAccountHasBoundSlots if any slot is bound.
	Delete(ctx context.Context, id uuid.UUID) error

	// RevealCredentials decrypts the account's login details.
	RevealCredentials(ctx context.Context, id uuid.UUID) (domain.AccountCredentials, error)

	// Stats summarizes pool capacity for the platform.
	Stats(ctx context.Context, platformID uuid.UUID) (domain.PoolStats, error)
}

// PlatformLookup returns platform configuration.
type PlatformLookup interface {
	GetPlatform(ctx context.Context, id uuid.UUID) (*domain.Platform, error)
}

type accountService struct {
	pool      pool.Registry
	platforms PlatformLookup
	sealer    *credential.Sealer
	logger    *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	registry pool.Registry,
	platforms PlatformLookup,
	sealer *credential.Sealer,
	logger *slog.Logger,
) AccountService {
	return &accountService{
		pool:      registry,
		platforms: platforms,
		sealer:    sealer,
		logger:    logger,
	}
}

func (s *accountService) Create(ctx context.Context, params domain.CreateAccountParams) (*domain.Account, error) {
	const op = "account.create"

	label := strings.TrimSpace(params.Label)
	if label == "" {
		return nil, domain.Invalid(op, "Label is required")
	}
	if len(label) > 255 {
		return nil, domain.Invalid(op, "Label must be 255 characters or less")
	}
	if strings.TrimSpace(params.Credentials.Login) == "" {
		return nil, domain.Invalid(op, "Login is required")
	}

	platform, err := s.platforms.GetPlatform(ctx, params.PlatformID)
	if err != nil {
		return nil, err
	}
	slotCount, err := platform.ResolveSlotCount(params.SlotCountOverride)
	if err != nil {
		return nil, err
	}

	sealed, err := s.sealer.SealCredentials(params.Credentials)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to seal credentials")
	}

	account, err := s.pool.CreateAccount(ctx, domain.Account{
		PlatformID:        platform.ID,
		Label:             label,
		Credentials:       sealed,
		Status:            domain.AccountStatusAvailable,
		SlotCount:         slotCount,
		SlotCountOverride: params.SlotCountOverride,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		"account_id", account.ID,
		"platform", platform.Name,
		"slot_count", slotCount,
	)
	return account, nil
}

func (s *accountService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.pool.GetAccount(ctx, id)
}

func (s *accountService) ListSlots(ctx context.Context, id uuid.UUID) ([]domain.ProfileSlot, error) {
	return s.pool.ListSlots(ctx, id)
}

func (s *accountService) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	const op = "account.set_status"

	if !status.IsValid() {
		return domain.Invalid(op, "Unknown account status")
	}
	if err := s.pool.SetAccountStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("account status changed", "account_id", id, "status", status)
	return nil
}

func (s *accountService) ChangePlatform(ctx context.Context, id, platformID uuid.UUID, slotCountOverride *int) error {
	platform, err := s.platforms.GetPlatform(ctx, platformID)
	if err != nil {
		return err
	}
	slotCount, err := platform.ResolveSlotCount(slotCountOverride)
	if err != nil {
		return err
	}

	if err := s.pool.ChangeAccountPlatform(ctx, id, platform.ID, slotCount, slotCountOverride); err != nil {
		return err
	}
	s.logger.Info("account moved to platform",
		"account_id", id,
		"platform", platform.Name,
		"slot_count", slotCount,
	)
	return nil
}

func (s *accountService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.pool.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.logger.Info("account deleted", "account_id", id)
	return nil
}

func (s *accountService) RevealCredentials(ctx context.Context, id uuid.UUID) (domain.AccountCredentials, error) {
	const op = "account.reveal_credentials"

	account, err := s.pool.GetAccount(ctx, id)
	if err != nil {
		return domain.AccountCredentials{}, err
	}
	creds, err := s.sealer.OpenCredentials(account.Credentials)
	if err != nil {
		return domain.AccountCredentials{}, domain.Internal(err, op, "Failed to open credentials")
	}

	s.logger.Info("account credentials revealed", "account_id", id)
	return creds, nil
}

func (s *accountService) Stats(ctx context.Context, platformID uuid.UUID) (domain.PoolStats, error) {
	if _, err := s.platforms.GetPlatform(ctx, platformID); err != nil {
		return domain.PoolStats{}, err
	}
	return s.pool.Stats(ctx, platformID)
}
