// Package allocation selects the account that best fits a profile request.
//
// Selection is advisory and side-effect free. The authoritative check is the
// atomic reservation performed afterwards through pool.Registry; callers that
// lose a race re-run selection against fresh state.
package allocation

import (
	"context"
	"log/slog"
	"sort"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/metrics"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
)

// PlatformSource looks up platform configuration.
type PlatformSource interface {
	GetPlatform(ctx context.Context, id uuid.UUID) (*domain.Platform, error)
}

// Engine performs best-fit account selection.
type Engine struct {
	platforms PlatformSource
	pool      pool.Registry
	logger    *slog.Logger
}

// NewEngine creates an allocation engine.
func NewEngine(platforms PlatformSource, registry pool.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		platforms: platforms,
		pool:      registry,
		logger:    logger,
	}
}

// SelectAccount returns the available account of the platform whose free
// capacity fits requiredProfiles most tightly. It fails with
// domain.ErrNoEligibleAccount when no single account can hold the request and
// with domain.ErrInvalidPlatformConfig when the platform cannot carry it at
// all.
func (e *Engine) SelectAccount(ctx context.Context, platformID uuid.UUID, requiredProfiles int) (*domain.Account, error) {
	const op = "allocation.select_account"

	platform, err := e.platforms.GetPlatform(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if err := platform.CheckRequest(requiredProfiles); err != nil {
		if domain.ErrorCode(err) == domain.ECONFIG {
			metrics.AccountSelected(platform.Name, metrics.ResultInvalid)
			e.logger.Error("profile request incompatible with platform",
				"platform", platform.Name,
				"required_profiles", requiredProfiles,
			)
		}
		return nil, err
	}

	candidates, err := e.pool.ListCandidateAccounts(ctx, platformID, true)
	if err != nil {
		return nil, err
	}

	ranked := Rank(candidates, requiredProfiles)
	if len(ranked) == 0 {
		metrics.AccountSelected(platform.Name, metrics.ResultNoEligible)
		e.logger.Warn("no eligible account",
			"platform", platform.Name,
			"required_profiles", requiredProfiles,
			"candidates", len(candidates),
			"max_free_slots", maxFree(candidates),
		)
		return nil, domain.WithOp(domain.ErrNoEligibleAccount, op)
	}

	picked := ranked[0]
	metrics.AccountSelected(platform.Name, metrics.ResultSelected)
	e.logger.Debug("account selected",
		"platform", platform.Name,
		"account_id", picked.ID,
		"free_slots", picked.FreeSlots,
		"required_profiles", requiredProfiles,
	)
	return &picked, nil
}

// Rank filters candidates that can hold requiredProfiles and orders them
// best-fit first: least spare capacity after the reservation, then smallest
// account, then id for determinism. The input is not modified.
func Rank(candidates []domain.Account, requiredProfiles int) []domain.Account {
	eligible := make([]domain.Account, 0, len(candidates))
	for _, c := range candidates {
		if c.IsAvailable() && c.FreeSlots >= requiredProfiles {
			eligible = append(eligible, c)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		wi := eligible[i].FreeSlots - requiredProfiles
		wj := eligible[j].FreeSlots - requiredProfiles
		if wi != wj {
			return wi < wj
		}
		if eligible[i].SlotCount != eligible[j].SlotCount {
			return eligible[i].SlotCount < eligible[j].SlotCount
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})

	return eligible
}

// maxFree is the largest free count among candidates that currently have
// room; full accounts are not listed as candidates.
func maxFree(candidates []domain.Account) int {
	best := 0
	for _, c := range candidates {
		if c.FreeSlots > best {
			best = c.FreeSlots
		}
	}
	return best
}
