package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/DukeRupert/streamshare/internal/catalog"
	"github.com/DukeRupert/streamshare/internal/credential"
	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/pool"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountFixture(t *testing.T) (AccountService, *catalog.MemoryStore, *pool.MemoryRegistry) {
	t.Helper()
	sealer, err := credential.NewSealer(strings.Repeat("0f", 32))
	require.NoError(t, err)

	store := catalog.NewMemoryStore()
	registry := pool.NewMemoryRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAccountService(registry, store, sealer, logger), store, registry
}

func TestAccountService_Create(t *testing.T) {
	svc, store, _ := newAccountFixture(t)
	ctx := context.Background()

	netflix := store.PutPlatform(domain.Platform{Name: "Netflix", SupportsProfiles: true, MaxProfilesPerAccount: intPtr(4)})
	vpn := store.PutPlatform(domain.Platform{Name: "VPN"})
	creds := domain.AccountCredentials{Login: "a@example.com", Password: "secret"}

	tests := []struct {
		name      string
		params    domain.CreateAccountParams
		wantSlots int
		wantErr   error
		wantCode  string
	}{
		{
			name:      "platform default",
			params:    domain.CreateAccountParams{PlatformID: netflix.ID, Label: "family 1", Credentials: creds},
			wantSlots: 4,
		},
		{
			name:      "override",
			params:    domain.CreateAccountParams{PlatformID: netflix.ID, Label: "family 2", Credentials: creds, SlotCountOverride: intPtr(5)},
			wantSlots: 5,
		},
		{
			name:      "single-account platform",
			params:    domain.CreateAccountParams{PlatformID: vpn.ID, Label: "vpn", Credentials: creds},
			wantSlots: 1,
		},
		{
			name:    "override on single-account platform",
			params:  domain.CreateAccountParams{PlatformID: vpn.ID, Label: "vpn", Credentials: creds, SlotCountOverride: intPtr(3)},
			wantErr: domain.ErrInvalidPlatformConfig,
		},
		{
			name:     "missing label",
			params:   domain.CreateAccountParams{PlatformID: netflix.ID, Label: "  ", Credentials: creds},
			wantCode: domain.EINVALID,
		},
		{
			name:     "missing login",
			params:   domain.CreateAccountParams{PlatformID: netflix.ID, Label: "x"},
			wantCode: domain.EINVALID,
		},
		{
			name:     "unknown platform",
			params:   domain.CreateAccountParams{PlatformID: uuid.New(), Label: "x", Credentials: creds},
			wantCode: domain.ENOTFOUND,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := svc.Create(ctx, tt.params)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantCode != "":
				assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantSlots, acct.SlotCount)
				assert.Equal(t, tt.wantSlots, acct.FreeSlots)
				assert.NotContains(t, string(acct.Credentials), "secret")
			}
		})
	}
}

func TestAccountService_RevealCredentials(t *testing.T) {
	svc, store, _ := newAccountFixture(t)
	ctx := context.Background()
	p := store.PutPlatform(domain.Platform{Name: "Netflix", SupportsProfiles: true, MaxProfilesPerAccount: intPtr(4)})

	creds := domain.AccountCredentials{Login: "a@example.com", Password: "secret", PIN: "1234"}
	acct, err := svc.Create(ctx, domain.CreateAccountParams{PlatformID: p.ID, Label: "family", Credentials: creds})
	require.NoError(t, err)

	got, err := svc.RevealCredentials(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestAccountService_ChangePlatform(t *testing.T) {
	svc, store, registry := newAccountFixture(t)
	ctx := context.Background()
	netflix := store.PutPlatform(domain.Platform{Name: "Netflix", SupportsProfiles: true, MaxProfilesPerAccount: intPtr(4)})
	disney := store.PutPlatform(domain.Platform{Name: "Disney+", SupportsProfiles: true, MaxProfilesPerAccount: intPtr(6)})

	acct, err := svc.Create(ctx, domain.CreateAccountParams{
		PlatformID:  netflix.ID,
		Label:       "family",
		Credentials: domain.AccountCredentials{Login: "a@example.com"},
	})
	require.NoError(t, err)

	subID := uuid.New()
	_, err = registry.ReserveSlots(ctx, pool.ReserveParams{AccountID: acct.ID, SubscriptionID: subID, Count: 1})
	require.NoError(t, err)

	err = svc.ChangePlatform(ctx, acct.ID, disney.ID, nil)
	assert.ErrorIs(t, err, domain.ErrAccountHasBoundSlots)
	assert.ErrorIs(t, svc.Delete(ctx, acct.ID), domain.ErrAccountHasBoundSlots)

	_, err = registry.ReleaseSubscription(ctx, subID)
	require.NoError(t, err)

	require.NoError(t, svc.ChangePlatform(ctx, acct.ID, disney.ID, nil))
	got, err := svc.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, disney.ID, got.PlatformID)
	assert.Equal(t, 6, got.SlotCount)

	require.NoError(t, svc.Delete(ctx, acct.ID))
}

func TestAccountService_SetStatusAndStats(t *testing.T) {
	svc, store, _ := newAccountFixture(t)
	ctx := context.Background()
	p := store.PutPlatform(domain.Platform{Name: "Netflix", SupportsProfiles: true, MaxProfilesPerAccount: intPtr(4)})

	acct, err := svc.Create(ctx, domain.CreateAccountParams{
		PlatformID:  p.ID,
		Label:       "family",
		Credentials: domain.AccountCredentials{Login: "a@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.EINVALID, domain.ErrorCode(svc.SetStatus(ctx, acct.ID, "paused")))
	require.NoError(t, svc.SetStatus(ctx, acct.ID, domain.AccountStatusDisabled))

	stats, err := svc.Stats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.Zero(t, stats.AvailableAccounts)
	assert.Zero(t, stats.FreeSlots)

	_, err = svc.Stats(ctx, uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
