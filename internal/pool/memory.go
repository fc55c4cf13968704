package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

// MemoryRegistry is an in-process Registry. Each account has its own mutex so
// reservations on unrelated accounts do not contend, mirroring the per-account
// row lock of the Postgres registry.
type MemoryRegistry struct {
	mu       sync.RWMutex // guards the accounts map itself
	accounts map[uuid.UUID]*memAccount
	now      func() time.Time
}

type memAccount struct {
	mu      sync.Mutex
	account domain.Account
	slots   []domain.ProfileSlot
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		accounts: make(map[uuid.UUID]*memAccount),
		now:      time.Now,
	}
}

var _ Registry = (*MemoryRegistry)(nil)

func (r *MemoryRegistry) lookup(op string, id uuid.UUID) (*memAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, domain.NotFound(op, "account", id.String())
	}
	return a, nil
}

func (r *MemoryRegistry) all() []*memAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*memAccount, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}

// snapshot must be called with a.mu held.
func (a *memAccount) snapshot() domain.Account {
	acct := a.account
	acct.FreeSlots = 0
	for _, s := range a.slots {
		if s.IsFree() {
			acct.FreeSlots++
		}
	}
	return acct
}

func buildSlots(accountID uuid.UUID, n int) []domain.ProfileSlot {
	slots := make([]domain.ProfileSlot, n)
	for i := range slots {
		slots[i] = domain.ProfileSlot{
			ID:        uuid.New(),
			AccountID: accountID,
			SlotIndex: i + 1,
		}
	}
	return slots
}

func (r *MemoryRegistry) ListCandidateAccounts(ctx context.Context, platformID uuid.UUID, excludeDisabled bool) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range r.all() {
		a.mu.Lock()
		acct := a.snapshot()
		a.mu.Unlock()

		if acct.PlatformID != platformID || acct.FreeSlots == 0 {
			continue
		}
		switch acct.Status {
		case domain.AccountStatusAvailable:
		case domain.AccountStatusDisabled:
			if excludeDisabled {
				continue
			}
		default:
			continue
		}
		out = append(out, acct)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRegistry) FreeSlotCount(ctx context.Context, accountID uuid.UUID) (int, error) {
	a, err := r.lookup("MemoryRegistry.FreeSlotCount", accountID)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot().FreeSlots, nil
}

func (r *MemoryRegistry) ReserveSlots(ctx context.Context, params ReserveParams) ([]domain.ProfileSlot, error) {
	const op = "MemoryRegistry.ReserveSlots"

	a, err := r.lookup(op, params.AccountID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.account.IsAvailable() {
		return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
	}
	picked := pickFree(a.slots, params.Count, params.PreferNonPrincipal)
	if picked == nil {
		return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
	}

	now := r.now()
	subID := params.SubscriptionID
	for i := range picked {
		for j := range a.slots {
			if a.slots[j].ID == picked[i].ID {
				a.slots[j].BoundSubscriptionID = &subID
				a.slots[j].BoundAt = &now
				picked[i] = a.slots[j]
			}
		}
	}
	return picked, nil
}

func (r *MemoryRegistry) RebindSlots(ctx context.Context, slotIDs []uuid.UUID, from, to uuid.UUID) ([]domain.ProfileSlot, error) {
	const op = "MemoryRegistry.RebindSlots"

	if len(slotIDs) == 0 {
		return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
	}

	a := r.owner(slotIDs[0])
	if a == nil {
		return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := make([]int, 0, len(slotIDs))
	for _, id := range slotIDs {
		found := -1
		for j, s := range a.slots {
			if s.ID == id && s.BoundSubscriptionID != nil && *s.BoundSubscriptionID == from {
				found = j
			}
		}
		if found < 0 {
			return nil, domain.WithOp(domain.ErrInsufficientSlots, op)
		}
		idx = append(idx, found)
	}

	now := r.now()
	out := make([]domain.ProfileSlot, 0, len(idx))
	for _, j := range idx {
		target := to
		a.slots[j].BoundSubscriptionID = &target
		a.slots[j].BoundAt = &now
		out = append(out, a.slots[j])
	}
	return out, nil
}

// owner returns the account holding the slot, or nil.
func (r *MemoryRegistry) owner(slotID uuid.UUID) *memAccount {
	for _, a := range r.all() {
		a.mu.Lock()
		for _, s := range a.slots {
			if s.ID == slotID {
				a.mu.Unlock()
				return a
			}
		}
		a.mu.Unlock()
	}
	return nil
}

func (r *MemoryRegistry) ReleaseSlots(ctx context.Context, slotIDs []uuid.UUID) error {
	if len(slotIDs) == 0 {
		return nil
	}
	wanted := make(map[uuid.UUID]struct{}, len(slotIDs))
	for _, id := range slotIDs {
		wanted[id] = struct{}{}
	}

	for _, a := range r.all() {
		a.mu.Lock()
		for j := range a.slots {
			if _, ok := wanted[a.slots[j].ID]; ok {
				a.slots[j].BoundSubscriptionID = nil
				a.slots[j].BoundAt = nil
			}
		}
		a.mu.Unlock()
	}
	return nil
}

func (r *MemoryRegistry) ReleaseSubscription(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	released := 0
	for _, a := range r.all() {
		a.mu.Lock()
		for j := range a.slots {
			if b := a.slots[j].BoundSubscriptionID; b != nil && *b == subscriptionID {
				a.slots[j].BoundSubscriptionID = nil
				a.slots[j].BoundAt = nil
				released++
			}
		}
		a.mu.Unlock()
	}
	return released, nil
}

func (r *MemoryRegistry) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	const op = "MemoryRegistry.CreateAccount"

	if account.SlotCount < 1 {
		return nil, domain.Invalid(op, "Slot count must be at least 1")
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = domain.AccountStatusAvailable
	}
	now := r.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	a := &memAccount{account: account, slots: buildSlots(account.ID, account.SlotCount)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.ID]; exists {
		return nil, domain.Conflict(op, "Account already exists")
	}
	r.accounts[account.ID] = a

	acct := a.snapshot()
	return &acct, nil
}

func (r *MemoryRegistry) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	a, err := r.lookup("MemoryRegistry.GetAccount", accountID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acct := a.snapshot()
	return &acct, nil
}

func (r *MemoryRegistry) ListSlots(ctx context.Context, accountID uuid.UUID) ([]domain.ProfileSlot, error) {
	a, err := r.lookup("MemoryRegistry.ListSlots", accountID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ProfileSlot, len(a.slots))
	copy(out, a.slots)
	return out, nil
}

func (r *MemoryRegistry) SetAccountStatus(ctx context.Context, accountID uuid.UUID, status domain.AccountStatus) error {
	a, err := r.lookup("MemoryRegistry.SetAccountStatus", accountID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.account.Status = status
	a.account.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRegistry) ChangeAccountPlatform(ctx context.Context, accountID, platformID uuid.UUID, slotCount int, override *int) error {
	const op = "MemoryRegistry.ChangeAccountPlatform"

	a, err := r.lookup(op, accountID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if acct := a.snapshot(); acct.BoundSlots() > 0 {
		return domain.WithOp(domain.ErrAccountHasBoundSlots, op)
	}
	a.account.PlatformID = platformID
	a.account.SlotCount = slotCount
	a.account.SlotCountOverride = override
	a.account.UpdatedAt = r.now()
	a.slots = buildSlots(accountID, slotCount)
	return nil
}

func (r *MemoryRegistry) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	const op = "MemoryRegistry.DeleteAccount"

	a, err := r.lookup(op, accountID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()

	if acct := a.snapshot(); acct.BoundSlots() > 0 {
		return domain.WithOp(domain.ErrAccountHasBoundSlots, op)
	}
	delete(r.accounts, accountID)
	return nil
}

func (r *MemoryRegistry) Stats(ctx context.Context, platformID uuid.UUID) (domain.PoolStats, error) {
	stats := domain.PoolStats{PlatformID: platformID}
	for _, a := range r.all() {
		a.mu.Lock()
		acct := a.snapshot()
		a.mu.Unlock()

		if acct.PlatformID != platformID {
			continue
		}
		stats.Accounts++
		stats.Slots += acct.SlotCount
		if acct.IsAvailable() {
			stats.AvailableAccounts++
			stats.FreeSlots += acct.FreeSlots
		}
	}
	return stats, nil
}
