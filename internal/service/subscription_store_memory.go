package service

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

type memorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]domain.Subscription
	now  func() time.Time
}

// NewMemorySubscriptionStore creates an in-process SubscriptionStore.
func NewMemorySubscriptionStore() SubscriptionStore {
	return &memorySubscriptionStore{
		subs: make(map[uuid.UUID]domain.Subscription),
		now:  time.Now,
	}
}

// clone copies the slices so callers cannot alias stored state.
func clone(sub domain.Subscription) *domain.Subscription {
	sub.BoundSlotIDs = slices.Clone(sub.BoundSlotIDs)
	return &sub
}

func (s *memorySubscriptionStore) Create(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return nil, domain.Conflict("subscription_store.create", "Subscription already exists")
	}
	if sub.RenewedFromID != nil {
		for _, other := range s.subs {
			if other.RenewedFromID != nil && *other.RenewedFromID == *sub.RenewedFromID {
				return nil, domain.WithOp(domain.ErrAlreadyRenewed, "subscription_store.create")
			}
		}
	}
	stored := *clone(*sub)
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.subs[stored.ID] = stored
	return clone(stored), nil
}

func (s *memorySubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, domain.NotFound("subscription_store.get", "subscription", id.String())
	}
	return clone(sub), nil
}

func (s *memorySubscriptionStore) Successor(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	out := s.list(func(sub domain.Subscription) bool {
		return sub.RenewedFromID != nil && *sub.RenewedFromID == id
	}, func(a, b domain.Subscription) bool {
		return byCreated(b, a)
	})
	if len(out) == 0 {
		return nil, domain.NotFound("subscription_store.successor", "successor of subscription", id.String())
	}
	return &out[0], nil
}

func (s *memorySubscriptionStore) UpdateStatus(ctx context.Context, update StatusUpdate) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[update.ID]
	if !ok || sub.Status != update.From {
		return nil, errStatusChanged
	}
	sub.Status = update.To
	if update.ClearSlots {
		sub.BoundSlotIDs = nil
	}
	if update.ContactNote != nil {
		sub.ContactNote = *update.ContactNote
	}
	sub.UpdatedAt = s.now()
	s.subs[sub.ID] = sub
	return clone(sub), nil
}

func (s *memorySubscriptionStore) DetachOrder(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[id]; ok {
		sub.OrderID = nil
		sub.UpdatedAt = s.now()
		s.subs[id] = sub
	}
	return nil
}

func (s *memorySubscriptionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return domain.NotFound("subscription_store.delete", "subscription", id.String())
	}
	delete(s.subs, id)
	for k, sub := range s.subs {
		if sub.RenewedFromID != nil && *sub.RenewedFromID == id {
			sub.RenewedFromID = nil
			s.subs[k] = sub
		}
	}
	return nil
}

func (s *memorySubscriptionStore) list(match func(domain.Subscription) bool, less func(a, b domain.Subscription) bool) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Subscription
	for _, sub := range s.subs {
		if match(sub) {
			out = append(out, *clone(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCreated(a, b domain.Subscription) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (s *memorySubscriptionStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Subscription, error) {
	return s.list(func(sub domain.Subscription) bool {
		return sub.IsLive() && sub.BoundAccountID != nil && *sub.BoundAccountID == accountID
	}, byCreated), nil
}

func (s *memorySubscriptionStore) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Subscription, error) {
	return s.list(func(sub domain.Subscription) bool {
		return sub.OrderID != nil && *sub.OrderID == orderID
	}, byCreated), nil
}

func (s *memorySubscriptionStore) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.Subscription, error) {
	out := s.list(func(sub domain.Subscription) bool {
		return sub.NeedsSweep(before)
	}, func(a, b domain.Subscription) bool {
		return a.EndDate.Before(b.EndDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
