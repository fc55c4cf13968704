package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-process catalog, seeded with PutPlatform and PutOffer.
type MemoryStore struct {
	mu        sync.RWMutex
	platforms map[uuid.UUID]domain.Platform
	offers    map[uuid.UUID]domain.Offer
}

// NewMemoryStore creates an empty catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		platforms: make(map[uuid.UUID]domain.Platform),
		offers:    make(map[uuid.UUID]domain.Offer),
	}
}

var _ Store = (*MemoryStore)(nil)

// PutPlatform inserts or replaces a platform, assigning an id if missing.
func (s *MemoryStore) PutPlatform(p domain.Platform) domain.Platform {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms[p.ID] = p
	return p
}

// PutOffer inserts or replaces an offer, assigning an id if missing.
func (s *MemoryStore) PutOffer(o domain.Offer) domain.Offer {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = o
	return o
}

func (s *MemoryStore) GetPlatform(ctx context.Context, id uuid.UUID) (*domain.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[id]
	if !ok {
		return nil, domain.NotFound("MemoryStore.GetPlatform", "platform", id.String())
	}
	return &p, nil
}

func (s *MemoryStore) ListPlatforms(ctx context.Context) ([]domain.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, domain.NotFound("MemoryStore.GetOffer", "offer", id.String())
	}
	return &o, nil
}
