package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/google/uuid"
)

// Seed is the JSON shape of a catalog file. Offers name their platforms by
// platform name so a file can be written by hand.
type Seed struct {
	Platforms []struct {
		ID                    uuid.UUID `json:"id"`
		Name                  string    `json:"name"`
		SupportsProfiles      bool      `json:"supports_profiles"`
		MaxProfilesPerAccount *int      `json:"max_profiles_per_account"`
	} `json:"platforms"`
	Offers []struct {
		ID               uuid.UUID `json:"id"`
		Name             string    `json:"name"`
		RequiredProfiles int       `json:"required_profiles"`
		DurationDays     int       `json:"duration_days"`
		DefaultPlatform  string    `json:"default_platform"`
		Platforms        []string  `json:"platforms"`
	} `json:"offers"`
}

// LoadFile seeds the store from a JSON catalog file.
func (s *MemoryStore) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return s.Load(f)
}

// Load seeds the store from JSON. Every offer platform must be declared in
// the same document.
func (s *MemoryStore) Load(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	byName := make(map[string]uuid.UUID, len(seed.Platforms))
	for _, p := range seed.Platforms {
		if p.Name == "" {
			return fmt.Errorf("platform without name")
		}
		stored := s.PutPlatform(domain.Platform{
			ID:                    p.ID,
			Name:                  p.Name,
			SupportsProfiles:      p.SupportsProfiles,
			MaxProfilesPerAccount: p.MaxProfilesPerAccount,
		})
		byName[p.Name] = stored.ID
	}

	lookup := func(offer, name string) (uuid.UUID, error) {
		id, ok := byName[name]
		if !ok {
			return uuid.Nil, fmt.Errorf("offer %q: unknown platform %q", offer, name)
		}
		return id, nil
	}

	for _, o := range seed.Offers {
		offer := domain.Offer{
			ID:               o.ID,
			Name:             o.Name,
			RequiredProfiles: o.RequiredProfiles,
			DurationDays:     o.DurationDays,
		}
		for _, name := range o.Platforms {
			id, err := lookup(o.Name, name)
			if err != nil {
				return err
			}
			offer.PlatformIDs = append(offer.PlatformIDs, id)
		}
		if o.DefaultPlatform != "" {
			id, err := lookup(o.Name, o.DefaultPlatform)
			if err != nil {
				return err
			}
			offer.DefaultPlatformID = &id
		}
		s.PutOffer(offer)
	}
	return nil
}
