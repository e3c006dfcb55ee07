package memtrackit

import (
	"context"
	"sort"

	"github.com/BearBump/TrackIt/internal/models"
)

func (s *Storage) GetLocation(ctx context.Context, raw string) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locations[raw]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneLocation(l), nil
}

func (s *Storage) GetLocations(ctx context.Context, raws []string) (map[string]*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.Location, len(raws))
	for _, raw := range raws {
		if l, ok := s.locations[raw]; ok {
			out[raw] = cloneLocation(l)
		}
	}
	return out, nil
}

// CreateLocation adds a pending row unless one already exists and returns
// whatever is stored.
func (s *Storage) CreateLocation(ctx context.Context, loc *models.Location) (*models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.locations[loc.LocationString]; ok {
		return cloneLocation(cur), nil
	}
	cp := &models.Location{
		LocationString: loc.LocationString,
		Normalized:     loc.Normalized,
		Alias:          loc.Alias,
		CreatedAt:      loc.CreatedAt,
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.locations[cp.LocationString] = cp
	return cloneLocation(cp), nil
}

// SaveGeocodeResult writes the geocoded fields only while the row is still
// pending with the alias loc was searched with. Alias is never written here.
func (s *Storage) SaveGeocodeResult(ctx context.Context, loc *models.Location) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locations[loc.LocationString]
	if !ok || cur.Terminal() || !sameAlias(cur.Alias, loc.Alias) {
		return false, nil
	}
	cur.Normalized = loc.Normalized
	cur.Latitude = loc.Latitude
	cur.Longitude = loc.Longitude
	cur.DisplayName = loc.DisplayName
	cur.CountryCode = loc.CountryCode
	cur.GeocodedAt = loc.GeocodedAt
	cur.GeocodingFailed = loc.GeocodingFailed
	return true, nil
}

func sameAlias(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Storage) SetLocationAlias(ctx context.Context, raw string, alias *string) (*models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations[raw]
	if !ok {
		return nil, models.ErrNotFound
	}
	l.Alias = alias
	l.Reset()
	return cloneLocation(l), nil
}

func (s *Storage) ResetLocation(ctx context.Context, raw string) (*models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations[raw]
	if !ok {
		return nil, models.ErrNotFound
	}
	l.Reset()
	return cloneLocation(l), nil
}

// ListLocations returns cache rows with the number of events pointing at
// each, most used first.
func (s *Storage) ListLocations(ctx context.Context, failedOnly bool) ([]*models.LocationUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := map[string]int{}
	for _, evs := range s.events {
		for _, e := range evs {
			if e.LocationID != nil {
				usage[*e.LocationID]++
			}
		}
	}

	out := make([]*models.LocationUsage, 0, len(s.locations))
	for raw, l := range s.locations {
		if failedOnly && !l.GeocodingFailed {
			continue
		}
		out = append(out, &models.LocationUsage{Location: *l, UsageCount: usage[raw]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].LocationString < out[j].LocationString
	})
	return out, nil
}

func (s *Storage) ListPendingLocations(ctx context.Context) ([]*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Location
	for _, l := range s.locations {
		if !l.Terminal() {
			out = append(out, cloneLocation(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LocationString < out[j].LocationString
	})
	return out, nil
}

// PackageLocationsToResolve lists distinct location strings of the package
// whose events are unlinked or point at a pending row.
func (s *Storage) PackageLocationsToResolve(ctx context.Context, packageID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	seen := map[string]struct{}{}
	for _, e := range s.events[packageID] {
		if e.Location == "" {
			continue
		}
		if _, ok := seen[e.Location]; ok {
			continue
		}
		pending := e.LocationID == nil
		if !pending {
			l, ok := s.locations[*e.LocationID]
			pending = !ok || !l.Terminal()
		}
		if pending {
			seen[e.Location] = struct{}{}
			out = append(out, e.Location)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Storage) LinkEventLocations(ctx context.Context, packageID, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[raw]; !ok {
		return models.ErrNotFound
	}
	for _, e := range s.events[packageID] {
		if e.Location == raw {
			id := raw
			e.LocationID = &id
		}
	}
	return nil
}
