package memtrackit

import (
	"context"
	"sort"

	"github.com/BearBump/TrackIt/internal/models"
)

func (s *Storage) ListDeliveryLocations(ctx context.Context, userID string) ([]*models.DeliveryLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DeliveryLocation, 0)
	for _, d := range s.deliveryLocs {
		if d.UserID == userID {
			out = append(out, cloneDeliveryLocation(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Storage) GetDeliveryLocation(ctx context.Context, userID, id string) (*models.DeliveryLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveryLocs[id]
	if !ok || d.UserID != userID {
		return nil, models.ErrNotFound
	}
	return cloneDeliveryLocation(d), nil
}

func (s *Storage) GetDeliveryLocationsByIDs(ctx context.Context, ids []string) (map[string]*models.DeliveryLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.DeliveryLocation, len(ids))
	for _, id := range ids {
		if d, ok := s.deliveryLocs[id]; ok {
			out[id] = cloneDeliveryLocation(d)
		}
	}
	return out, nil
}

func (s *Storage) CreateDeliveryLocation(ctx context.Context, d *models.DeliveryLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = newID()
	}
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.deliveryLocs[d.ID] = cloneDeliveryLocation(d)
	return nil
}

func (s *Storage) UpdateDeliveryLocation(ctx context.Context, d *models.DeliveryLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.deliveryLocs[d.ID]
	if !ok || cur.UserID != d.UserID {
		return models.ErrNotFound
	}
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = s.now()
	s.deliveryLocs[d.ID] = cloneDeliveryLocation(d)
	return nil
}

// DeleteDeliveryLocation drops every reference to the row before removing it.
func (s *Storage) DeleteDeliveryLocation(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveryLocs[id]
	if !ok || d.UserID != userID {
		return models.ErrNotFound
	}
	s.clearEventOverrides(id)
	for _, p := range s.packages {
		if p.DeliveryLocationID != nil && *p.DeliveryLocationID == id {
			p.DeliveryLocationID = nil
		}
	}
	delete(s.deliveryLocs, id)
	return nil
}

// ClearDeliveredOverrides unlinks the row from events and from packages that
// are already delivered.
func (s *Storage) ClearDeliveredOverrides(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearEventOverrides(id)
	for _, p := range s.packages {
		if p.IsDelivered() && p.DeliveryLocationID != nil && *p.DeliveryLocationID == id {
			p.DeliveryLocationID = nil
		}
	}
	return nil
}

func (s *Storage) clearEventOverrides(id string) {
	for _, evs := range s.events {
		for _, e := range evs {
			if e.DeliveryLocationID != nil && *e.DeliveryLocationID == id {
				e.DeliveryLocationID = nil
			}
		}
	}
}
