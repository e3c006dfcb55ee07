package memtrackit

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
)

func (s *Storage) CreatePackage(ctx context.Context, p *models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = newID()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.NextCheckAt.IsZero() {
		p.NextCheckAt = now
	}
	s.packages[p.ID] = clonePackage(p)
	return nil
}

func (s *Storage) GetPackage(ctx context.Context, userID, id string) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packages[id]
	if !ok || p.UserID != userID {
		return nil, models.ErrNotFound
	}
	return clonePackage(p), nil
}

func (s *Storage) GetPackageByID(ctx context.Context, id string) (*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packages[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clonePackage(p), nil
}

func (s *Storage) ListPackages(ctx context.Context, userID string, archived bool) ([]*models.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Package, 0)
	for _, p := range s.packages {
		if p.UserID == userID && p.Archived == archived {
			out = append(out, clonePackage(p))
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

// UpdatePackage stores the user-editable fields.
func (s *Storage) UpdatePackage(ctx context.Context, p *models.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.packages[p.ID]
	if !ok || cur.UserID != p.UserID {
		return models.ErrNotFound
	}
	cur.Courier = p.Courier
	cur.Note = p.Note
	cur.Archived = p.Archived
	cur.DeliveryLocationID = p.DeliveryLocationID
	cur.UpdatedAt = s.now()
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *Storage) DeletePackage(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packages[id]
	if !ok || p.UserID != userID {
		return models.ErrNotFound
	}
	delete(s.packages, id)
	delete(s.events, id)
	return nil
}

func (s *Storage) ListEvents(ctx context.Context, packageID string) ([]*models.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[packageID]
	out := make([]*models.TrackingEvent, 0, len(evs))
	for _, e := range evs {
		out = append(out, cloneEvent(e))
	}
	sortNewestFirst(out)
	return out, nil
}

// ApplyTrackingUpdate writes package fields, missing locations and new events
// in one step and returns the location strings created by it.
func (s *Storage) ApplyTrackingUpdate(ctx context.Context, upd models.TrackingUpdate) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packages[upd.PackageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	now := s.now()

	if upd.TrackerID != nil {
		p.TrackerID = upd.TrackerID
	}
	status := upd.Status
	p.LastStatus = &status
	checked := upd.CheckedAt.UTC()
	p.LastUpdated = &checked
	if p.DeliveredAt == nil && upd.DeliveredAt != nil {
		d := upd.DeliveredAt.UTC()
		p.DeliveredAt = &d
	}
	if upd.DetectedCourier != nil {
		p.DetectedCourier = upd.DetectedCourier
	}
	if upd.OriginCountry != nil {
		p.OriginCountry = upd.OriginCountry
	}
	if upd.DestinationCountry != nil {
		p.DestinationCountry = upd.DestinationCountry
	}
	if upd.EstimatedDelivery != nil {
		p.EstimatedDelivery = upd.EstimatedDelivery
	}
	p.NextCheckAt = upd.NextCheckAt.UTC()
	p.CheckFailCount = 0
	p.LastError = nil
	p.UpdatedAt = now

	var created []string
	for _, l := range upd.Locations {
		if l == nil || l.LocationString == "" {
			continue
		}
		if _, exists := s.locations[l.LocationString]; exists {
			continue
		}
		cp := cloneLocation(l)
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.locations[cp.LocationString] = cp
		created = append(created, cp.LocationString)
	}

	seen := make(map[string]struct{}, len(s.events[p.ID]))
	for _, e := range s.events[p.ID] {
		seen[e.DedupKey()] = struct{}{}
	}
	for _, e := range upd.Events {
		key := e.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		cp := cloneEvent(e)
		if cp.ID == "" {
			cp.ID = newID()
		}
		cp.PackageID = p.ID
		cp.OccurredAt = cp.OccurredAt.UTC().Truncate(time.Microsecond)
		if cp.LocationID != nil {
			if _, exists := s.locations[*cp.LocationID]; !exists {
				cp.LocationID = nil
			}
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		s.events[p.ID] = append(s.events[p.ID], cp)
	}
	return created, nil
}

func (s *Storage) RecordTrackingFailure(ctx context.Context, packageID string, checkedAt time.Time, errMsg string, nextCheckAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packages[packageID]
	if !ok {
		return models.ErrNotFound
	}
	p.CheckFailCount++
	p.LastError = &errMsg
	p.NextCheckAt = nextCheckAt.UTC()
	p.UpdatedAt = s.now()
	return nil
}

// SetDeliveryOverride moves the override to the newest Delivered event of the
// package, or drops it when dlID is nil.
func (s *Storage) SetDeliveryOverride(ctx context.Context, packageID string, dlID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[packageID]; !ok {
		return models.ErrNotFound
	}

	var newest *models.TrackingEvent
	for _, e := range s.events[packageID] {
		e.DeliveryLocationID = nil
		if e.Status != models.StatusDelivered {
			continue
		}
		if newest == nil || e.OccurredAt.After(newest.OccurredAt) {
			newest = e
		}
	}
	if dlID != nil && newest != nil {
		id := *dlID
		newest.DeliveryLocationID = &id
	}
	return nil
}

// ClaimDuePackages leases due, undelivered, unarchived packages.
func (s *Storage) ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Package
	for _, p := range s.packages {
		if p.Archived || p.IsDelivered() || p.NextCheckAt.After(now) {
			continue
		}
		due = append(due, p)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckAt.Before(due[j].NextCheckAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	leaseUntil := now.UTC().Add(lease)
	out := make([]*models.Package, 0, len(due))
	for _, p := range due {
		p.NextCheckAt = leaseUntil
		out = append(out, clonePackage(p))
	}
	return out, nil
}

func sortNewestFirst(evs []*models.TrackingEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].OccurredAt.Equal(evs[j].OccurredAt) {
			return evs[i].OccurredAt.After(evs[j].OccurredAt)
		}
		return evs[i].CreatedAt.After(evs[j].CreatedAt)
	})
}
