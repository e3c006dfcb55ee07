// Package memtrackit is an in-process store with the same behaviour as
// pgtrackit. It backs local runs without Postgres and service tests.
package memtrackit

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/google/uuid"
)

type Storage struct {
	mu sync.RWMutex

	users        map[string]*models.User
	packages     map[string]*models.Package
	events       map[string][]*models.TrackingEvent
	locations    map[string]*models.Location
	deliveryLocs map[string]*models.DeliveryLocation

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		users:        map[string]*models.User{},
		packages:     map[string]*models.Package{},
		events:       map[string][]*models.TrackingEvent{},
		locations:    map[string]*models.Location{},
		deliveryLocs: map[string]*models.DeliveryLocation{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Storage) Close() {}

func (s *Storage) UpsertUser(ctx context.Context, u *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.users[u.ID]
	if !ok {
		cp := *u
		cp.CreatedAt, cp.UpdatedAt = now, now
		s.users[u.ID] = &cp
		out := cp
		return &out, nil
	}

	cur.Email = u.Email
	cur.Name = u.Name
	cur.Picture = u.Picture
	cur.IsAdmin = cur.IsAdmin || u.IsAdmin
	cur.UpdatedAt = now
	out := *cur
	return &out, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *u
	return &out, nil
}

func newID() string { return uuid.NewString() }

func clonePackage(p *models.Package) *models.Package {
	cp := *p
	return &cp
}

func cloneEvent(e *models.TrackingEvent) *models.TrackingEvent {
	cp := *e
	return &cp
}

func cloneLocation(l *models.Location) *models.Location {
	cp := *l
	return &cp
}

func cloneDeliveryLocation(d *models.DeliveryLocation) *models.DeliveryLocation {
	cp := *d
	return &cp
}
