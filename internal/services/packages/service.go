package packages

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/broker/messages"
	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/metrics"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CreatePackage(ctx context.Context, p *models.Package) error
	GetPackage(ctx context.Context, userID, id string) (*models.Package, error)
	GetPackageByID(ctx context.Context, id string) (*models.Package, error)
	ListPackages(ctx context.Context, userID string, archived bool) ([]*models.Package, error)
	UpdatePackage(ctx context.Context, p *models.Package) error
	DeletePackage(ctx context.Context, userID, id string) error

	ListEvents(ctx context.Context, packageID string) ([]*models.TrackingEvent, error)
	ApplyTrackingUpdate(ctx context.Context, upd models.TrackingUpdate) ([]string, error)
	RecordTrackingFailure(ctx context.Context, packageID string, checkedAt time.Time, errMsg string, nextCheckAt time.Time) error
	SetDeliveryOverride(ctx context.Context, packageID string, dlID *string) error

	GetLocations(ctx context.Context, raws []string) (map[string]*models.Location, error)
	GetDeliveryLocation(ctx context.Context, userID, id string) (*models.DeliveryLocation, error)
	GetDeliveryLocationsByIDs(ctx context.Context, ids []string) (map[string]*models.DeliveryLocation, error)
}

// LocationResolver geocodes location strings off the request path.
type LocationResolver interface {
	ScheduleResolve(raws []string)
	ScheduleResolvePackage(packageID string)
}

// Scheduler decides when the worker looks at a package again.
type Scheduler interface {
	NextCheckDelay(status string) time.Duration
}

type Service struct {
	repo     Repository
	carrier  carrier.Client
	resolver LocationResolver
	sched    Scheduler
	now      func() time.Time
}

func New(repo Repository, c carrier.Client, resolver LocationResolver, sched Scheduler) *Service {
	return &Service{
		repo:     repo,
		carrier:  c,
		resolver: resolver,
		sched:    sched,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Create saves the package and tries one provider lookup. A failed lookup is
// logged and the package is returned without tracking data.
func (s *Service) Create(ctx context.Context, userID string, in models.PackageCreateInput) (*models.PackageView, error) {
	number := strings.TrimSpace(in.TrackingNumber)
	if number == "" {
		return nil, models.NewValidationError("tracking_number", "tracking_number is required")
	}
	if in.DeliveryLocationID != nil {
		if err := s.checkDeliveryLocation(ctx, userID, *in.DeliveryLocationID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	p := &models.Package{
		ID:                 uuid.NewString(),
		UserID:             userID,
		TrackingNumber:     number,
		Courier:            optString(deref(in.Courier)),
		Note:               in.Note,
		DeliveryLocationID: in.DeliveryLocationID,
		NextCheckAt:        now,
		CreatedAt:          now,
	}
	if err := s.repo.CreatePackage(ctx, p); err != nil {
		return nil, err
	}

	rec, err := s.carrier.Track(ctx, p.TrackingNumber, deref(p.Courier))
	if err != nil {
		slog.Warn("initial tracking lookup failed", "package_id", p.ID, "tracking_number", p.TrackingNumber, "error", err.Error())
		return s.view(ctx, p)
	}
	if err := s.apply(ctx, p, rec, now, now.Add(s.nextDelay(rec.Status))); err != nil {
		slog.Error("apply initial tracking", "package_id", p.ID, "error", err.Error())
	}

	return s.reload(ctx, p)
}

func (s *Service) List(ctx context.Context, userID string, archived bool) ([]*models.PackageView, error) {
	items, err := s.repo.ListPackages(ctx, userID, archived)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PackageView, 0, len(items))
	for _, p := range items {
		v, err := s.view(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, userID, id string) (*models.PackageView, error) {
	p, err := s.repo.GetPackage(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, p)
}

func (s *Service) Update(ctx context.Context, userID, id string, patch models.PackagePatch) (*models.PackageView, error) {
	p, err := s.repo.GetPackage(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Courier != nil {
		p.Courier = optString(*patch.Courier)
	}
	if patch.Note != nil {
		p.Note = patch.Note
	}
	if patch.Archived != nil {
		p.Archived = *patch.Archived
	}

	oldDL := deref(p.DeliveryLocationID)
	switch {
	case patch.ClearDeliveryLocation:
		p.DeliveryLocationID = nil
	case patch.DeliveryLocationID != nil:
		if err := s.checkDeliveryLocation(ctx, userID, *patch.DeliveryLocationID); err != nil {
			return nil, err
		}
		dl := *patch.DeliveryLocationID
		p.DeliveryLocationID = &dl
	}

	if err := s.repo.UpdatePackage(ctx, p); err != nil {
		return nil, err
	}

	// Оверрайд живёт только на Delivered-событии.
	if deref(p.DeliveryLocationID) != oldDL && (p.IsDelivered() || p.DeliveryLocationID == nil) {
		if err := s.repo.SetDeliveryOverride(ctx, p.ID, p.DeliveryLocationID); err != nil {
			return nil, err
		}
	}
	return s.view(ctx, p)
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.DeletePackage(ctx, userID, id)
}

func (s *Service) Events(ctx context.Context, userID, id string) ([]*models.TrackingEvent, error) {
	if _, err := s.repo.GetPackage(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}

// Locations returns the geocoded points of the package route, oldest first,
// and schedules geocoding of whatever is still unresolved.
func (s *Service) Locations(ctx context.Context, userID, id string) (*models.PackageLocations, error) {
	p, err := s.repo.GetPackage(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	locs, err := s.repo.GetLocations(ctx, eventLocationStrings(events))
	if err != nil {
		return nil, err
	}

	out := &models.PackageLocations{
		Locations:   []models.GeocodedEvent{},
		Origin:      models.CountryLocation{CountryCode: p.OriginCountry},
		Destination: models.CountryLocation{CountryCode: p.DestinationCountry},
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.LocationID == nil {
			continue
		}
		l, ok := locs[*e.LocationID]
		if !ok || l.Latitude == nil || l.Longitude == nil {
			continue
		}
		out.Locations = append(out.Locations, models.GeocodedEvent{
			EventID:        e.ID,
			LocationString: l.LocationString,
			Latitude:       l.Latitude,
			Longitude:      l.Longitude,
			DisplayName:    l.DisplayName,
			OccurredAt:     e.OccurredAt,
			Status:         e.Status,
		})
	}

	s.resolver.ScheduleResolvePackage(p.ID)
	return out, nil
}

// Refresh fetches the package from the provider right now. Provider errors
// are returned to the caller.
func (s *Service) Refresh(ctx context.Context, userID, id string) (*models.PackageView, error) {
	p, err := s.repo.GetPackage(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rec, err := carrier.Fetch(ctx, s.carrier, deref(p.TrackerID), p.TrackingNumber, deref(p.Courier))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.apply(ctx, p, rec, now, now.Add(s.nextDelay(rec.Status))); err != nil {
		return nil, err
	}
	return s.reload(ctx, p)
}

// Lookup previews a tracking number without saving anything.
func (s *Service) Lookup(ctx context.Context, trackingNumber, courier string) (*carrier.Record, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, models.NewValidationError("tracking_number", "tracking_number is required")
	}
	return s.carrier.Track(ctx, trackingNumber, strings.TrimSpace(courier))
}

// ApplyUpdate applies one worker result. Updates for packages deleted in the
// meantime are dropped.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.TrackingUpdated) error {
	p, err := s.repo.GetPackageByID(ctx, msg.PackageID)
	if errors.Is(err, models.ErrNotFound) {
		slog.Info("tracking update for unknown package dropped", "package_id", msg.PackageID)
		return nil
	}
	if err != nil {
		return err
	}

	if msg.Failed() {
		err := s.repo.RecordTrackingFailure(ctx, p.ID, msg.CheckedAt, *msg.Error, msg.NextCheckAt)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if msg.Record == nil {
		return nil
	}

	err = s.apply(ctx, p, msg.Record, msg.CheckedAt, msg.NextCheckAt)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) apply(ctx context.Context, p *models.Package, rec *carrier.Record, checkedAt, nextCheckAt time.Time) error {
	existing, err := s.repo.ListEvents(ctx, p.ID)
	if err != nil {
		return err
	}

	upd := Reconcile(p, existing, rec, checkedAt)
	upd.NextCheckAt = nextCheckAt

	created, err := s.repo.ApplyTrackingUpdate(ctx, upd)
	if err != nil {
		return err
	}
	metrics.EventsAppendedTotal.Add(float64(len(upd.Events)))
	if dropped := len(rec.Events) - len(upd.Events); dropped > 0 {
		metrics.EventsDedupTotal.Add(float64(dropped))
	}

	s.resolver.ScheduleResolve(created)
	return nil
}

func (s *Service) nextDelay(status string) time.Duration {
	if s.sched == nil {
		return time.Hour
	}
	return s.sched.NextCheckDelay(status)
}

func (s *Service) checkDeliveryLocation(ctx context.Context, userID, id string) error {
	_, err := s.repo.GetDeliveryLocation(ctx, userID, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.NewValidationError("delivery_location_id", "delivery location not found")
	}
	return err
}

func (s *Service) reload(ctx context.Context, p *models.Package) (*models.PackageView, error) {
	fresh, err := s.repo.GetPackageByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, fresh)
}

func (s *Service) view(ctx context.Context, p *models.Package) (*models.PackageView, error) {
	events, err := s.repo.ListEvents(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	locs, err := s.repo.GetLocations(ctx, eventLocationStrings(events))
	if err != nil {
		return nil, err
	}

	var dlIDs []string
	for _, e := range events {
		if e.DeliveryLocationID != nil {
			dlIDs = append(dlIDs, *e.DeliveryLocationID)
		}
	}
	dls, err := s.repo.GetDeliveryLocationsByIDs(ctx, dlIDs)
	if err != nil {
		return nil, err
	}

	return &models.PackageView{
		Package:         p,
		CurrentLocation: CurrentLocation(p, events, locs, dls),
	}, nil
}

func eventLocationStrings(events []*models.TrackingEvent) []string {
	seen := map[string]struct{}{}
	for _, e := range events {
		if e.Location != "" {
			seen[e.Location] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for raw := range seen {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}
