package deliverylocs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/geocoder"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	ListDeliveryLocations(ctx context.Context, userID string) ([]*models.DeliveryLocation, error)
	GetDeliveryLocation(ctx context.Context, userID, id string) (*models.DeliveryLocation, error)
	CreateDeliveryLocation(ctx context.Context, d *models.DeliveryLocation) error
	UpdateDeliveryLocation(ctx context.Context, d *models.DeliveryLocation) error
	DeleteDeliveryLocation(ctx context.Context, userID, id string) error
	ClearDeliveredOverrides(ctx context.Context, id string) error
}

// AddressGeocoder runs a throttled one-off search.
type AddressGeocoder interface {
	GeocodeAddress(ctx context.Context, address string) (*models.GeocodeResult, error)
}

type Service struct {
	repo Repository
	geo  AddressGeocoder
	now  func() time.Time
}

func New(repo Repository, geo AddressGeocoder) *Service {
	return &Service{repo: repo, geo: geo, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) List(ctx context.Context, userID string) ([]*models.DeliveryLocation, error) {
	return s.repo.ListDeliveryLocations(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, id string) (*models.DeliveryLocation, error) {
	return s.repo.GetDeliveryLocation(ctx, userID, id)
}

func (s *Service) Create(ctx context.Context, userID string, in models.DeliveryLocationInput) (*models.DeliveryLocation, error) {
	name, address, err := validate(in)
	if err != nil {
		return nil, err
	}

	res, err := s.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}

	d := &models.DeliveryLocation{
		ID:      uuid.NewString(),
		UserID:  userID,
		Name:    name,
		Address: address,
	}
	s.setCoords(d, res)
	if err := s.repo.CreateDeliveryLocation(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Update re-geocodes when the address changes. Overrides recorded against the
// old address are dropped, so delivered packages fall back to the courier
// location.
func (s *Service) Update(ctx context.Context, userID, id string, in models.DeliveryLocationInput) (*models.DeliveryLocation, error) {
	name, address, err := validate(in)
	if err != nil {
		return nil, err
	}

	d, err := s.repo.GetDeliveryLocation(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	moved := d.Address != address
	if moved {
		res, err := s.Geocode(ctx, address)
		if err != nil {
			return nil, err
		}
		s.setCoords(d, res)
	}
	d.Name = name
	d.Address = address

	if err := s.repo.UpdateDeliveryLocation(ctx, d); err != nil {
		return nil, err
	}
	if moved {
		if err := s.repo.ClearDeliveredOverrides(ctx, d.ID); err != nil {
			return nil, err
		}
		slog.Info("delivery location moved, overrides cleared", "delivery_location_id", d.ID)
	}
	return d, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.DeleteDeliveryLocation(ctx, userID, id)
}

// Geocode previews an address. Throttling by the provider is passed through;
// any other failure means the address is unusable.
func (s *Service) Geocode(ctx context.Context, address string) (*models.GeocodeResult, error) {
	res, err := s.geo.GeocodeAddress(ctx, address)
	if err == nil {
		return res, nil
	}

	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, geocoder.ErrRateLimited):
		return nil, err
	case errors.Is(err, geocoder.ErrNoResults):
		return nil, models.NewValidationError("address", "address could not be found")
	default:
		slog.Warn("geocode address", "error", err.Error())
		return nil, models.NewValidationError("address", "address could not be geocoded right now")
	}
}

func (s *Service) setCoords(d *models.DeliveryLocation, res *models.GeocodeResult) {
	now := s.now()
	d.Latitude = res.Latitude
	d.Longitude = res.Longitude
	d.DisplayName = optString(res.DisplayName)
	d.CountryCode = optString(res.CountryCode)
	d.GeocodedAt = &now
}

func validate(in models.DeliveryLocationInput) (string, string, error) {
	name := strings.TrimSpace(in.Name)
	address := strings.TrimSpace(in.Address)

	verr := &models.ValidationError{Fields: map[string]string{}}
	if name == "" {
		verr.Fields["name"] = "name is required"
	}
	if address == "" {
		verr.Fields["address"] = "address is required"
	}
	if len(verr.Fields) > 0 {
		return "", "", verr
	}
	return name, address, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
