package geocoding

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/geocoder"
	"github.com/BearBump/TrackIt/internal/metrics"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

type Store interface {
	GetLocation(ctx context.Context, raw string) (*models.Location, error)
	CreateLocation(ctx context.Context, loc *models.Location) (*models.Location, error)
	SaveGeocodeResult(ctx context.Context, loc *models.Location) (bool, error)
	SetLocationAlias(ctx context.Context, raw string, alias *string) (*models.Location, error)
	ResetLocation(ctx context.Context, raw string) (*models.Location, error)
	ListLocations(ctx context.Context, failedOnly bool) ([]*models.LocationUsage, error)
	ListPendingLocations(ctx context.Context) ([]*models.Location, error)
	PackageLocationsToResolve(ctx context.Context, packageID string) ([]string, error)
	LinkEventLocations(ctx context.Context, packageID, raw string) error
}

type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

type Resolver struct {
	store   Store
	geo     geocoder.Geocoder
	tasks   Spawner
	limiter Limiter
	now     func() time.Time
}

func NewResolver(store Store, geo geocoder.Geocoder, tasks Spawner) *Resolver {
	return &Resolver{
		store:   store,
		geo:     geo,
		tasks:   tasks,
		limiter: SharedLimiter(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithLimiter replaces the process-wide throttle. Tests only.
func (r *Resolver) WithLimiter(l Limiter) *Resolver {
	if l != nil {
		r.limiter = l
	}
	return r
}

// Resolve returns the cached row for raw, geocoding it first unless it is
// already terminal. Geocoder outcomes are recorded on the row, not returned.
// A throttle or context failure is returned and the row stays pending.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*models.Location, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, models.NewValidationError("location", "must not be empty")
	}

	loc, err := r.store.GetLocation(ctx, raw)
	if errors.Is(err, models.ErrNotFound) {
		loc, err = r.store.CreateLocation(ctx, &models.Location{
			LocationString: raw,
			Normalized:     Normalize(raw),
			CreatedAt:      r.now(),
		})
	}
	if err != nil {
		return nil, err
	}
	if loc.Terminal() {
		return loc, nil
	}

	term := Normalize(raw)
	if loc.Alias != nil && strings.TrimSpace(*loc.Alias) != "" {
		term = strings.TrimSpace(*loc.Alias)
	}

	res, gerr := r.search(ctx, term)
	if gerr != nil && !isGeocoderOutcome(ctx, gerr) {
		return nil, gerr
	}

	out := &models.Location{
		LocationString: raw,
		Normalized:     Normalize(raw),
		Alias:          loc.Alias,
		CreatedAt:      loc.CreatedAt,
	}
	if gerr != nil {
		out.GeocodingFailed = true
		slog.Warn("geocoding failed", "location", raw, "term", term, "error", gerr.Error())
	} else {
		now := r.now()
		lat, lon := res.Latitude, res.Longitude
		out.Latitude = &lat
		out.Longitude = &lon
		out.DisplayName = optString(res.DisplayName)
		out.CountryCode = optString(res.CountryCode)
		out.GeocodedAt = &now
	}

	saved, err := r.store.SaveGeocodeResult(ctx, out)
	if err != nil {
		return nil, err
	}
	if !saved {
		// Пока шёл запрос, админ поменял alias или строку уже геокодировали.
		slog.Info("location changed while geocoding, result dropped", "location", raw, "term", term)
		return r.store.GetLocation(ctx, raw)
	}
	return out, nil
}

// isGeocoderOutcome tells a real answer from the geocoder (no results,
// refused, broken) apart from the caller running out of time.
func isGeocoderOutcome(ctx context.Context, err error) bool {
	if errors.Is(err, geocoder.ErrThrottled) || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// stopBatch reports whether the remaining strings of a batch can only fail
// the same way.
func stopBatch(ctx context.Context, err error) bool {
	return errors.Is(err, geocoder.ErrThrottled) || ctx.Err() != nil
}

// ResolvePackage geocodes every distinct location string of the package's
// events that is unlinked or still pending, once each, and links all events
// sharing that string to the row.
func (r *Resolver) ResolvePackage(ctx context.Context, packageID string) error {
	raws, err := r.store.PackageLocationsToResolve(ctx, packageID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, raw := range raws {
		if _, err := r.Resolve(ctx, raw); err != nil {
			slog.Error("resolve package location", "package_id", packageID, "location", raw, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			if stopBatch(ctx, err) {
				break
			}
			continue
		}
		if err := r.store.LinkEventLocations(ctx, packageID, raw); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// GeocodeAddress runs one throttled search, without touching the cache.
func (r *Resolver) GeocodeAddress(ctx context.Context, address string) (*models.GeocodeResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, models.NewValidationError("address", "must not be empty")
	}
	return r.search(ctx, address)
}

// ScheduleResolve geocodes raws in the background, one after another.
func (r *Resolver) ScheduleResolve(raws []string) {
	if len(raws) == 0 || r.tasks == nil {
		return
	}
	list := append([]string(nil), raws...)
	r.tasks.Go("geocode-locations", func(ctx context.Context) error {
		var firstErr error
		for i, raw := range list {
			_, err := r.Resolve(ctx, raw)
			if err == nil {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			if stopBatch(ctx, err) {
				slog.Warn("geocoding batch stopped, rest stays pending", "location", raw, "left", len(list)-i, "error", err.Error())
				break
			}
		}
		return firstErr
	})
}

func (r *Resolver) ScheduleResolvePackage(packageID string) {
	if r.tasks == nil {
		return
	}
	r.tasks.Go("geocode-package", func(ctx context.Context) error {
		return r.ResolvePackage(ctx, packageID)
	})
}

func (r *Resolver) search(ctx context.Context, term string) (*models.GeocodeResult, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(geocoder.ErrThrottled, err.Error())
	}
	metrics.GeocodeThrottleWait.Observe(time.Since(start).Seconds())
	return r.geo.Search(ctx, term)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
