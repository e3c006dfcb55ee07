package geocoder

import (
	"context"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrNoResults   = errors.New("geocoder: no results")
	ErrRateLimited = errors.New("geocoder: rate limited")
	ErrUnavailable = errors.New("geocoder: unavailable")

	// ErrThrottled is returned by callers whose throttle gave up before a
	// search was issued, usually because the deadline would pass first.
	ErrThrottled = errors.New("geocoder: throttle wait aborted")
)

// Geocoder resolves a free-text address to coordinates. Implementations do
// not throttle; callers are expected to.
type Geocoder interface {
	Search(ctx context.Context, query string) (*models.GeocodeResult, error)
}
