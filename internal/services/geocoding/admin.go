package geocoding

import (
	"context"
	"strings"

	"github.com/BearBump/TrackIt/internal/models"
)

func (r *Resolver) ListLocations(ctx context.Context, failedOnly bool) ([]*models.LocationUsage, error) {
	return r.store.ListLocations(ctx, failedOnly)
}

// SetAlias stores (or clears) the alias, resets the row and, if an alias is
// set, re-geocodes it in the background.
func (r *Resolver) SetAlias(ctx context.Context, raw string, alias *string) (*models.Location, error) {
	if alias != nil {
		a := strings.TrimSpace(*alias)
		if a == "" {
			alias = nil
		} else {
			alias = &a
		}
	}

	loc, err := r.store.SetLocationAlias(ctx, raw, alias)
	if err != nil {
		return nil, err
	}
	if alias != nil {
		r.ScheduleResolve([]string{raw})
	}
	return loc, nil
}

// Retry resets the row and re-geocodes it in the background.
func (r *Resolver) Retry(ctx context.Context, raw string) (*models.Location, error) {
	loc, err := r.store.ResetLocation(ctx, raw)
	if err != nil {
		return nil, err
	}
	r.ScheduleResolve([]string{raw})
	return loc, nil
}

// ResolvePending queues every non-terminal row for background geocoding and
// returns how many were queued.
func (r *Resolver) ResolvePending(ctx context.Context) (int, error) {
	pending, err := r.store.ListPendingLocations(ctx)
	if err != nil {
		return 0, err
	}
	raws := make([]string, 0, len(pending))
	for _, l := range pending {
		raws = append(raws, l.LocationString)
	}
	r.ScheduleResolve(raws)
	return len(raws), nil
}
