package geocoding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/geocoder"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/BearBump/TrackIt/internal/storage/memtrackit"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeGeocoder struct {
	mu      sync.Mutex
	queries []string
	results map[string]*models.GeocodeResult
	err     error
}

func (g *fakeGeocoder) Search(ctx context.Context, query string) (*models.GeocodeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
	if g.err != nil {
		return nil, g.err
	}
	if r, ok := g.results[query]; ok {
		return r, nil
	}
	return nil, geocoder.ErrNoResults
}

func (g *fakeGeocoder) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queries)
}

// inlineTasks runs background work on the caller's goroutine.
type inlineTasks struct{}

func (inlineTasks) Go(name string, fn func(ctx context.Context) error) {
	_ = fn(context.Background())
}

// deadlineTasks runs background work inline under a short deadline.
type deadlineTasks struct{ timeout time.Duration }

func (d deadlineTasks) Go(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_ = fn(ctx)
}

// blockingGeocoder parks every search until release is closed.
type blockingGeocoder struct {
	started chan string
	release chan struct{}
	result  *models.GeocodeResult
}

func (g *blockingGeocoder) Search(ctx context.Context, query string) (*models.GeocodeResult, error) {
	g.started <- query
	<-g.release
	return g.result, nil
}

func noThrottle() Limiter { return rate.NewLimiter(rate.Inf, 1) }

func newTestResolver(geo *fakeGeocoder) (*Resolver, *memtrackit.Storage) {
	st := memtrackit.New()
	return NewResolver(st, geo, inlineTasks{}).WithLimiter(noThrottle()), st
}

func TestResolve_StoresNormalizedAndCoords(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]*models.GeocodeResult{
		"LOS ANGELES CA": {Latitude: 34.05, Longitude: -118.24, DisplayName: "Los Angeles, California", CountryCode: "US"},
	}}
	r, st := newTestResolver(geo)

	loc, err := r.Resolve(context.Background(), "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER")
	require.NoError(t, err)
	require.Equal(t, "LOS ANGELES CA", loc.Normalized)
	require.NotNil(t, loc.GeocodedAt)
	require.False(t, loc.GeocodingFailed)
	require.InDelta(t, 34.05, *loc.Latitude, 1e-9)
	require.Equal(t, "US", *loc.CountryCode)

	stored, err := st.GetLocation(context.Background(), "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER")
	require.NoError(t, err)
	require.Equal(t, loc.Normalized, stored.Normalized)
}

func TestResolve_TerminalRowsAreNotRequeried(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]*models.GeocodeResult{
		"Leicester": {Latitude: 52.6, Longitude: -1.1, DisplayName: "Leicester"},
	}}
	r, _ := newTestResolver(geo)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "Leicester MC")
	require.NoError(t, err)
	failed, err := r.Resolve(ctx, "Nowhere DO")
	require.NoError(t, err)
	require.True(t, failed.GeocodingFailed)
	require.Equal(t, 2, geo.calls())

	again, err := r.Resolve(ctx, "Leicester MC")
	require.NoError(t, err)
	require.Equal(t, first, again)

	failedAgain, err := r.Resolve(ctx, "Nowhere DO")
	require.NoError(t, err)
	require.Equal(t, failed, failedAgain)

	require.Equal(t, 2, geo.calls())
}

func TestResolve_FailureLeavesCoordsNull(t *testing.T) {
	for _, gerr := range []error{geocoder.ErrNoResults, geocoder.ErrRateLimited, geocoder.ErrUnavailable} {
		geo := &fakeGeocoder{err: gerr}
		r, _ := newTestResolver(geo)

		loc, err := r.Resolve(context.Background(), "Somewhere")
		require.NoError(t, err)
		require.True(t, loc.GeocodingFailed)
		require.Nil(t, loc.GeocodedAt)
		require.Nil(t, loc.Latitude)
		require.Nil(t, loc.Longitude)
	}
}

func TestResolve_EmptyInput(t *testing.T) {
	r, _ := newTestResolver(&fakeGeocoder{})
	_, err := r.Resolve(context.Background(), "   ")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSetAlias_RetryClearsFailedFlag(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]*models.GeocodeResult{
		"Shatian, Dongguan": {Latitude: 22.9, Longitude: 113.6, DisplayName: "Shatian", CountryCode: "CN"},
	}}
	r, st := newTestResolver(geo)
	ctx := context.Background()

	loc, err := r.Resolve(ctx, "Shatian Town")
	require.NoError(t, err)
	require.True(t, loc.GeocodingFailed)
	require.Nil(t, loc.Latitude)

	alias := "Shatian, Dongguan"
	reset, err := r.SetAlias(ctx, "Shatian Town", &alias)
	require.NoError(t, err)
	require.False(t, reset.GeocodingFailed)
	require.Nil(t, reset.GeocodedAt)

	// inline tasks: the re-geocode already ran against the alias
	got, err := st.GetLocation(ctx, "Shatian Town")
	require.NoError(t, err)
	require.False(t, got.GeocodingFailed)
	require.NotNil(t, got.GeocodedAt)
	require.Equal(t, "CN", *got.CountryCode)
	require.Equal(t, []string{"Shatian Town", "Shatian, Dongguan"}, geo.queries)
}

func TestRetry_Regeocodes(t *testing.T) {
	geo := &fakeGeocoder{err: geocoder.ErrUnavailable}
	r, st := newTestResolver(geo)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "Memphis TN")
	require.NoError(t, err)

	geo.err = nil
	geo.results = map[string]*models.GeocodeResult{"Memphis TN": {Latitude: 35.1, Longitude: -90}}
	_, err = r.Retry(ctx, "Memphis TN")
	require.NoError(t, err)

	got, err := st.GetLocation(ctx, "Memphis TN")
	require.NoError(t, err)
	require.NotNil(t, got.GeocodedAt)
	require.False(t, got.GeocodingFailed)

	_, err = r.Retry(ctx, "unknown")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestResolvePackage_GeocodesEachStringOnce(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]*models.GeocodeResult{
		"Memphis TN": {Latitude: 35.1, Longitude: -90},
	}}
	r, st := newTestResolver(geo)
	ctx := context.Background()

	p := &models.Package{UserID: "u", TrackingNumber: "N"}
	require.NoError(t, st.CreatePackage(ctx, p))
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.ApplyTrackingUpdate(ctx, models.TrackingUpdate{
		PackageID: p.ID,
		Status:    models.StatusInTransit,
		Events: []*models.TrackingEvent{
			{Location: "Memphis TN DC", OccurredAt: t0, Description: "arrived"},
			{Location: "Memphis TN DC", OccurredAt: t0.Add(time.Hour), Description: "departed"},
			{OccurredAt: t0.Add(2 * time.Hour), Description: "no location"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, r.ResolvePackage(ctx, p.ID))
	require.Equal(t, 1, geo.calls())

	evs, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	linked := 0
	for _, e := range evs {
		if e.LocationID != nil {
			require.Equal(t, "Memphis TN DC", *e.LocationID)
			linked++
		}
	}
	require.Equal(t, 2, linked)

	// nothing left to do
	require.NoError(t, r.ResolvePackage(ctx, p.ID))
	require.Equal(t, 1, geo.calls())
}

func TestResolvePending(t *testing.T) {
	geo := &fakeGeocoder{}
	r, st := newTestResolver(geo)
	ctx := context.Background()

	for _, raw := range []string{"A", "B"} {
		_, err := st.CreateLocation(ctx, &models.Location{LocationString: raw, Normalized: raw})
		require.NoError(t, err)
	}

	n, err := r.ResolvePending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, geo.calls())

	failed, err := r.ListLocations(ctx, true)
	require.NoError(t, err)
	require.Len(t, failed, 2)
}

func TestGeocodeAddress_UsesThrottle(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]*models.GeocodeResult{"1 Main St": {Latitude: 1, Longitude: 2}}}
	st := memtrackit.New()
	r := NewResolver(st, geo, inlineTasks{}).WithLimiter(rate.NewLimiter(rate.Every(50*time.Millisecond), 1))

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := r.GeocodeAddress(ctx, "1 Main St")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	_, err := r.GeocodeAddress(ctx, " ")
	require.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.GeocodeAddress(cancelled, "1 Main St")
	require.ErrorIs(t, err, geocoder.ErrThrottled)
}

func TestResolve_AliasSetDuringSearchIsKept(t *testing.T) {
	geo := &blockingGeocoder{
		started: make(chan string, 1),
		release: make(chan struct{}),
		result:  &models.GeocodeResult{Latitude: 51.12, Longitude: -0.01, DisplayName: "East Grinstead"},
	}
	st := memtrackit.New()
	r := NewResolver(st, geo, nil).WithLimiter(noThrottle())
	ctx := context.Background()

	type result struct {
		loc *models.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := r.Resolve(ctx, "East Grinstead DO")
		done <- result{loc, err}
	}()

	select {
	case term := <-geo.started:
		require.Equal(t, "East Grinstead DO", term)
	case <-time.After(2 * time.Second):
		t.Fatal("search did not start")
	}

	alias := "East Grinstead, West Sussex"
	_, err := st.SetLocationAlias(ctx, "East Grinstead DO", &alias)
	require.NoError(t, err)
	close(geo.release)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, alias, *res.loc.Alias)
	require.False(t, res.loc.Terminal())

	stored, err := st.GetLocation(ctx, "East Grinstead DO")
	require.NoError(t, err)
	require.Equal(t, alias, *stored.Alias)
	require.Nil(t, stored.GeocodedAt)
	require.False(t, stored.GeocodingFailed)
}

func TestResolve_RetryDuringSearchWritesResult(t *testing.T) {
	geo := &blockingGeocoder{
		started: make(chan string, 1),
		release: make(chan struct{}),
		result:  &models.GeocodeResult{Latitude: 35.1, Longitude: -90, DisplayName: "Memphis"},
	}
	st := memtrackit.New()
	r := NewResolver(st, geo, nil).WithLimiter(noThrottle())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "Memphis TN")
		done <- err
	}()
	<-geo.started

	// сброс pending-строки не меняет терм, результат поиска остаётся годным
	_, err := st.ResetLocation(ctx, "Memphis TN")
	require.NoError(t, err)
	close(geo.release)
	require.NoError(t, <-done)

	stored, err := st.GetLocation(ctx, "Memphis TN")
	require.NoError(t, err)
	require.NotNil(t, stored.GeocodedAt)
}

func TestResolvePending_DeadlineLeavesRestPending(t *testing.T) {
	geo := &fakeGeocoder{}
	st := memtrackit.New()
	r := NewResolver(st, geo, deadlineTasks{timeout: 300 * time.Millisecond}).
		WithLimiter(rate.NewLimiter(rate.Every(200*time.Millisecond), 1))
	ctx := context.Background()

	for _, raw := range []string{"A", "B", "C"} {
		_, err := st.CreateLocation(ctx, &models.Location{LocationString: raw, Normalized: raw})
		require.NoError(t, err)
	}

	n, err := r.ResolvePending(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 2, geo.calls())

	failed, err := r.ListLocations(ctx, true)
	require.NoError(t, err)
	require.Len(t, failed, 2)

	c, err := st.GetLocation(ctx, "C")
	require.NoError(t, err)
	require.False(t, c.Terminal())
}

func TestResolve_ThrottleErrorIsReturned(t *testing.T) {
	geo := &fakeGeocoder{}
	r, st := newTestResolver(geo)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(cancelled, "Leeds")
	require.ErrorIs(t, err, geocoder.ErrThrottled)
	require.Zero(t, geo.calls())

	loc, err := st.GetLocation(context.Background(), "Leeds")
	require.NoError(t, err)
	require.False(t, loc.Terminal())
}
