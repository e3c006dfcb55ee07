package deliverylocs

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/geocoder"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/BearBump/TrackIt/internal/storage/memtrackit"
	"github.com/stretchr/testify/require"
)

type fakeGeo struct {
	results map[string]*models.GeocodeResult
	err     error
	calls   int
}

func (g *fakeGeo) GeocodeAddress(ctx context.Context, address string) (*models.GeocodeResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if r, ok := g.results[address]; ok {
		return r, nil
	}
	return nil, geocoder.ErrNoResults
}

func newGeo() *fakeGeo {
	return &fakeGeo{results: map[string]*models.GeocodeResult{
		"1 Main St": {Latitude: 1, Longitude: 2, DisplayName: "1 Main St, Town", CountryCode: "GB"},
		"2 High St": {Latitude: 3, Longitude: 4, DisplayName: "2 High St, Town", CountryCode: "GB"},
	}}
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	st := memtrackit.New()
	svc := New(st, newGeo())

	d, err := svc.Create(ctx, "u1", models.DeliveryLocationInput{Name: " Home ", Address: "1 Main St"})
	require.NoError(t, err)
	require.Equal(t, "Home", d.Name)
	require.Equal(t, 1.0, d.Latitude)
	require.Equal(t, "GB", *d.CountryCode)
	require.NotNil(t, d.GeocodedAt)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = svc.List(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = svc.Get(ctx, "u2", d.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	svc := New(memtrackit.New(), newGeo())

	_, err := svc.Create(context.Background(), "u1", models.DeliveryLocationInput{})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 2)

	_, err = svc.Create(context.Background(), "u1", models.DeliveryLocationInput{Name: "X", Address: "Atlantis"})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "address")
}

func TestGeocode_ErrorMapping(t *testing.T) {
	geo := &fakeGeo{err: geocoder.ErrRateLimited}
	svc := New(memtrackit.New(), geo)

	_, err := svc.Geocode(context.Background(), "1 Main St")
	require.ErrorIs(t, err, geocoder.ErrRateLimited)

	geo.err = geocoder.ErrUnavailable
	_, err = svc.Geocode(context.Background(), "1 Main St")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUpdate_AddressChangeClearsDeliveredOverrides(t *testing.T) {
	ctx := context.Background()
	st := memtrackit.New()
	geo := newGeo()
	svc := New(st, geo)

	d, err := svc.Create(ctx, "u1", models.DeliveryLocationInput{Name: "Home", Address: "1 Main St"})
	require.NoError(t, err)

	p := &models.Package{UserID: "u1", TrackingNumber: "N", DeliveryLocationID: &d.ID}
	require.NoError(t, st.CreatePackage(ctx, p))
	_, err = st.ApplyTrackingUpdate(ctx, models.TrackingUpdate{
		PackageID: p.ID,
		Status:    models.StatusDelivered,
		Events:    []*models.TrackingEvent{{Status: models.StatusDelivered, OccurredAt: time.Now(), Description: "Delivered"}},
	})
	require.NoError(t, err)
	require.NoError(t, st.SetDeliveryOverride(ctx, p.ID, &d.ID))

	// rename only: overrides stay, no geocoding
	_, err = svc.Update(ctx, "u1", d.ID, models.DeliveryLocationInput{Name: "Flat", Address: "1 Main St"})
	require.NoError(t, err)
	require.Equal(t, 1, geo.calls)
	evs, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, evs[0].DeliveryLocationID)

	moved, err := svc.Update(ctx, "u1", d.ID, models.DeliveryLocationInput{Name: "Flat", Address: "2 High St"})
	require.NoError(t, err)
	require.Equal(t, 3.0, moved.Latitude)

	evs, err = st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Nil(t, evs[0].DeliveryLocationID)
	got, err := st.GetPackage(ctx, "u1", p.ID)
	require.NoError(t, err)
	require.Nil(t, got.DeliveryLocationID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := New(memtrackit.New(), newGeo())

	d, err := svc.Create(ctx, "u1", models.DeliveryLocationInput{Name: "Home", Address: "1 Main St"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, "u2", d.ID), models.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "u1", d.ID))
	_, err = svc.Get(ctx, "u1", d.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}
