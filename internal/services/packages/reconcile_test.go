package packages

import (
	"testing"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func f64(v float64) *float64 { return &v }

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestEventLocation(t *testing.T) {
	require.Equal(t, "Memphis TN", EventLocation("  Memphis TN ", "[Other] x"))
	require.Equal(t, "Shatian Town", EventLocation("", "[Shatian Town] Processing at sorting center"))
	require.Equal(t, "Shatian Town", EventLocation("", "  [ Shatian Town ]Processing"))
	require.Equal(t, "", EventLocation("", "Processing [Shatian Town]"))
	require.Equal(t, "", EventLocation("", "[] empty"))
	require.Equal(t, "", EventLocation("", ""))
}

func TestReconcile_DedupAgainstExistingAndWithinPayload(t *testing.T) {
	pkg := &models.Package{ID: "p1"}
	existing := []*models.TrackingEvent{
		{OccurredAt: t0, Description: "Picked up"},
	}
	rec := &carrier.Record{
		Status: models.StatusInTransit,
		Events: []carrier.Event{
			{Status: models.StatusInTransit, OccurredAt: t0.Add(time.Hour), Description: "Departed", Location: "Memphis TN DC"},
			{Status: models.StatusInTransit, OccurredAt: t0.Add(time.Hour), Description: "Departed", Location: "Memphis TN DC"},
			{Status: models.StatusInTransit, OccurredAt: t0.Add(time.Hour), Description: "Arrived", Location: "Memphis TN DC"},
			{Status: models.StatusPending, OccurredAt: t0, Description: "Picked up"},
		},
	}

	upd := Reconcile(pkg, existing, rec, t0.Add(2*time.Hour))
	require.Len(t, upd.Events, 2)
	require.Len(t, upd.Locations, 1)
	require.Equal(t, "Memphis TN", upd.Locations[0].Normalized)
	for _, e := range upd.Events {
		require.Equal(t, "p1", e.PackageID)
		require.Equal(t, "Memphis TN DC", *e.LocationID)
	}
	require.Nil(t, upd.DeliveredAt)
}

func TestReconcile_SameTimeDifferentPrecisionIsDuplicate(t *testing.T) {
	pkg := &models.Package{ID: "p1"}
	existing := []*models.TrackingEvent{{OccurredAt: t0.Add(123456 * time.Microsecond), Description: "x"}}
	rec := &carrier.Record{Events: []carrier.Event{{OccurredAt: t0.Add(123456789 * time.Nanosecond), Description: "x"}}}

	upd := Reconcile(pkg, existing, rec, t0)
	require.Empty(t, upd.Events)
	require.Equal(t, models.StatusUnknown, upd.Status)
}

func TestReconcile_UnparsedTimestampMatchesOnDescription(t *testing.T) {
	pkg := &models.Package{ID: "p1"}
	existing := []*models.TrackingEvent{{OccurredAt: t0, Description: "Parcel scanned"}}
	rec := &carrier.Record{Events: []carrier.Event{
		{OccurredAt: t0.Add(5 * time.Hour), Description: "Parcel scanned", TimeUnparsed: true},
		{OccurredAt: t0.Add(5 * time.Hour), Description: "Held at customs", TimeUnparsed: true},
		{OccurredAt: t0.Add(5*time.Hour + time.Millisecond), Description: "Held at customs", TimeUnparsed: true},
	}}

	upd := Reconcile(pkg, existing, rec, t0.Add(5*time.Hour))
	require.Len(t, upd.Events, 1)
	require.Equal(t, "Held at customs", upd.Events[0].Description)

	// with a readable timestamp the same description is a new event
	rec = &carrier.Record{Events: []carrier.Event{{OccurredAt: t0.Add(time.Hour), Description: "Parcel scanned"}}}
	upd = Reconcile(pkg, existing, rec, t0.Add(5*time.Hour))
	require.Len(t, upd.Events, 1)
}

func TestReconcile_BracketedLocation(t *testing.T) {
	rec := &carrier.Record{
		Status: models.StatusInTransit,
		Events: []carrier.Event{{Status: models.StatusInTransit, OccurredAt: t0, Description: "[Shatian Town] Processing at sorting center"}},
	}
	upd := Reconcile(&models.Package{ID: "p"}, nil, rec, t0)
	require.Len(t, upd.Events, 1)
	require.Equal(t, "Shatian Town", upd.Events[0].Location)
	require.Equal(t, "Shatian Town", upd.Locations[0].LocationString)
}

func TestReconcile_DeliveredAtOnlyOnFirstTransition(t *testing.T) {
	rec := &carrier.Record{
		Status: models.StatusDelivered,
		Events: []carrier.Event{
			{Status: models.StatusDelivered, OccurredAt: t0.Add(3 * time.Hour), Description: "Delivered"},
			{Status: models.StatusOutForDelivery, OccurredAt: t0, Description: "Out"},
		},
	}
	upd := Reconcile(&models.Package{ID: "p"}, nil, rec, t0.Add(5*time.Hour))
	require.NotNil(t, upd.DeliveredAt)
	require.True(t, upd.DeliveredAt.Equal(t0.Add(3*time.Hour)))

	already := t0
	upd = Reconcile(&models.Package{ID: "p", DeliveredAt: &already}, nil, rec, t0.Add(5*time.Hour))
	require.Nil(t, upd.DeliveredAt)

	// Delivered without a delivered event: check time
	bare := &carrier.Record{Status: models.StatusDelivered}
	upd = Reconcile(&models.Package{ID: "p"}, nil, bare, t0.Add(5*time.Hour))
	require.True(t, upd.DeliveredAt.Equal(t0.Add(5*time.Hour)))
}

func TestReconcile_OverrideOnNewestDeliveredEvent(t *testing.T) {
	pkg := &models.Package{ID: "p", DeliveryLocationID: strp("dl-1")}
	rec := &carrier.Record{
		Status: models.StatusDelivered,
		Events: []carrier.Event{
			{Status: models.StatusDelivered, OccurredAt: t0.Add(2 * time.Hour), Description: "Delivered again"},
			{Status: models.StatusDelivered, OccurredAt: t0.Add(time.Hour), Description: "Delivered"},
			{Status: models.StatusInTransit, OccurredAt: t0, Description: "Moving"},
		},
	}
	upd := Reconcile(pkg, nil, rec, t0.Add(3*time.Hour))
	require.Equal(t, "dl-1", *upd.Events[0].DeliveryLocationID)
	require.Nil(t, upd.Events[1].DeliveryLocationID)
	require.Nil(t, upd.Events[2].DeliveryLocationID)
}

func TestReconcile_CopiesRecordFields(t *testing.T) {
	eta := t0.Add(72 * time.Hour)
	rec := &carrier.Record{
		TrackerID:          "trk",
		Courier:            carrier.UnknownCourier,
		Status:             models.StatusInTransit,
		OriginCountry:      "cn",
		DestinationCountry: "GB",
		EstimatedDelivery:  &eta,
	}
	upd := Reconcile(&models.Package{ID: "p"}, nil, rec, t0)
	require.Equal(t, "trk", *upd.TrackerID)
	require.Nil(t, upd.DetectedCourier)
	require.Equal(t, "CN", *upd.OriginCountry)
	require.Equal(t, "GB", *upd.DestinationCountry)
	require.Equal(t, &eta, upd.EstimatedDelivery)
}

func TestCurrentLocation(t *testing.T) {
	delivered := models.StatusDelivered
	inTransit := models.StatusInTransit

	locs := map[string]*models.Location{
		"Springfield DO": {LocationString: "Springfield DO", Latitude: f64(39.8), Longitude: f64(-89.6), DisplayName: strp("Springfield, IL")},
	}
	dls := map[string]*models.DeliveryLocation{
		"dl-1": {ID: "dl-1", Name: "Home", Latitude: 51.1, Longitude: -0.01, CountryCode: strp("GB")},
	}
	events := []*models.TrackingEvent{
		{Status: models.StatusDelivered, Location: "Springfield DO", DeliveryLocationID: strp("dl-1")},
		{Status: models.StatusInTransit, Location: "Memphis TN"},
	}

	t.Run("delivered with override", func(t *testing.T) {
		cur := CurrentLocation(&models.Package{LastStatus: &delivered}, events, locs, dls)
		require.Equal(t, models.CurrentLocationDelivery, cur.Source)
		require.Equal(t, "Home", cur.Name)
		require.InDelta(t, 51.1, *cur.Latitude, 1e-9)
		require.Equal(t, "dl-1", *cur.DeliveryLocationID)
	})

	t.Run("override ignored when not delivered", func(t *testing.T) {
		cur := CurrentLocation(&models.Package{LastStatus: &inTransit}, events, locs, dls)
		require.Equal(t, models.CurrentLocationCourier, cur.Source)
		require.Equal(t, "Springfield, IL", cur.Name)
		require.InDelta(t, 39.8, *cur.Latitude, 1e-9)
	})

	t.Run("override row gone", func(t *testing.T) {
		cur := CurrentLocation(&models.Package{LastStatus: &delivered}, events, locs, nil)
		require.Equal(t, models.CurrentLocationCourier, cur.Source)
		require.Equal(t, "Springfield DO", *cur.LocationString)
	})

	t.Run("ungeocoded courier location", func(t *testing.T) {
		cur := CurrentLocation(&models.Package{LastStatus: &inTransit}, events[1:], locs, dls)
		require.Equal(t, "Memphis TN", cur.Name)
		require.Nil(t, cur.Latitude)
	})

	t.Run("nothing", func(t *testing.T) {
		require.Nil(t, CurrentLocation(&models.Package{}, []*models.TrackingEvent{{Description: "x"}}, nil, nil))
	})
}
