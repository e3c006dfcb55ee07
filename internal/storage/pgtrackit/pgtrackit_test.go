package pgtrackit

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func strp(s string) *string { return &s }

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "trackit_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/trackit_test?sslmode=disable"

	// порт слушается раньше, чем postgres готов принимать запросы
	var st *Storage
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func TestPGTrackIt_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	u, err := st.UpsertUser(ctx, &models.User{ID: "g-1", Email: "a@example.com", Name: "A", IsAdmin: true})
	require.NoError(t, err)
	u, err = st.UpsertUser(ctx, &models.User{ID: "g-1", Email: "a@example.com", Name: "A2"})
	require.NoError(t, err)
	require.True(t, u.IsAdmin)
	require.Equal(t, "A2", u.Name)

	a := &models.Package{UserID: u.ID, TrackingNumber: "1ZAB123"}
	b := &models.Package{UserID: u.ID, TrackingNumber: "B2"}
	require.NoError(t, st.CreatePackage(ctx, a))
	require.NoError(t, st.CreatePackage(ctx, b))

	_, err = st.GetPackage(ctx, "other", a.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	// Делаем ровно одну посылку "due" и проверяем ClaimDuePackages + lease
	_, err = st.db.Exec(ctx, `UPDATE packages SET next_check_at = now() - interval '1 minute' WHERE id = $1`, a.ID)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `UPDATE packages SET next_check_at = now() + interval '1 hour' WHERE id = $1`, b.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	lease := 10 * time.Second
	due, err := st.ClaimDuePackages(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, a.ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, 2*time.Second)

	evTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	upd := models.TrackingUpdate{
		PackageID:   a.ID,
		CheckedAt:   now,
		TrackerID:   strp("trk-1"),
		Status:      models.StatusInTransit,
		NextCheckAt: now.Add(30 * time.Minute),
		Locations: []*models.Location{
			{LocationString: "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER", Normalized: "LOS ANGELES CA"},
		},
		Events: []*models.TrackingEvent{
			{
				Status:      models.StatusInTransit,
				Location:    "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER",
				LocationID:  strp("LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER"),
				OccurredAt:  evTime,
				Description: "Arrived at facility",
			},
		},
	}
	created, err := st.ApplyTrackingUpdate(ctx, upd)
	require.NoError(t, err)
	require.Len(t, created, 1)

	// повтор того же ответа ничего не добавляет
	created, err = st.ApplyTrackingUpdate(ctx, upd)
	require.NoError(t, err)
	require.Empty(t, created)

	evs, err := st.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.True(t, evTime.Equal(evs[0].OccurredAt))

	loc, err := st.GetLocation(ctx, "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER")
	require.NoError(t, err)
	require.Equal(t, "LOS ANGELES CA", loc.Normalized)
	require.False(t, loc.Terminal())

	todo, err := st.PackageLocationsToResolve(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, todo, 1)

	lat, lon := 34.05, -118.24
	geocodedAt := time.Now().UTC()
	loc.Latitude, loc.Longitude, loc.GeocodedAt = &lat, &lon, &geocodedAt
	saved, err := st.SaveGeocodeResult(ctx, loc)
	require.NoError(t, err)
	require.True(t, saved)

	// строка уже геокодирована: повторная запись не проходит
	saved, err = st.SaveGeocodeResult(ctx, loc)
	require.NoError(t, err)
	require.False(t, saved)

	todo, err = st.PackageLocationsToResolve(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, todo)

	// alias сбрасывает геокодинг
	loc, err = st.SetLocationAlias(ctx, loc.LocationString, strp("Los Angeles"))
	require.NoError(t, err)
	require.Nil(t, loc.Latitude)
	require.False(t, loc.Terminal())

	// результат поиска по старому (пустому) alias не должен перетереть новый
	stale := *loc
	stale.Alias = nil
	stale.Latitude, stale.Longitude, stale.GeocodedAt = &lat, &lon, &geocodedAt
	saved, err = st.SaveGeocodeResult(ctx, &stale)
	require.NoError(t, err)
	require.False(t, saved)
	loc, err = st.GetLocation(ctx, loc.LocationString)
	require.NoError(t, err)
	require.Equal(t, "Los Angeles", *loc.Alias)
	require.False(t, loc.Terminal())

	usage, err := st.ListLocations(ctx, false)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.Equal(t, 1, usage[0].UsageCount)

	pending, err := st.ListPendingLocations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, st.DeletePackage(ctx, u.ID, a.ID))
	_, err = st.GetLocation(ctx, "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER")
	require.NoError(t, err)
}

func TestPGTrackIt_DeliveryOverrides(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	u, err := st.UpsertUser(ctx, &models.User{ID: "g-2", Email: "b@example.com"})
	require.NoError(t, err)

	dl := &models.DeliveryLocation{UserID: u.ID, Name: "Home", Address: "1 Main St", Latitude: 1, Longitude: 2}
	require.NoError(t, st.CreateDeliveryLocation(ctx, dl))

	p := &models.Package{UserID: u.ID, TrackingNumber: "N", DeliveryLocationID: strp(dl.ID)}
	require.NoError(t, st.CreatePackage(ctx, p))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	deliveredAt := t0.Add(time.Hour)
	_, err = st.ApplyTrackingUpdate(ctx, models.TrackingUpdate{
		PackageID:   p.ID,
		CheckedAt:   time.Now(),
		Status:      models.StatusDelivered,
		DeliveredAt: &deliveredAt,
		NextCheckAt: time.Now(),
		Events: []*models.TrackingEvent{
			{Status: models.StatusInTransit, OccurredAt: t0, Description: "moving"},
			{Status: models.StatusDelivered, OccurredAt: deliveredAt, Description: "delivered"},
		},
	})
	require.NoError(t, err)

	// DeliveredAt не перезаписывается
	later := deliveredAt.Add(24 * time.Hour)
	_, err = st.ApplyTrackingUpdate(ctx, models.TrackingUpdate{
		PackageID: p.ID, CheckedAt: time.Now(), Status: models.StatusDelivered, DeliveredAt: &later, NextCheckAt: time.Now(),
	})
	require.NoError(t, err)
	got, err := st.GetPackage(ctx, u.ID, p.ID)
	require.NoError(t, err)
	require.True(t, deliveredAt.Equal(*got.DeliveredAt))

	require.NoError(t, st.SetDeliveryOverride(ctx, p.ID, strp(dl.ID)))
	evs, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, evs[0].Status)
	require.NotNil(t, evs[0].DeliveryLocationID)
	require.Nil(t, evs[1].DeliveryLocationID)

	require.NoError(t, st.DeleteDeliveryLocation(ctx, u.ID, dl.ID))
	evs, err = st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Nil(t, evs[0].DeliveryLocationID)
	got, err = st.GetPackage(ctx, u.ID, p.ID)
	require.NoError(t, err)
	require.Nil(t, got.DeliveryLocationID)

	require.ErrorIs(t, st.DeleteDeliveryLocation(ctx, u.ID, dl.ID), models.ErrNotFound)
}
