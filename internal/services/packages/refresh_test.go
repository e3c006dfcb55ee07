package packages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier/ship24"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/BearBump/TrackIt/internal/storage/memtrackit"
	"github.com/stretchr/testify/require"
)

// Ship24 answer whose only event has a timestamp no layout can read.
const unreadableTimePayload = `{
  "data": {
    "trackings": [{
      "tracker": {"trackerId": "trk-7", "trackingNumber": "RM123GB", "courierCode": ["royal-mail"]},
      "shipment": {"statusMilestone": "in_transit"},
      "events": [
        {"datetime": "15/01/2024 10:30", "status": "Parcel scanned", "location": "Crawley DO", "statusMilestone": "in_transit"}
      ]
    }]
  }
}`

func TestRefresh_UnreadableTimestampDoesNotDuplicateEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(unreadableTimePayload))
	}))
	t.Cleanup(srv.Close)

	st := memtrackit.New()
	svc := New(st, ship24.New(srv.URL, "k"), &resolverSpy{}, fixedDelay(time.Hour))
	ctx := context.Background()

	v, err := svc.Create(ctx, "u1", models.PackageCreateInput{TrackingNumber: "RM123GB"})
	require.NoError(t, err)
	require.Equal(t, "trk-7", *v.TrackerID)

	for i := 0; i < 2; i++ {
		time.Sleep(2 * time.Millisecond)
		_, err = svc.Refresh(ctx, "u1", v.ID)
		require.NoError(t, err)
	}

	evs, err := svc.Events(ctx, "u1", v.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "Parcel scanned", evs[0].Description)
}
