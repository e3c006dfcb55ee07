package ship24

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/stretchr/testify/require"
)

const listPayload = `{
  "data": {
    "trackings": [{
      "tracker": {"trackerId": "trk-1", "trackingNumber": "1ZAB123", "courierCode": ["ups", "dhl"]},
      "shipment": {
        "statusMilestone": "in_transit",
        "originCountryCode": "cn",
        "destinationCountryCode": "US",
        "delivery": {"estimatedDeliveryDate": "2025-03-04T00:00:00Z"}
      },
      "events": [
        {"occurrenceDatetime": "2025-03-01T10:00:00", "status": "Origin scan", "location": "SHENZHEN", "statusCode": "pickup", "statusMilestone": "info_received", "courierCode": "ups"},
        {"occurrenceDatetime": "2025-03-02T08:30:00Z", "status": "Arrived at facility", "location": "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER", "statusMilestone": "in_transit", "courierCode": "usps"}
      ]
    }]
  }
}`

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "secret")
}

func TestClient_Track_ListShape(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/public/v1/trackers/track", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &body))
		require.Equal(t, "1ZAB123", body["trackingNumber"])
		require.Equal(t, "ups", body["courierCode"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(listPayload))
	})

	rec, err := c.Track(context.Background(), "1ZAB123", "ups")
	require.NoError(t, err)
	require.Equal(t, "1ZAB123", rec.TrackingNumber)
	require.Equal(t, "trk-1", rec.TrackerID)
	require.Equal(t, "ups", rec.Courier)
	require.Equal(t, models.StatusInTransit, rec.Status)
	require.Equal(t, "CN", rec.OriginCountry)
	require.Equal(t, "US", rec.DestinationCountry)
	require.NotNil(t, rec.EstimatedDelivery)
	require.Len(t, rec.Events, 2)

	// newest first
	require.Equal(t, "Arrived at facility", rec.Events[0].Description)
	require.Equal(t, models.StatusInTransit, rec.Events[0].Status)
	require.Equal(t, "usps", rec.Events[0].CourierCode)
	require.Equal(t, models.StatusPending, rec.Events[1].Status)
	require.Equal(t, "pickup", rec.Events[1].StatusCode)
	require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), rec.Events[1].OccurredAt)
	require.Equal(t, "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER", rec.Location)
}

func TestClient_Track_OmitsEmptyCourierHint(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["courierCode"]
		require.False(t, ok)
		_, _ = w.Write([]byte(listPayload))
	})
	_, err := c.Track(context.Background(), "1ZAB123", "")
	require.NoError(t, err)
}

func TestClient_Track_EmptyNumber(t *testing.T) {
	called := false
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	_, err := c.Track(context.Background(), "   ", "")
	require.ErrorIs(t, err, carrier.ErrInvalidInput)
	require.False(t, called)
}

func TestClient_Results_NestedTrackerShape(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/public/v1/trackers/trk-9/results", r.URL.Path)
		_, _ = w.Write([]byte(`{
  "data": {"data": {"tracker": {
    "trackerId": "trk-9",
    "trackingNumber": "N9",
    "shipment": {
      "statusMilestone": "delivered",
      "location": {"address": "Berlin"},
      "estimatedDelivery": "2025-01-02",
      "events": [
        {"datetime": "2025-01-01T09:00:00+01:00", "location": {"address": "Berlin"}, "statusDescription": "Delivered to neighbour", "eventCode": "DLV", "statusMilestone": "delivered", "courierCode": "dhl"}
      ]
    }
  }}}
}`))
	})

	rec, err := c.Results(context.Background(), "trk-9")
	require.NoError(t, err)
	require.Equal(t, "N9", rec.TrackingNumber)
	require.Equal(t, models.StatusDelivered, rec.Status)
	require.Equal(t, "dhl", rec.Courier)
	require.Equal(t, "Berlin", rec.Location)
	require.Len(t, rec.Events, 1)
	require.Equal(t, "Delivered to neighbour", rec.Events[0].Description)
	require.Equal(t, "DLV", rec.Events[0].StatusCode)
	require.Equal(t, models.StatusDelivered, rec.Events[0].Status)
	require.Equal(t, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), rec.Events[0].OccurredAt)
	require.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), *rec.EstimatedDelivery)
}

func TestClient_CourierFallbackChain(t *testing.T) {
	c := New("http://unused", "k")

	rec := c.toRecord(&trackingDoc{
		Tracker:  &trackerDoc{CourierCode: json.RawMessage(`[]`)},
		Shipment: &shipmentDoc{CourierName: "Royal Mail"},
	}, "N")
	require.Equal(t, "Royal Mail", rec.Courier)

	rec = c.toRecord(&trackingDoc{
		Events: []eventDoc{{Timestamp: "2025-01-01T00:00:00Z", CourierCode: "evri"}},
	}, "N")
	require.Equal(t, "evri", rec.Courier)
	require.Equal(t, "N", rec.TrackingNumber)

	rec = c.toRecord(&trackingDoc{Tracker: &trackerDoc{CourierCode: json.RawMessage(`"dpd"`)}}, "N")
	require.Equal(t, "dpd", rec.Courier)

	rec = c.toRecord(&trackingDoc{}, "N")
	require.Equal(t, carrier.UnknownCourier, rec.Courier)
	require.Equal(t, models.StatusUnknown, rec.Status)
}

func TestClient_BadTimestampFallsBackToNow(t *testing.T) {
	c := New("http://unused", "k")
	fixed := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	ev := c.toEvent(eventDoc{Timestamp: "yesterday-ish", Description: "x"}, "N")
	require.Equal(t, fixed, ev.OccurredAt)
	require.True(t, ev.TimeUnparsed)
	require.Equal(t, models.StatusUnknown, ev.Status)

	ev = c.toEvent(eventDoc{Datetime: "15/01/2024 10:30", Status: "Parcel scanned"}, "N")
	require.True(t, ev.TimeUnparsed)

	ev = c.toEvent(eventDoc{Timestamp: "2025-01-01T00:00:00Z", Description: "x"}, "N")
	require.False(t, ev.TimeUnparsed)
}

func TestClient_EventStatusOnlyFromMilestone(t *testing.T) {
	c := New("http://unused", "k")

	ev := c.toEvent(eventDoc{Timestamp: "2025-01-01T00:00:00Z", Status: "Not delivered - recipient absent"}, "N")
	require.Equal(t, models.StatusUnknown, ev.Status)

	ev = c.toEvent(eventDoc{Timestamp: "2025-01-01T00:00:00Z", Status: "Not delivered - recipient absent", StatusCode: "delivered_failed"}, "N")
	require.Equal(t, models.StatusUnknown, ev.Status)

	ev = c.toEvent(eventDoc{Timestamp: "2025-01-01T00:00:00Z", Status: "Handed over", StatusMilestone: "out_for_delivery"}, "N")
	require.Equal(t, models.StatusOutForDelivery, ev.Status)
}

func TestClient_ErrorKinds(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusTooManyRequests, carrier.ErrRateLimited},
		{http.StatusNotFound, carrier.ErrNotFound},
		{http.StatusInternalServerError, carrier.ErrProvider},
		{http.StatusAccepted, carrier.ErrProvider},
	}
	for _, tc := range cases {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		})
		_, err := c.Results(context.Background(), "trk")
		require.ErrorIs(t, err, tc.want, "code %d", tc.code)
	}
}

func TestClient_MalformedBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"trackings": []}}`))
	})
	_, err := c.Track(context.Background(), "N", "")
	require.ErrorIs(t, err, carrier.ErrProvider)

	c = newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err = c.Track(context.Background(), "N", "")
	require.ErrorIs(t, err, carrier.ErrProvider)
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := New(srv.URL, "k")
	_, err := c.Track(context.Background(), "N", "")
	require.ErrorIs(t, err, carrier.ErrProvider)
}

func TestClient_Couriers(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/public/v1/couriers", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"couriers":[
  {"courierCode":"us-post","courierName":"USPS","website":"https://usps.com","countryCode":"US","isPost":true},
  {"courierCode":"","courierName":"broken"}
]}}`))
	})

	cs, err := c.Couriers(context.Background())
	require.NoError(t, err)
	require.Len(t, cs, 1)
	require.Equal(t, "us-post", cs[0].Code)
	require.Equal(t, "USPS", cs[0].Name)
	require.True(t, cs[0].IsPost)
}
