package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

// FakeClient: офлайн-заглушка провайдера для локального запуска без ключа Ship24.
// Результат детерминирован по трек-номеру: часть посылок сразу "доставлена".
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient {
	return &FakeClient{now: func() time.Time { return time.Now().UTC() }}
}

var route = []struct {
	status   string
	location string
	text     string
}{
	{models.StatusPending, "", "Shipment information received"},
	{models.StatusInTransit, "SHENZHEN DC", "Departed origin facility"},
	{models.StatusInTransit, "LOS ANGELES CA INTERNATIONAL DISTRIBUTION CENTER", "Arrived at facility"},
	{models.StatusOutForDelivery, "", "[Springfield] Out for delivery"},
	{models.StatusDelivered, "SPRINGFIELD IL", "Delivered, front door"},
}

func (f *FakeClient) Track(ctx context.Context, trackingNumber, courierHint string) (*carrier.Record, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, errors.Wrap(carrier.ErrInvalidInput, "tracking number is required")
	}
	return f.record(trackingNumber, courierHint), nil
}

func (f *FakeClient) Results(ctx context.Context, trackerID string) (*carrier.Record, error) {
	n, ok := strings.CutPrefix(trackerID, "fake-")
	if !ok || n == "" {
		return nil, carrier.ErrNotFound
	}
	return f.record(n, ""), nil
}

func (f *FakeClient) Couriers(ctx context.Context) ([]carrier.Courier, error) {
	return []carrier.Courier{
		{Code: "fake-post", Name: "Fake Post", IsPost: true},
		{Code: "fake-express", Name: "Fake Express"},
	}, nil
}

func (f *FakeClient) record(trackingNumber, courierHint string) *carrier.Record {
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	v := h.Sum32()

	// 20% посылок считаем доставленными, остальные где-то в пути
	steps := 2 + int(v%3)
	if v%5 == 0 {
		steps = len(route)
	}

	courier := courierHint
	if courier == "" {
		courier = "fake-post"
	}

	// Timestamps are anchored to the day so repeated calls return the same events.
	base := f.now().Truncate(24 * time.Hour).Add(-time.Duration(steps) * time.Hour)
	evs := make([]carrier.Event, 0, steps)
	for i := steps - 1; i >= 0; i-- {
		st := route[i]
		evs = append(evs, carrier.Event{
			Status:      st.status,
			Location:    st.location,
			OccurredAt:  base.Add(time.Duration(i) * time.Hour),
			Description: st.text,
			StatusCode:  fmt.Sprintf("FK%02d", i),
			CourierCode: courier,
		})
	}

	return &carrier.Record{
		TrackingNumber:     trackingNumber,
		Courier:            courier,
		TrackerID:          "fake-" + trackingNumber,
		Status:             evs[0].Status,
		Location:           evs[0].Location,
		Events:             evs,
		OriginCountry:      "CN",
		DestinationCountry: "US",
	}
}
