package carrier

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrInvalidInput = errors.New("carrier: invalid input")
	ErrRateLimited  = errors.New("carrier: rate limited")
	ErrNotFound     = errors.New("carrier: tracking not found")
	ErrProvider     = errors.New("carrier: provider error")
)

// UnknownCourier is reported when no courier code can be found anywhere in the payload.
const UnknownCourier = "unknown"

// Record is the canonical shape of one provider tracking result.
type Record struct {
	TrackingNumber     string     `json:"tracking_number"`
	Courier            string     `json:"courier"`
	TrackerID          string     `json:"tracker_id,omitempty"`
	Status             string     `json:"status"`
	Location           string     `json:"location,omitempty"`
	Events             []Event    `json:"events"`
	EstimatedDelivery  *time.Time `json:"estimated_delivery,omitempty"`
	OriginCountry      string     `json:"origin_country,omitempty"`
	DestinationCountry string     `json:"destination_country,omitempty"`
}

type Event struct {
	Status      string    `json:"status"`
	Location    string    `json:"location,omitempty"`
	OccurredAt  time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
	StatusCode  string    `json:"courier_event_code,omitempty"`
	CourierCode string    `json:"courier_code,omitempty"`

	// TimeUnparsed is set when the provider timestamp could not be read and
	// OccurredAt holds the fetch time instead.
	TimeUnparsed bool `json:"timestamp_unparsed,omitempty"`
}

type Courier struct {
	Code        string `json:"courier_code"`
	Name        string `json:"courier_name"`
	Website     string `json:"website,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	IsPost      bool   `json:"is_post"`
}

type Client interface {
	Track(ctx context.Context, trackingNumber, courierHint string) (*Record, error)
	Results(ctx context.Context, trackerID string) (*Record, error)
	Couriers(ctx context.Context) ([]Courier, error)
}

// Fetch reads the latest record for a package. A known tracker id is tried
// first; when the provider no longer knows it, the lookup falls back to the
// tracking number. Every other error is returned as is.
func Fetch(ctx context.Context, c Client, trackerID, trackingNumber, courierHint string) (*Record, error) {
	if trackerID != "" {
		rec, err := c.Results(ctx, trackerID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return c.Track(ctx, trackingNumber, courierHint)
}

// statusRules are checked in order; the first match wins.
var statusRules = []struct {
	status string
	needle []string
}{
	{models.StatusDelivered, []string{"delivered"}},
	{models.StatusOutForDelivery, []string{"out for delivery"}},
	{models.StatusInTransit, []string{"in transit"}},
	{models.StatusException, []string{"exception", "failed", "returned"}},
	{models.StatusPending, []string{"pending", "info received"}},
}

// NormalizeStatus maps free provider text onto one of the six statuses.
func NormalizeStatus(raw string) string {
	s := strings.ToLower(raw)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	for _, r := range statusRules {
		for _, n := range r.needle {
			if strings.Contains(s, n) {
				return r.status
			}
		}
	}
	return models.StatusUnknown
}
