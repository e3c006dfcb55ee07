package ship24

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/metrics"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.ship24.com"

	trackTimeout    = 60 * time.Second
	resultsTimeout  = 30 * time.Second
	couriersTimeout = 30 * time.Second
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	now     func() time.Time
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) Track(ctx context.Context, trackingNumber, courierHint string) (*carrier.Record, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, errors.Wrap(carrier.ErrInvalidInput, "tracking number is required")
	}

	body := map[string]string{"trackingNumber": trackingNumber}
	if courierHint != "" {
		body["courierCode"] = courierHint
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal track request")
	}

	ctx, cancel := context.WithTimeout(ctx, trackTimeout)
	defer cancel()

	raw, err := c.do(ctx, "track", http.MethodPost, "/public/v1/trackers/track", b, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return c.parseTracking(raw, trackingNumber)
}

func (c *Client) Results(ctx context.Context, trackerID string) (*carrier.Record, error) {
	if trackerID == "" {
		return nil, errors.Wrap(carrier.ErrInvalidInput, "tracker id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, resultsTimeout)
	defer cancel()

	path := "/public/v1/trackers/" + url.PathEscape(trackerID) + "/results"
	raw, err := c.do(ctx, "results", http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return c.parseTracking(raw, "")
}

type couriersResp struct {
	Data struct {
		Couriers []courierDoc `json:"couriers"`
	} `json:"data"`
	Couriers []courierDoc `json:"couriers"`
}

type courierDoc struct {
	CourierCode string `json:"courierCode"`
	CourierName string `json:"courierName"`
	Website     string `json:"website"`
	CountryCode string `json:"countryCode"`
	IsPost      bool   `json:"isPost"`
}

func (c *Client) Couriers(ctx context.Context) ([]carrier.Courier, error) {
	ctx, cancel := context.WithTimeout(ctx, couriersTimeout)
	defer cancel()

	raw, err := c.do(ctx, "couriers", http.MethodGet, "/public/v1/couriers", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var r couriersResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrapf(carrier.ErrProvider, "decode couriers: %v", err)
	}
	docs := r.Data.Couriers
	if len(docs) == 0 {
		docs = r.Couriers
	}

	out := make([]carrier.Courier, 0, len(docs))
	for _, d := range docs {
		if d.CourierCode == "" {
			continue
		}
		out = append(out, carrier.Courier{
			Code:        d.CourierCode,
			Name:        d.CourierName,
			Website:     d.Website,
			CountryCode: d.CountryCode,
			IsPost:      d.IsPost,
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, okCodes ...int) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, errors.Wrapf(carrier.ErrProvider, "%s request: %v", op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		metrics.ProviderRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
		return nil, carrier.ErrRateLimited
	case http.StatusNotFound:
		metrics.ProviderRequestsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, carrier.ErrNotFound
	}

	ok := false
	for _, code := range okCodes {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, errors.Wrapf(carrier.ErrProvider, "%s: http %d", op, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, errors.Wrapf(carrier.ErrProvider, "%s read body: %v", op, err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, "ok").Inc()
	return raw, nil
}

// Payload shapes. Ship24 nests a tracking either in a "trackings" list or as
// a single object, and older responses keep shipment/events under the tracker.

type container struct {
	trackingDoc
	Trackings []trackingDoc   `json:"trackings"`
	Tracking  *trackingDoc    `json:"tracking"`
	Data      json.RawMessage `json:"data"`
}

type trackingDoc struct {
	Tracker  *trackerDoc  `json:"tracker"`
	Shipment *shipmentDoc `json:"shipment"`
	Events   []eventDoc   `json:"events"`
}

type trackerDoc struct {
	TrackerID      string          `json:"trackerId"`
	TrackingNumber string          `json:"trackingNumber"`
	CourierCode    json.RawMessage `json:"courierCode"`
	Shipment       *shipmentDoc    `json:"shipment"`
}

type shipmentDoc struct {
	StatusMilestone        string          `json:"statusMilestone"`
	StatusCategory         string          `json:"statusCategory"`
	Location               json.RawMessage `json:"location"`
	CourierCode            json.RawMessage `json:"courierCode"`
	CourierName            string          `json:"courierName"`
	OriginCountryCode      string          `json:"originCountryCode"`
	DestinationCountryCode string          `json:"destinationCountryCode"`
	EstimatedDelivery      string          `json:"estimatedDelivery"`
	Delivery               *struct {
		EstimatedDeliveryDate string `json:"estimatedDeliveryDate"`
	} `json:"delivery"`
	Events []eventDoc `json:"events"`
}

type eventDoc struct {
	OccurrenceDatetime string          `json:"occurrenceDatetime"`
	Datetime           string          `json:"datetime"`
	Timestamp          string          `json:"timestamp"`
	Location           json.RawMessage `json:"location"`
	Status             string          `json:"status"`
	StatusDescription  string          `json:"statusDescription"`
	Description        string          `json:"description"`
	StatusCode         string          `json:"statusCode"`
	EventCode          string          `json:"eventCode"`
	StatusMilestone    string          `json:"statusMilestone"`
	CourierCode        string          `json:"courierCode"`
}

func locate(raw json.RawMessage, depth int) (*trackingDoc, bool) {
	var c container
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	switch {
	case len(c.Trackings) > 0:
		return &c.Trackings[0], true
	case c.Tracking != nil:
		return c.Tracking, true
	case c.Tracker != nil || c.Shipment != nil:
		return &c.trackingDoc, true
	case len(c.Data) > 0 && depth < 3:
		return locate(c.Data, depth+1)
	}
	return nil, false
}

func (c *Client) parseTracking(raw []byte, requested string) (*carrier.Record, error) {
	doc, ok := locate(raw, 0)
	if !ok {
		return nil, errors.Wrap(carrier.ErrProvider, "no tracking in response")
	}
	return c.toRecord(doc, requested), nil
}

func (c *Client) toRecord(doc *trackingDoc, requested string) *carrier.Record {
	tracker := doc.Tracker
	if tracker == nil {
		tracker = &trackerDoc{}
	}
	shipment := doc.Shipment
	if shipment == nil {
		shipment = tracker.Shipment
	}
	if shipment == nil {
		shipment = &shipmentDoc{}
	}
	rawEvents := doc.Events
	if len(rawEvents) == 0 {
		rawEvents = shipment.Events
	}

	rec := &carrier.Record{
		TrackingNumber:     tracker.TrackingNumber,
		TrackerID:          tracker.TrackerID,
		OriginCountry:      strings.ToUpper(shipment.OriginCountryCode),
		DestinationCountry: strings.ToUpper(shipment.DestinationCountryCode),
	}
	if rec.TrackingNumber == "" {
		rec.TrackingNumber = requested
	}

	rec.Events = make([]carrier.Event, 0, len(rawEvents))
	for _, e := range rawEvents {
		rec.Events = append(rec.Events, c.toEvent(e, rec.TrackingNumber))
	}

	rec.Courier = firstNonEmpty(
		firstCode(tracker.CourierCode),
		firstCode(shipment.CourierCode),
		shipment.CourierName,
		firstEventCourier(rec.Events),
		carrier.UnknownCourier,
	)

	sort.SliceStable(rec.Events, func(i, j int) bool {
		return rec.Events[i].OccurredAt.After(rec.Events[j].OccurredAt)
	})

	statusText := firstNonEmpty(shipment.StatusMilestone, shipment.StatusCategory)
	switch {
	case statusText != "":
		rec.Status = carrier.NormalizeStatus(statusText)
	case len(rec.Events) > 0:
		rec.Status = rec.Events[0].Status
	default:
		rec.Status = models.StatusUnknown
	}

	rec.Location = locationText(shipment.Location)
	if rec.Location == "" && len(rec.Events) > 0 {
		rec.Location = rec.Events[0].Location
	}

	est := shipment.EstimatedDelivery
	if shipment.Delivery != nil && shipment.Delivery.EstimatedDeliveryDate != "" {
		est = shipment.Delivery.EstimatedDeliveryDate
	}
	if t, ok := parseTime(est); ok {
		rec.EstimatedDelivery = &t
	}

	return rec
}

func (c *Client) toEvent(e eventDoc, trackingNumber string) carrier.Event {
	ts := firstNonEmpty(e.OccurrenceDatetime, e.Datetime, e.Timestamp)
	occurred, ok := parseTime(ts)
	if !ok {
		occurred = c.now()
		slog.Warn("ship24: unparseable event timestamp, using now",
			"tracking_number", trackingNumber, "value", ts)
	}

	desc := firstNonEmpty(e.Status, e.StatusDescription, e.Description)
	code := firstNonEmpty(e.StatusCode, e.EventCode)

	// Статус события берём только из statusMilestone: описание вроде
	// "Not delivered" по подстроке дало бы Delivered.
	return carrier.Event{
		Status:       carrier.NormalizeStatus(e.StatusMilestone),
		Location:     locationText(e.Location),
		OccurredAt:   occurred,
		Description:  desc,
		StatusCode:   code,
		CourierCode:  e.CourierCode,
		TimeUnparsed: !ok,
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// firstCode reads a courier code that is either a string or a list of strings.
func firstCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		for _, v := range list {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// locationText reads a location that is either a string or an object with an address.
func locationText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Address string `json:"address"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.Address)
	}
	return ""
}

func firstEventCourier(evs []carrier.Event) string {
	for _, e := range evs {
		if e.CourierCode != "" {
			return e.CourierCode
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
