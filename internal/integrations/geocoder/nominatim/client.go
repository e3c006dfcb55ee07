package nominatim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/geocoder"
	"github.com/BearBump/TrackIt/internal/metrics"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "TrackIt Package Tracker"
)

type Client struct {
	baseURL   string
	userAgent string
	httpc     *http.Client
}

func New(baseURL, userAgent string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

func (c *Client) Search(ctx context.Context, query string) (*models.GeocodeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, geocoder.ErrNoResults
	}

	u, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(geocoder.ErrUnavailable, "do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.GeocodeRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, geocoder.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(geocoder.ErrUnavailable, "nominatim http %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(geocoder.ErrUnavailable, "decode: %v", err)
	}
	if len(places) == 0 {
		metrics.GeocodeRequestsTotal.WithLabelValues("no_results").Inc()
		return nil, geocoder.ErrNoResults
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(geocoder.ErrUnavailable, "bad lat %q", p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(geocoder.ErrUnavailable, "bad lon %q", p.Lon)
	}

	metrics.GeocodeRequestsTotal.WithLabelValues("ok").Inc()
	return &models.GeocodeResult{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: p.DisplayName,
		CountryCode: strings.ToUpper(p.Address.CountryCode),
	}, nil
}
