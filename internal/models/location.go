package models

import "time"

// Location is the shared geocoding cache row keyed by the raw courier string.
type Location struct {
	LocationString  string     `json:"location_string"`
	Normalized      string     `json:"normalized_location"`
	Alias           *string    `json:"alias,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	DisplayName     *string    `json:"display_name,omitempty"`
	CountryCode     *string    `json:"country_code,omitempty"`
	GeocodedAt      *time.Time `json:"geocoded_at,omitempty"`
	GeocodingFailed bool       `json:"geocoding_failed"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Terminal reports whether geocoding already ran against the current search term.
func (l *Location) Terminal() bool {
	return l.GeocodedAt != nil || l.GeocodingFailed
}

// Reset drops every geocoded field and both terminal markers.
func (l *Location) Reset() {
	l.Latitude = nil
	l.Longitude = nil
	l.DisplayName = nil
	l.CountryCode = nil
	l.GeocodedAt = nil
	l.GeocodingFailed = false
}

type LocationUsage struct {
	Location
	UsageCount int `json:"usage_count"`
}

type DeliveryLocation struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	DisplayName *string    `json:"display_name,omitempty"`
	CountryCode *string    `json:"country_code,omitempty"`
	GeocodedAt  *time.Time `json:"geocoded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type DeliveryLocationInput struct {
	Name    string
	Address string
}

// GeocodeResult is what a geocoding provider returns for a single search.
type GeocodeResult struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
	CountryCode string  `json:"country_code,omitempty"`
}

const (
	CurrentLocationDelivery = "delivery_location"
	CurrentLocationCourier  = "courier"
)

// CurrentLocation is derived on every read and never stored.
type CurrentLocation struct {
	Source             string   `json:"source"`
	Name               string   `json:"name"`
	Latitude           *float64 `json:"latitude,omitempty"`
	Longitude          *float64 `json:"longitude,omitempty"`
	CountryCode        *string  `json:"country_code,omitempty"`
	LocationString     *string  `json:"location_string,omitempty"`
	DeliveryLocationID *string  `json:"delivery_location_id,omitempty"`
}

type PackageView struct {
	*Package
	CurrentLocation *CurrentLocation `json:"current_location"`
}

type GeocodedEvent struct {
	EventID        string    `json:"event_id"`
	LocationString string    `json:"location_string"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	DisplayName    *string   `json:"display_name,omitempty"`
	OccurredAt     time.Time `json:"timestamp"`
	Status         string    `json:"status"`
}

type CountryLocation struct {
	CountryCode *string `json:"country_code,omitempty"`
}

type PackageLocations struct {
	Locations   []GeocodedEvent `json:"locations"`
	Origin      CountryLocation `json:"origin"`
	Destination CountryLocation `json:"destination"`
}
