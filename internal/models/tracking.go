package models

import "time"

// Нормализованные статусы посылки. Набор закрытый: любой текст провайдера
// сводится к одному из них.
const (
	StatusPending        = "Pending"
	StatusInTransit      = "In Transit"
	StatusOutForDelivery = "Out for Delivery"
	StatusDelivered      = "Delivered"
	StatusException      = "Exception"
	StatusUnknown        = "Unknown"
)

type Package struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	TrackingNumber     string     `json:"tracking_number"`
	Courier            *string    `json:"courier,omitempty"`
	Note               *string    `json:"note,omitempty"`
	DeliveryLocationID *string    `json:"delivery_location_id,omitempty"`
	TrackerID          *string    `json:"tracker_id,omitempty"`
	LastStatus         *string    `json:"last_status,omitempty"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	DetectedCourier    *string    `json:"detected_courier,omitempty"`
	OriginCountry      *string    `json:"origin_country,omitempty"`
	DestinationCountry *string    `json:"destination_country,omitempty"`
	EstimatedDelivery  *time.Time `json:"estimated_delivery,omitempty"`
	Archived           bool       `json:"archived"`

	NextCheckAt    time.Time `json:"-"`
	CheckFailCount int32     `json:"-"`
	LastError      *string   `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDelivered reports whether the last reconciled status is Delivered.
func (p *Package) IsDelivered() bool {
	return p.LastStatus != nil && *p.LastStatus == StatusDelivered
}

type TrackingEvent struct {
	ID                 string    `json:"id"`
	PackageID          string    `json:"package_id"`
	Status             string    `json:"status"`
	Location           string    `json:"location,omitempty"`
	LocationID         *string   `json:"location_id,omitempty"`
	DeliveryLocationID *string   `json:"delivery_location_id,omitempty"`
	OccurredAt         time.Time `json:"timestamp"`
	Description        string    `json:"description,omitempty"`
	StatusCode         *string   `json:"courier_event_code,omitempty"`
	CourierCode        *string   `json:"courier_code,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// DedupKey identifies an event within its package. Postgres keeps
// microseconds, so the timestamp is truncated the same way here.
func (e *TrackingEvent) DedupKey() string {
	return e.OccurredAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano) + "|" + e.Description
}

type PackageCreateInput struct {
	TrackingNumber     string
	Courier            *string
	Note               *string
	DeliveryLocationID *string
}

// PackagePatch holds optional updates; nil fields are left untouched.
// ClearDeliveryLocation removes the link explicitly.
type PackagePatch struct {
	Courier               *string
	Note                  *string
	Archived              *bool
	DeliveryLocationID    *string
	ClearDeliveryLocation bool
}

// TrackingUpdate is one reconciliation step persisted atomically.
type TrackingUpdate struct {
	PackageID string
	CheckedAt time.Time

	TrackerID          *string
	Status             string
	DetectedCourier    *string
	OriginCountry      *string
	DestinationCountry *string
	EstimatedDelivery  *time.Time
	DeliveredAt        *time.Time

	NextCheckAt time.Time

	// Locations are created if missing; existing rows are left as they are.
	Locations []*Location
	Events    []*TrackingEvent
}
