package messages

import (
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
)

const TopicTrackingUpdated = "tracking.updated"

// TrackingUpdated is published by the worker after each provider check.
// Exactly one of Record and Error is set.
type TrackingUpdated struct {
	PackageID string    `json:"package_id"`
	CheckedAt time.Time `json:"checked_at"`

	NextCheckAt time.Time `json:"next_check_at"`

	Record *carrier.Record `json:"record,omitempty"`

	Error *string `json:"error,omitempty"`
}

func (m TrackingUpdated) Failed() bool {
	return m.Error != nil && *m.Error != ""
}
