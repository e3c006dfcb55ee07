package packages

import (
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/TrackIt/internal/integrations/carrier"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/BearBump/TrackIt/internal/services/geocoding"
	"github.com/google/uuid"
)

// "[Shatian Town] Processing at sorting center" -> "Shatian Town"
var bracketRe = regexp.MustCompile(`^\s*\[([^\]]+)\]`)

// EventLocation picks the explicit location, else a bracketed prefix of the
// description, else "".
func EventLocation(location, description string) string {
	if l := strings.TrimSpace(location); l != "" {
		return l
	}
	if m := bracketRe.FindStringSubmatch(description); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Reconcile merges a fetched record into the package state. It only builds
// the update; nothing is written. Incoming events already present by
// (timestamp, description) are dropped, and so are repeats within rec. An
// event whose timestamp the provider sent unreadable carries the fetch time,
// so it is matched on description alone.
func Reconcile(pkg *models.Package, existing []*models.TrackingEvent, rec *carrier.Record, checkedAt time.Time) models.TrackingUpdate {
	upd := models.TrackingUpdate{
		PackageID: pkg.ID,
		CheckedAt: checkedAt,
		Status:    rec.Status,
	}
	if upd.Status == "" {
		upd.Status = models.StatusUnknown
	}
	upd.TrackerID = optString(rec.TrackerID)
	if rec.Courier != carrier.UnknownCourier {
		upd.DetectedCourier = optString(rec.Courier)
	}
	upd.OriginCountry = optString(strings.ToUpper(rec.OriginCountry))
	upd.DestinationCountry = optString(strings.ToUpper(rec.DestinationCountry))
	upd.EstimatedDelivery = rec.EstimatedDelivery

	seen := make(map[string]struct{}, len(existing)+len(rec.Events))
	seenDesc := make(map[string]struct{}, len(existing)+len(rec.Events))
	var lastDelivered time.Time
	for _, e := range existing {
		seen[e.DedupKey()] = struct{}{}
		seenDesc[e.Description] = struct{}{}
		if e.Status == models.StatusDelivered && e.OccurredAt.After(lastDelivered) {
			lastDelivered = e.OccurredAt
		}
	}

	newLocs := map[string]struct{}{}
	var newestDelivered *models.TrackingEvent
	for _, re := range rec.Events {
		ev := &models.TrackingEvent{
			ID:          uuid.NewString(),
			PackageID:   pkg.ID,
			Status:      re.Status,
			Location:    EventLocation(re.Location, re.Description),
			OccurredAt:  re.OccurredAt.UTC(),
			Description: re.Description,
			StatusCode:  optString(re.StatusCode),
			CourierCode: optString(re.CourierCode),
		}
		if ev.Status == "" {
			ev.Status = models.StatusUnknown
		}
		key := ev.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		if _, dup := seenDesc[ev.Description]; dup && re.TimeUnparsed {
			continue
		}
		seen[key] = struct{}{}
		seenDesc[ev.Description] = struct{}{}

		if ev.Location != "" {
			raw := ev.Location
			ev.LocationID = &raw
			if _, ok := newLocs[raw]; !ok {
				newLocs[raw] = struct{}{}
				upd.Locations = append(upd.Locations, &models.Location{
					LocationString: raw,
					Normalized:     geocoding.Normalize(raw),
				})
			}
		}
		if ev.Status == models.StatusDelivered && (newestDelivered == nil || ev.OccurredAt.After(newestDelivered.OccurredAt)) {
			newestDelivered = ev
		}
		upd.Events = append(upd.Events, ev)
	}

	if upd.Status == models.StatusDelivered && pkg.DeliveredAt == nil {
		at := checkedAt.UTC()
		switch {
		case newestDelivered != nil && newestDelivered.OccurredAt.After(lastDelivered):
			at = newestDelivered.OccurredAt
		case !lastDelivered.IsZero():
			at = lastDelivered
		}
		upd.DeliveredAt = &at
	}

	if pkg.DeliveryLocationID != nil && newestDelivered != nil && newestDelivered.OccurredAt.After(lastDelivered) {
		id := *pkg.DeliveryLocationID
		newestDelivered.DeliveryLocationID = &id
	}

	return upd
}

// CurrentLocation is derived on every read: the delivery-location override of
// the latest Delivered event when the package is delivered, else the location
// of the latest event that has one, else nil. events must be newest first.
func CurrentLocation(
	pkg *models.Package,
	events []*models.TrackingEvent,
	locs map[string]*models.Location,
	dls map[string]*models.DeliveryLocation,
) *models.CurrentLocation {
	if pkg.IsDelivered() {
		for _, e := range events {
			if e.Status != models.StatusDelivered {
				continue
			}
			if e.DeliveryLocationID != nil {
				if dl, ok := dls[*e.DeliveryLocationID]; ok {
					lat, lon := dl.Latitude, dl.Longitude
					id := dl.ID
					return &models.CurrentLocation{
						Source:             models.CurrentLocationDelivery,
						Name:               dl.Name,
						Latitude:           &lat,
						Longitude:          &lon,
						CountryCode:        dl.CountryCode,
						DeliveryLocationID: &id,
					}
				}
			}
			break
		}
	}

	for _, e := range events {
		if e.Location == "" {
			continue
		}
		raw := e.Location
		cur := &models.CurrentLocation{
			Source:         models.CurrentLocationCourier,
			Name:           raw,
			LocationString: &raw,
		}
		if l, ok := locs[raw]; ok {
			if l.DisplayName != nil && *l.DisplayName != "" {
				cur.Name = *l.DisplayName
			}
			cur.Latitude = l.Latitude
			cur.Longitude = l.Longitude
			cur.CountryCode = l.CountryCode
		}
		return cur
	}
	return nil
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
