package pgtrackit

import (
	"context"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) ListEvents(ctx context.Context, packageID string) ([]*models.TrackingEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  id, package_id, status, location, location_id, delivery_location_id,
  occurred_at, description, status_code, courier_code, created_at
FROM tracking_events
WHERE package_id = $1
ORDER BY occurred_at DESC, created_at DESC
`, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := make([]*models.TrackingEvent, 0)
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.PackageID, &e.Status, &e.Location, &e.LocationID, &e.DeliveryLocationID,
			&e.OccurredAt, &e.Description, &e.StatusCode, &e.CourierCode, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyTrackingUpdate writes package fields, missing locations and new events
// in one transaction and returns the location strings created by it.
func (s *Storage) ApplyTrackingUpdate(ctx context.Context, upd models.TrackingUpdate) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE packages
SET
  tracker_id = COALESCE($2, tracker_id),
  last_status = $3,
  last_updated = $4,
  delivered_at = COALESCE(delivered_at, $5),
  detected_courier = COALESCE($6, detected_courier),
  origin_country = COALESCE($7, origin_country),
  destination_country = COALESCE($8, destination_country),
  estimated_delivery = COALESCE($9, estimated_delivery),
  next_check_at = $10,
  check_fail_count = 0,
  last_error = NULL,
  updated_at = now()
WHERE id = $1
`, upd.PackageID, upd.TrackerID, upd.Status, upd.CheckedAt.UTC(), upd.DeliveredAt,
		upd.DetectedCourier, upd.OriginCountry, upd.DestinationCountry, upd.EstimatedDelivery,
		upd.NextCheckAt.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "update package (ok)")
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrNotFound
	}

	now := time.Now().UTC()
	var created []string
	for _, l := range upd.Locations {
		if l == nil || l.LocationString == "" {
			continue
		}
		var raw string
		err := tx.QueryRow(ctx, `
INSERT INTO locations (location_string, normalized_location, created_at)
VALUES ($1,$2,$3)
ON CONFLICT (location_string) DO NOTHING
RETURNING location_string
`, l.LocationString, l.Normalized, now).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "insert location")
		}
		created = append(created, raw)
	}

	for _, e := range upd.Events {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.Exec(ctx, `
INSERT INTO tracking_events (
  id, package_id, status, location, location_id, delivery_location_id,
  occurred_at, description, status_code, courier_code, created_at
)
VALUES (
  $1,$2,$3,$4,
  (SELECT location_string FROM locations WHERE location_string = $5),
  $6,$7,$8,$9,$10,$11
)
ON CONFLICT (package_id, occurred_at, description) DO NOTHING
`, id, upd.PackageID, e.Status, e.Location, e.LocationID, e.DeliveryLocationID,
			e.OccurredAt.UTC(), e.Description, e.StatusCode, e.CourierCode, now)
		if err != nil {
			return nil, errors.Wrap(err, "insert tracking event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return created, nil
}

// SetDeliveryOverride moves the override to the newest Delivered event of the
// package, or drops it when dlID is nil.
func (s *Storage) SetDeliveryOverride(ctx context.Context, packageID string, dlID *string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE tracking_events SET delivery_location_id = NULL WHERE package_id = $1`, packageID); err != nil {
		return errors.Wrap(err, "clear overrides")
	}
	if dlID != nil {
		_, err := tx.Exec(ctx, `
UPDATE tracking_events
SET delivery_location_id = $2
WHERE id = (
  SELECT id FROM tracking_events
  WHERE package_id = $1 AND status = $3
  ORDER BY occurred_at DESC, created_at DESC
  LIMIT 1
)
`, packageID, *dlID, models.StatusDelivered)
		if err != nil {
			return errors.Wrap(err, "set override")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
