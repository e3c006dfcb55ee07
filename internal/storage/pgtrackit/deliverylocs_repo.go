package pgtrackit

import (
	"context"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const deliveryLocationColumns = `
  id, user_id, name, address, latitude, longitude,
  display_name, country_code, geocoded_at, created_at, updated_at`

func scanDeliveryLocation(row scanner) (*models.DeliveryLocation, error) {
	var d models.DeliveryLocation
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.Address, &d.Latitude, &d.Longitude,
		&d.DisplayName, &d.CountryCode, &d.GeocodedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Storage) ListDeliveryLocations(ctx context.Context, userID string) ([]*models.DeliveryLocation, error) {
	rows, err := s.db.Query(ctx, `SELECT`+deliveryLocationColumns+`
FROM delivery_locations
WHERE user_id = $1
ORDER BY created_at DESC, id
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select delivery locations")
	}
	defer rows.Close()

	out := make([]*models.DeliveryLocation, 0)
	for rows.Next() {
		d, err := scanDeliveryLocation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery location")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetDeliveryLocation(ctx context.Context, userID, id string) (*models.DeliveryLocation, error) {
	d, err := scanDeliveryLocation(s.db.QueryRow(ctx, `SELECT`+deliveryLocationColumns+`
FROM delivery_locations
WHERE id = $1 AND user_id = $2
`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery location")
	}
	return d, nil
}

func (s *Storage) GetDeliveryLocationsByIDs(ctx context.Context, ids []string) (map[string]*models.DeliveryLocation, error) {
	out := make(map[string]*models.DeliveryLocation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+deliveryLocationColumns+` FROM delivery_locations WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select delivery locations")
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDeliveryLocation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery location")
		}
		out[d.ID] = d
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateDeliveryLocation(ctx context.Context, d *models.DeliveryLocation) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
INSERT INTO delivery_locations (
  id, user_id, name, address, latitude, longitude,
  display_name, country_code, geocoded_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, d.ID, d.UserID, d.Name, d.Address, d.Latitude, d.Longitude,
		d.DisplayName, d.CountryCode, d.GeocodedAt, d.CreatedAt, d.UpdatedAt)
	return errors.Wrap(err, "insert delivery location")
}

func (s *Storage) UpdateDeliveryLocation(ctx context.Context, d *models.DeliveryLocation) error {
	err := s.db.QueryRow(ctx, `
UPDATE delivery_locations
SET
  name = $3, address = $4, latitude = $5, longitude = $6,
  display_name = $7, country_code = $8, geocoded_at = $9,
  updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING created_at, updated_at
`, d.ID, d.UserID, d.Name, d.Address, d.Latitude, d.Longitude,
		d.DisplayName, d.CountryCode, d.GeocodedAt).Scan(&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return errors.Wrap(err, "update delivery location")
}

// DeleteDeliveryLocation drops every reference to the row before removing it.
func (s *Storage) DeleteDeliveryLocation(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE tracking_events SET delivery_location_id = NULL WHERE delivery_location_id = $1`, id); err != nil {
		return errors.Wrap(err, "clear event overrides")
	}
	if _, err := tx.Exec(ctx, `UPDATE packages SET delivery_location_id = NULL, updated_at = now() WHERE delivery_location_id = $1 AND user_id = $2`, id, userID); err != nil {
		return errors.Wrap(err, "clear package links")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM delivery_locations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "delete delivery location")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// ClearDeliveredOverrides unlinks the row from events and from packages that
// are already delivered.
func (s *Storage) ClearDeliveredOverrides(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE tracking_events SET delivery_location_id = NULL WHERE delivery_location_id = $1`, id); err != nil {
		return errors.Wrap(err, "clear event overrides")
	}
	if _, err := tx.Exec(ctx, `
UPDATE packages
SET delivery_location_id = NULL, updated_at = now()
WHERE delivery_location_id = $1 AND last_status = $2
`, id, models.StatusDelivered); err != nil {
		return errors.Wrap(err, "clear package links")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
