package pgtrackit

import (
	"context"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const packageColumns = `
  id, user_id, tracking_number, courier, note, delivery_location_id,
  tracker_id, last_status, last_updated, delivered_at,
  detected_courier, origin_country, destination_country, estimated_delivery,
  archived, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPackage(row scanner) (*models.Package, error) {
	var p models.Package
	err := row.Scan(
		&p.ID, &p.UserID, &p.TrackingNumber, &p.Courier, &p.Note, &p.DeliveryLocationID,
		&p.TrackerID, &p.LastStatus, &p.LastUpdated, &p.DeliveredAt,
		&p.DetectedCourier, &p.OriginCountry, &p.DestinationCountry, &p.EstimatedDelivery,
		&p.Archived, &p.NextCheckAt, &p.CheckFailCount, &p.LastError,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPackages(rows pgx.Rows) ([]*models.Package, error) {
	defer rows.Close()

	out := make([]*models.Package, 0)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreatePackage(ctx context.Context, p *models.Package) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.NextCheckAt.IsZero() {
		p.NextCheckAt = now
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO packages (
  id, user_id, tracking_number, courier, note, delivery_location_id,
  archived, next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, p.ID, p.UserID, p.TrackingNumber, p.Courier, p.Note, p.DeliveryLocationID,
		p.Archived, p.NextCheckAt.UTC(), p.CreatedAt, p.UpdatedAt)
	return errors.Wrap(err, "insert package")
}

func (s *Storage) GetPackage(ctx context.Context, userID, id string) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `SELECT`+packageColumns+`
FROM packages
WHERE id = $1 AND user_id = $2
`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

func (s *Storage) GetPackageByID(ctx context.Context, id string) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `SELECT`+packageColumns+` FROM packages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

func (s *Storage) ListPackages(ctx context.Context, userID string, archived bool) ([]*models.Package, error) {
	rows, err := s.db.Query(ctx, `SELECT`+packageColumns+`
FROM packages
WHERE user_id = $1 AND archived = $2
ORDER BY created_at DESC, id
`, userID, archived)
	if err != nil {
		return nil, errors.Wrap(err, "select packages")
	}
	return collectPackages(rows)
}

// UpdatePackage stores the user-editable fields.
func (s *Storage) UpdatePackage(ctx context.Context, p *models.Package) error {
	err := s.db.QueryRow(ctx, `
UPDATE packages
SET courier = $3, note = $4, archived = $5, delivery_location_id = $6, updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING updated_at
`, p.ID, p.UserID, p.Courier, p.Note, p.Archived, p.DeliveryLocationID).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return errors.Wrap(err, "update package")
}

func (s *Storage) DeletePackage(ctx context.Context, userID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM packages WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return errors.Wrap(err, "delete package")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Storage) RecordTrackingFailure(ctx context.Context, packageID string, checkedAt time.Time, errMsg string, nextCheckAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE packages
SET
  check_fail_count = check_fail_count + 1,
  last_error = $2,
  next_check_at = $3,
  updated_at = now()
WHERE id = $1
`, packageID, errMsg, nextCheckAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update package (error)")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClaimDuePackages выбирает пачку посылок, готовых к проверке, и "бронирует"
// их на время lease, чтобы параллельный воркер их не взял.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT`+packageColumns+`
FROM packages
WHERE next_check_at <= $1
  AND NOT archived
  AND (last_status IS NULL OR last_status <> $2)
ORDER BY next_check_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.StatusDelivered, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due packages")
	}
	picked, err := collectPackages(rows)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		_, err := tx.Exec(ctx, `UPDATE packages SET next_check_at = $2, updated_at = now() WHERE id = $1`, p.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease package")
		}
		p.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
