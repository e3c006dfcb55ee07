package pgtrackit

import (
	"context"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const locationColumns = `
  location_string, normalized_location, alias,
  latitude, longitude, display_name, country_code,
  geocoded_at, geocoding_failed, created_at`

func scanLocation(row scanner, extra ...any) (*models.Location, error) {
	var l models.Location
	dest := []any{
		&l.LocationString, &l.Normalized, &l.Alias,
		&l.Latitude, &l.Longitude, &l.DisplayName, &l.CountryCode,
		&l.GeocodedAt, &l.GeocodingFailed, &l.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Storage) GetLocation(ctx context.Context, raw string) (*models.Location, error) {
	l, err := scanLocation(s.db.QueryRow(ctx, `SELECT`+locationColumns+` FROM locations WHERE location_string = $1`, raw))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select location")
	}
	return l, nil
}

func (s *Storage) GetLocations(ctx context.Context, raws []string) (map[string]*models.Location, error) {
	out := make(map[string]*models.Location, len(raws))
	if len(raws) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+locationColumns+` FROM locations WHERE location_string = ANY($1)`, raws)
	if err != nil {
		return nil, errors.Wrap(err, "select locations")
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out[l.LocationString] = l
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CreateLocation inserts a pending row unless one already exists and returns
// the stored row.
func (s *Storage) CreateLocation(ctx context.Context, loc *models.Location) (*models.Location, error) {
	createdAt := loc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO locations (location_string, normalized_location, alias, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (location_string) DO NOTHING
`, loc.LocationString, loc.Normalized, loc.Alias, createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert location")
	}
	return s.GetLocation(ctx, loc.LocationString)
}

// SaveGeocodeResult stores a geocoding outcome only if the row is still
// pending with the same alias it was searched with. An alias change or reset
// that landed in between wins; alias itself is never written here.
func (s *Storage) SaveGeocodeResult(ctx context.Context, loc *models.Location) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE locations SET
  normalized_location = $2,
  latitude = $3,
  longitude = $4,
  display_name = $5,
  country_code = $6,
  geocoded_at = $7,
  geocoding_failed = $8
WHERE location_string = $1
  AND alias IS NOT DISTINCT FROM $9
  AND geocoded_at IS NULL
  AND NOT geocoding_failed
`, loc.LocationString, loc.Normalized,
		loc.Latitude, loc.Longitude, loc.DisplayName, loc.CountryCode,
		loc.GeocodedAt, loc.GeocodingFailed, loc.Alias)
	if err != nil {
		return false, errors.Wrap(err, "save geocode result")
	}
	return tag.RowsAffected() == 1, nil
}

const resetLocationSet = `
  latitude = NULL,
  longitude = NULL,
  display_name = NULL,
  country_code = NULL,
  geocoded_at = NULL,
  geocoding_failed = FALSE`

func (s *Storage) SetLocationAlias(ctx context.Context, raw string, alias *string) (*models.Location, error) {
	l, err := scanLocation(s.db.QueryRow(ctx, `
UPDATE locations
SET alias = $2,`+resetLocationSet+`
WHERE location_string = $1
RETURNING`+locationColumns, raw, alias))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "set location alias")
	}
	return l, nil
}

func (s *Storage) ResetLocation(ctx context.Context, raw string) (*models.Location, error) {
	l, err := scanLocation(s.db.QueryRow(ctx, `
UPDATE locations
SET`+resetLocationSet+`
WHERE location_string = $1
RETURNING`+locationColumns, raw))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "reset location")
	}
	return l, nil
}

// ListLocations returns cache rows with the number of events pointing at
// each, most used first.
func (s *Storage) ListLocations(ctx context.Context, failedOnly bool) ([]*models.LocationUsage, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  l.location_string, l.normalized_location, l.alias,
  l.latitude, l.longitude, l.display_name, l.country_code,
  l.geocoded_at, l.geocoding_failed, l.created_at,
  COUNT(e.id) AS usage_count
FROM locations l
LEFT JOIN tracking_events e ON e.location_id = l.location_string
WHERE NOT $1 OR l.geocoding_failed
GROUP BY l.location_string
ORDER BY usage_count DESC, l.location_string
`, failedOnly)
	if err != nil {
		return nil, errors.Wrap(err, "select locations")
	}
	defer rows.Close()

	out := make([]*models.LocationUsage, 0)
	for rows.Next() {
		var n int64
		l, err := scanLocation(rows, &n)
		if err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, &models.LocationUsage{Location: *l, UsageCount: int(n)})
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListPendingLocations(ctx context.Context) ([]*models.Location, error) {
	rows, err := s.db.Query(ctx, `SELECT`+locationColumns+`
FROM locations
WHERE geocoded_at IS NULL AND NOT geocoding_failed
ORDER BY created_at, location_string
`)
	if err != nil {
		return nil, errors.Wrap(err, "select pending locations")
	}
	defer rows.Close()

	var out []*models.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// PackageLocationsToResolve lists distinct location strings of the package
// whose events are unlinked or point at a pending row.
func (s *Storage) PackageLocationsToResolve(ctx context.Context, packageID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT e.location
FROM tracking_events e
LEFT JOIN locations l ON l.location_string = e.location_id
WHERE e.package_id = $1
  AND e.location <> ''
  AND (e.location_id IS NULL OR (l.geocoded_at IS NULL AND NOT l.geocoding_failed))
ORDER BY e.location
`, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "select unresolved locations")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, raw)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) LinkEventLocations(ctx context.Context, packageID, raw string) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_events
SET location_id = $2
WHERE package_id = $1 AND location = $2
`, packageID, raw)
	return errors.Wrap(err, "link event locations")
}
