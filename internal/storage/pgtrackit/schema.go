package pgtrackit

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  picture TEXT NULL,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS delivery_locations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  address TEXT NOT NULL,
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  display_name TEXT NULL,
  country_code TEXT NULL,
  geocoded_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_locations_user_id ON delivery_locations(user_id)`,
		`
CREATE TABLE IF NOT EXISTS packages (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  tracking_number TEXT NOT NULL,
  courier TEXT NULL,
  note TEXT NULL,
  delivery_location_id TEXT NULL REFERENCES delivery_locations(id) ON DELETE SET NULL,
  tracker_id TEXT NULL,
  last_status TEXT NULL,
  last_updated TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  detected_courier TEXT NULL,
  origin_country TEXT NULL,
  destination_country TEXT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  archived BOOLEAN NOT NULL DEFAULT FALSE,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_user_id ON packages(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_next_check_at ON packages(next_check_at)`,
		`
CREATE TABLE IF NOT EXISTS locations (
  location_string TEXT PRIMARY KEY,
  normalized_location TEXT NOT NULL,
  alias TEXT NULL,
  latitude DOUBLE PRECISION NULL,
  longitude DOUBLE PRECISION NULL,
  display_name TEXT NULL,
  country_code TEXT NULL,
  geocoded_at TIMESTAMPTZ NULL,
  geocoding_failed BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_locations_terminal CHECK (NOT (geocoded_at IS NOT NULL AND geocoding_failed))
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id TEXT PRIMARY KEY,
  package_id TEXT NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  location_id TEXT NULL REFERENCES locations(location_string) ON DELETE SET NULL,
  delivery_location_id TEXT NULL REFERENCES delivery_locations(id) ON DELETE SET NULL,
  occurred_at TIMESTAMPTZ NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status_code TEXT NULL,
  courier_code TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_package_id_occurred_at ON tracking_events(package_id, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_location_id ON tracking_events(location_id)`,
		// Одно событие на пару (время, описание) в рамках посылки.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON tracking_events(package_id, occurred_at, description)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
