package pgtrackit

import (
	"context"
	"time"

	"github.com/BearBump/TrackIt/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertUser creates the user or refreshes the profile. The admin flag is
// only ever raised here, never lowered.
func (s *Storage) UpsertUser(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()

	var out models.User
	err := s.db.QueryRow(ctx, `
INSERT INTO users (id, email, name, picture, is_admin, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  name = EXCLUDED.name,
  picture = EXCLUDED.picture,
  is_admin = users.is_admin OR EXCLUDED.is_admin,
  updated_at = EXCLUDED.updated_at
RETURNING id, email, name, picture, is_admin, created_at, updated_at
`, u.ID, u.Email, u.Name, u.Picture, u.IsAdmin, now).Scan(
		&out.ID, &out.Email, &out.Name, &out.Picture, &out.IsAdmin, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "upsert user")
	}
	return &out, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var out models.User
	err := s.db.QueryRow(ctx, `
SELECT id, email, name, picture, is_admin, created_at, updated_at
FROM users
WHERE id = $1
`, id).Scan(&out.ID, &out.Email, &out.Name, &out.Picture, &out.IsAdmin, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return &out, nil
}
