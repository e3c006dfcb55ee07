package users

import (
	"context"
	"strings"

	"github.com/BearBump/TrackIt/internal/auth"
	"github.com/BearBump/TrackIt/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	UpsertUser(ctx context.Context, u *models.User) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*auth.Identity, error)
}

type TokenIssuer interface {
	Issue(userID string) (string, error)
	Parse(token string) (string, error)
}

type Service struct {
	repo     Repository
	verifier IdentityVerifier
	tokens   TokenIssuer
	admins   map[string]struct{}
}

func New(repo Repository, verifier IdentityVerifier, tokens TokenIssuer, adminEmails []string) *Service {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Service{repo: repo, verifier: verifier, tokens: tokens, admins: admins}
}

// LoginWithGoogle verifies the ID token, stores the user and returns a session token.
// Admin rights are granted by email and never revoked here.
func (s *Service) LoginWithGoogle(ctx context.Context, idToken string) (string, *models.User, error) {
	id, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return "", nil, err
	}

	u := &models.User{
		ID:    id.Subject,
		Email: id.Email,
		Name:  id.Name,
	}
	if id.Picture != "" {
		pic := id.Picture
		u.Picture = &pic
	}
	_, u.IsAdmin = s.admins[strings.ToLower(id.Email)]

	saved, err := s.repo.UpsertUser(ctx, u)
	if err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(saved.ID)
	if err != nil {
		return "", nil, err
	}
	return token, saved, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, models.ErrUnauthorized
	}
	u, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
