package auth

import (
	"context"

	"github.com/BearBump/TrackIt/internal/models"
	"google.golang.org/api/idtoken"
)

type Identity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier checks Google ID tokens issued for clientID.
type GoogleVerifier struct {
	clientID string
	validate validateFunc
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, validate: idtoken.Validate}
}

func (g *GoogleVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" || g.clientID == "" {
		return nil, models.ErrUnauthorized
	}
	p, err := g.validate(ctx, token, g.clientID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}
	id := &Identity{Subject: p.Subject}
	if id.Subject == "" {
		return nil, models.ErrUnauthorized
	}
	id.Email = claim(p.Claims, "email")
	id.Name = claim(p.Claims, "name")
	id.Picture = claim(p.Claims, "picture")
	return id, nil
}

func claim(c map[string]interface{}, key string) string {
	s, _ := c[key].(string)
	return s
}
