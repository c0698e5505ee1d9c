// Package identity validates third-party provider tokens for social signin.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/taliaapp/apiserver/internal/services"
	"google.golang.org/api/idtoken"
)

// GoogleProvider validates Google ID tokens against a configured audience.
type GoogleProvider struct {
	audience string
}

func NewGoogleProvider(audience string) *GoogleProvider {
	return &GoogleProvider{audience: audience}
}

// Exchange validates the ID token and extracts the asserted identity.
func (g *GoogleProvider) Exchange(ctx context.Context, providerToken string) (services.ExternalIdentity, error) {
	payload, err := idtoken.Validate(ctx, providerToken, g.audience)
	if err != nil {
		return services.ExternalIdentity{}, err
	}

	email, _ := payload.Claims["email"].(string)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return services.ExternalIdentity{}, errors.New("token carries no email claim")
	}
	name, _ := payload.Claims["name"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)

	return services.ExternalIdentity{
		Email:         email,
		Name:          name,
		EmailVerified: verified,
	}, nil
}
