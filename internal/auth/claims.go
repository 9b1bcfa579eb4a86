package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wolfeidau/academy/internal/models"
)

// Claims are the claims of a site access token. Enrollments, roles and the profile are
// loaded from the stores per request; the token only names the user and session.
type Claims struct {
	jwt.RegisteredClaims

	SessionID string   `json:"sid"`
	Email     string   `json:"email,omitempty"`
	Name      string   `json:"name,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

func claimsFromIdentity(identity *models.Identity) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: identity.UserID},
		SessionID:        identity.SessionID,
		Email:            identity.Email,
		Name:             identity.Name,
		Provider:         identity.Provider,
		Roles:            slices.Clone(identity.Roles),
	}
}
