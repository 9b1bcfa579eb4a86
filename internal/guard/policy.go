package guard

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wolfeidau/academy/internal/models"
)

// Admin policy names accepted by PolicyByName.
const (
	PolicyRole             = "role"
	PolicyAnyAuthenticated = "any-authenticated"
)

// AdminPolicy decides whether an identity may use the admin panel.
type AdminPolicy interface {
	Name() string
	IsAdmin(identity *models.Identity) bool
}

// RolePolicy grants admin to identities carrying Role or whose email is listed in Emails.
// Everyone else is denied.
type RolePolicy struct {
	Role   string
	Emails []string
}

func (p RolePolicy) Name() string { return PolicyRole }

func (p RolePolicy) IsAdmin(identity *models.Identity) bool {
	if identity == nil {
		return false
	}
	if p.Role != "" && identity.HasRole(p.Role) {
		return true
	}
	if identity.Email == "" {
		return false
	}
	return slices.ContainsFunc(p.Emails, func(e string) bool {
		return strings.EqualFold(e, identity.Email)
	})
}

// AnyAuthenticatedPolicy treats every signed-in identity as an admin.
// It exists to keep the site's historical behaviour and must be selected explicitly.
type AnyAuthenticatedPolicy struct{}

func (AnyAuthenticatedPolicy) Name() string { return PolicyAnyAuthenticated }

func (AnyAuthenticatedPolicy) IsAdmin(identity *models.Identity) bool {
	return identity != nil
}

// PolicyByName builds the named admin policy.
func PolicyByName(name string, emails []string) (AdminPolicy, error) {
	switch name {
	case "", PolicyRole:
		return RolePolicy{Role: models.RoleAdmin, Emails: emails}, nil
	case PolicyAnyAuthenticated:
		return AnyAuthenticatedPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown admin policy %q", name)
	}
}
