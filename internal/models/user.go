package models

import "time"

// Auth providers a user can sign in with.
const (
	ProviderGitHub = "github"
)

// RoleAdmin grants access to the blog admin panel under the role policy.
const RoleAdmin = "admin"

// StudentProfile is the optional self-description a student fills in on the dashboard.
type StudentProfile struct {
	ExperienceLevel string `json:"experienceLevel,omitempty" yaml:"experience_level,omitempty"`
	Company         string `json:"company,omitempty" yaml:"company,omitempty"`
	Role            string `json:"role,omitempty" yaml:"role,omitempty"`
	Goals           string `json:"goals,omitempty" yaml:"goals,omitempty"`
}

// IsEmpty reports whether no profile field is set.
func (p StudentProfile) IsEmpty() bool {
	return p == StudentProfile{}
}

// User is a persistent account created the first time someone signs in.
// ID is "<provider>:<provider user id>" so accounts from different providers never collide.
type User struct {
	ID             string
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	Image          string
	Roles          []string
	Profile        *StudentProfile

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserID builds the stable user id for a provider account.
func UserID(provider, providerUserID string) string {
	return provider + ":" + providerUserID
}
