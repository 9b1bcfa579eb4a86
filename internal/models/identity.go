package models

import "slices"

// Identity is the resolved identity behind the current request.
//
// It is built once per request by a session resolver and never mutated afterwards;
// handlers receive it through the request context.
type Identity struct {
	UserID    string `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Image     string `json:"image,omitempty"`
	Provider  string `json:"provider,omitempty"`

	// EnrolledCourses may be nil, which means "enrolled in nothing".
	EnrolledCourses []string        `json:"enrolledCourses,omitempty"`
	Roles           []string        `json:"roles,omitempty"`
	Profile         *StudentProfile `json:"profile,omitempty"`
}

// IsEnrolled reports whether the identity holds an enrollment for courseID.
func (i *Identity) IsEnrolled(courseID string) bool {
	if i == nil || courseID == "" {
		return false
	}
	return slices.Contains(i.EnrolledCourses, courseID)
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, role)
}

// NewIdentity assembles an identity from a user, its session and its enrollments.
func NewIdentity(user *User, session *Session, courses []string) *Identity {
	id := &Identity{
		UserID:          user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Image:           user.Image,
		Provider:        user.Provider,
		EnrolledCourses: slices.Clone(courses),
		Roles:           slices.Clone(user.Roles),
	}
	if session != nil {
		id.SessionID = session.SessionID.String()
	}
	if user.Profile != nil {
		profile := *user.Profile
		id.Profile = &profile
	}
	return id
}
