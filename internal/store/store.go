package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/academy/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrAlreadyEnrolled = errors.New("already enrolled")
)

// UserStore persists accounts.
type UserStore interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, userID string) (*models.User, error)

	// Upsert creates the user or refreshes the provider-owned fields (email, name, image)
	// of an existing one. Roles, profile and CreatedAt of existing users are preserved.
	// Returns the stored user.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)

	// UpdateProfile replaces the student profile of a user.
	UpdateProfile(ctx context.Context, userID string, profile models.StudentProfile) error
}

// SessionStore persists server-side login sessions.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error

	// Get returns ErrSessionNotFound for unknown sessions and ErrSessionExpired for expired ones.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	UpdateLastUsed(ctx context.Context, sessionID uuid.UUID) error

	// Delete removes a single session (sign out).
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteByUser removes every session of a user (sign out everywhere).
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// DeleteExpired removes expired sessions (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}

// EnrollmentStore records which courses a user may access.
type EnrollmentStore interface {
	// Enroll returns ErrAlreadyEnrolled when the user already holds the course.
	Enroll(ctx context.Context, enrollment *models.Enrollment) error

	// ListCourseIDs returns the user's course ids in enrollment order. Never nil on success.
	ListCourseIDs(ctx context.Context, userID string) ([]string, error)
}

// Stores bundles the stores the site needs.
type Stores struct {
	Users       UserStore
	Sessions    SessionStore
	Enrollments EnrollmentStore
}

// Validate checks all stores are set.
func (s Stores) Validate() error {
	if s.Users == nil || s.Sessions == nil || s.Enrollments == nil {
		return errors.New("user, session and enrollment stores are required")
	}
	return nil
}
