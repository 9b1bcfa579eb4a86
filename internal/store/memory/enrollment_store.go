package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
)

// EnrollmentStore implements store.EnrollmentStore using in-memory storage.
type EnrollmentStore struct {
	mu          sync.RWMutex
	enrollments map[string][]models.Enrollment // user_id -> enrollments in order
}

// NewEnrollmentStore creates a new in-memory enrollment store.
func NewEnrollmentStore() *EnrollmentStore {
	return &EnrollmentStore{
		enrollments: make(map[string][]models.Enrollment),
	}
}

// Enroll records an enrollment.
func (s *EnrollmentStore) Enroll(ctx context.Context, enrollment *models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.enrollments[enrollment.UserID]
	if slices.ContainsFunc(existing, func(e models.Enrollment) bool {
		return e.CourseID == enrollment.CourseID
	}) {
		return store.ErrAlreadyEnrolled
	}

	e := *enrollment
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.enrollments[enrollment.UserID] = append(existing, e)

	return nil
}

// ListCourseIDs returns the course ids a user is enrolled in.
func (s *EnrollmentStore) ListCourseIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.enrollments[userID]))
	for _, e := range s.enrollments[userID] {
		ids = append(ids, e.CourseID)
	}
	return ids, nil
}
