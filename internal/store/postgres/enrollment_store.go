package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/models"
)

// EnrollmentStore implements store.EnrollmentStore using PostgreSQL.
type EnrollmentStore struct {
	pool *pgxpool.Pool
}

// NewEnrollmentStore creates a new PostgreSQL-backed enrollment store.
func NewEnrollmentStore(pool *pgxpool.Pool) *EnrollmentStore {
	return &EnrollmentStore{
		pool: pool,
	}
}

// Enroll records an enrollment.
func (s *EnrollmentStore) Enroll(ctx context.Context, enrollment *models.Enrollment) error {
	createdAt := enrollment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrollments (user_id, course_id, order_id, created_at) VALUES ($1, $2, $3, $4)`,
		enrollment.UserID, enrollment.CourseID, enrollment.OrderID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enroll: %w", mapPostgresError(err))
	}

	log.Info().
		Str("user_id", enrollment.UserID).
		Str("course_id", enrollment.CourseID).
		Str("order_id", enrollment.OrderID).
		Msg("Enrolled user")

	return nil
}

// ListCourseIDs returns the course ids a user is enrolled in.
func (s *EnrollmentStore) ListCourseIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT course_id FROM enrollments WHERE user_id = $1 ORDER BY created_at, course_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", mapPostgresError(err))
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan enrollments: %w", mapPostgresError(err))
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}
