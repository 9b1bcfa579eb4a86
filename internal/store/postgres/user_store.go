package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
)

const userColumns = `user_id, provider, provider_user_id, email, name, image, roles, profile, created_at, updated_at`

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{
		pool: pool,
	}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapPostgresError(err))
	}

	return user, nil
}

// Upsert creates a user or refreshes the provider fields of an existing one.
func (s *UserStore) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (
			user_id, provider, provider_user_id,
			email, name, image, roles, profile,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $9
		)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			image = EXCLUDED.image,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	profile, err := encodeProfile(user.Profile)
	if err != nil {
		return nil, err
	}

	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}

	row := s.pool.QueryRow(ctx, query,
		user.ID,
		user.Provider,
		user.ProviderUserID,
		user.Email,
		user.Name,
		user.Image,
		roles,
		profile,
		time.Now(),
	)

	stored, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", mapPostgresError(err))
	}

	return stored, nil
}

// UpdateProfile replaces the student profile of a user.
func (s *UserStore) UpdateProfile(ctx context.Context, userID string, profile models.StudentProfile) error {
	encoded, err := encodeProfile(&profile)
	if err != nil {
		return err
	}

	result, err := s.pool.Exec(ctx,
		`UPDATE users SET profile = $2::jsonb, updated_at = $3 WHERE user_id = $1`,
		userID, encoded, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var profile []byte

	err := row.Scan(
		&user.ID,
		&user.Provider,
		&user.ProviderUserID,
		&user.Email,
		&user.Name,
		&user.Image,
		&user.Roles,
		&profile,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(profile) > 0 {
		user.Profile = &models.StudentProfile{}
		if err := json.Unmarshal(profile, user.Profile); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
	}

	return &user, nil
}

// encodeProfile returns the JSON text for a profile column, or nil for NULL.
func encodeProfile(profile *models.StudentProfile) (any, error) {
	if profile == nil {
		return nil, nil
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}

	return string(data), nil
}
