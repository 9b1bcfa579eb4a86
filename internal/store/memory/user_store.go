package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]*models.User),
	}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	return cloneUser(user), nil
}

// Upsert creates a user or refreshes the provider fields of an existing one.
func (s *UserStore) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	existing, exists := s.users[user.ID]
	if !exists {
		created := cloneUser(user)
		created.CreatedAt = now
		created.UpdatedAt = now
		s.users[user.ID] = created
		return cloneUser(created), nil
	}

	existing.Email = user.Email
	existing.Name = user.Name
	existing.Image = user.Image
	existing.UpdatedAt = now

	return cloneUser(existing), nil
}

// UpdateProfile replaces the student profile of a user.
func (s *UserStore) UpdateProfile(ctx context.Context, userID string, profile models.StudentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return store.ErrUserNotFound
	}

	user.Profile = &profile
	user.UpdatedAt = time.Now()
	return nil
}

func cloneUser(u *models.User) *models.User {
	clone := *u
	clone.Roles = slices.Clone(u.Roles)
	if u.Profile != nil {
		profile := *u.Profile
		clone.Profile = &profile
	}
	return &clone
}
