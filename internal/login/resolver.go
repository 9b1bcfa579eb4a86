package login

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/guard"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

// SessionCookieName holds the opaque session id.
const SessionCookieName = "_session"

var _ guard.SessionResolver = (*Resolver)(nil)

// Resolver turns the session cookie into an identity using the stores.
type Resolver struct {
	stores store.Stores
}

// NewResolver creates a cookie session resolver.
func NewResolver(stores store.Stores) (*Resolver, error) {
	if err := stores.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{stores: stores}, nil
}

// GetSession returns the stored session referenced by the request's session cookie.
func (s *Resolver) GetSession(r *http.Request) (*models.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, ErrInvalidSession
	}

	sessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		log.Debug().Msg("Invalid session cookie format")
		return nil, ErrInvalidSession
	}

	session, err := s.stores.Sessions.Get(r.Context(), sessionID)
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, store.ErrSessionExpired):
		log.Debug().Str("session_id", sessionID.String()).Msg("Session expired")
		return nil, ErrExpiredSession
	case errors.Is(err, store.ErrSessionNotFound):
		return nil, ErrInvalidSession
	default:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
}

// ResolveSession loads the session, its user and enrollments and assembles the identity.
func (s *Resolver) ResolveSession(r *http.Request) (*models.Identity, error) {
	ctx := r.Context()

	session, err := s.GetSession(r)
	if err != nil {
		return nil, err
	}

	user, err := s.stores.Users.Get(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Warn().Str("session_id", session.SessionID.String()).Str("user", session.UserID).Msg("Session references missing user")
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	courses, err := s.stores.Enrollments.ListCourseIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	if err := s.stores.Sessions.UpdateLastUsed(ctx, session.SessionID); err != nil {
		log.Warn().Err(err).Str("session_id", session.SessionID.String()).Msg("Failed to update session last used")
	}

	return models.NewIdentity(user, session, courses), nil
}
