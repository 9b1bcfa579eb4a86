package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side login session.
// Only the session ID travels in the cookie; everything else stays in the store.
type Session struct {
	SessionID uuid.UUID // UUIDv7
	UserID    string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
