// Package redis provides a Redis-backed session store.
//
// Each session is a JSON record under academy:session:<id> that expires with the session.
// A per-user set under academy:user_sessions:<user_id> indexes the user's sessions so they
// can be revoked together.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/academy/internal/models"
	"github.com/wolfeidau/academy/internal/store"
)

const (
	sessionKeyPrefix     = "academy:session:"
	userSessionKeyPrefix = "academy:user_sessions:"

	// minTTL applies only to records created already expired, so Get can report ErrSessionExpired.
	// Live records are evicted at ExpiresAt and then read as ErrSessionNotFound.
	minTTL = time.Second
)

// NewClient connects to redis using a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

type sessionRecord struct {
	SessionID  uuid.UUID `json:"session_id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

func toRecord(s *models.Session) sessionRecord {
	return sessionRecord{
		SessionID:  s.SessionID,
		UserID:     s.UserID,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		LastUsedAt: s.LastUsedAt,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
	}
}

func (r sessionRecord) toSession() *models.Session {
	return &models.Session{
		SessionID:  r.SessionID,
		UserID:     r.UserID,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		LastUsedAt: r.LastUsedAt,
		UserAgent:  r.UserAgent,
		IPAddress:  r.IPAddress,
	}
}

// SessionStore implements store.SessionStore using Redis.
type SessionStore struct {
	client redis.UniversalClient
}

// NewSessionStore creates a new Redis-backed session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func userSessionsKey(userID string) string {
	return userSessionKeyPrefix + userID
}

func ttlFor(expiresAt time.Time) time.Duration {
	return max(time.Until(expiresAt), minTTL)
}

// Create stores a new session and adds it to the user's index.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(toRecord(session))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.SessionID), data, ttlFor(session.ExpiresAt))
		pipe.SAdd(ctx, userSessionsKey(session.UserID), session.SessionID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("user_id", session.UserID).
		Msg("Created session")

	return nil
}

func (s *SessionStore) load(ctx context.Context, sessionID uuid.UUID) (*sessionRecord, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &record, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session := record.toSession()
	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return session, nil
}

// UpdateLastUsed updates the last used timestamp, keeping the record's expiry.
func (s *SessionStore) UpdateLastUsed(ctx context.Context, sessionID uuid.UUID) error {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}

	record.LastUsedAt = time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	// XX so a record that expired since the read is not resurrected
	err = s.client.SetArgs(ctx, sessionKey(sessionID), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

// Delete removes a session and its index entry.
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	data, err := s.client.GetDel(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}

	if err := s.client.SRem(ctx, userSessionsKey(record.UserID), sessionID.String()).Err(); err != nil {
		return fmt.Errorf("failed to update session index: %w", err)
	}

	return nil
}

// DeleteByUser removes every session of a user.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	indexKey := userSessionsKey(userID)

	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list user sessions: %w", err)
	}

	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, sessionKeyPrefix+member)
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	return int(deleted.Val()), nil
}

// DeleteExpired removes sessions past their expiry and prunes index entries whose records
// redis has already evicted. Returns the number of index entries removed.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	count := 0

	iter := s.client.Scan(ctx, 0, userSessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()

		members, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return count, fmt.Errorf("failed to list user sessions: %w", err)
		}

		for _, member := range members {
			id, err := uuid.Parse(member)
			if err != nil {
				log.Warn().Str("user_id", userIDFromIndexKey(indexKey)).Str("member", member).Msg("Dropping malformed session index entry")
				if err := s.client.SRem(ctx, indexKey, member).Err(); err != nil {
					return count, fmt.Errorf("failed to update session index: %w", err)
				}
				continue
			}

			stale, err := s.isStale(ctx, id)
			if err != nil {
				return count, err
			}
			if !stale {
				continue
			}

			_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, sessionKey(id))
				pipe.SRem(ctx, indexKey, member)
				return nil
			})
			if err != nil {
				return count, fmt.Errorf("failed to delete expired session: %w", err)
			}
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("failed to scan session index: %w", err)
	}

	if count > 0 {
		log.Info().Int("count", count).Msg("Deleted expired sessions")
	}

	return count, nil
}

func (s *SessionStore) isStale(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.Get(ctx, id)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
		return true, nil
	default:
		return false, err
	}
}

// userIDFromIndexKey returns the user id encoded in an index key.
func userIDFromIndexKey(key string) string {
	return strings.TrimPrefix(key, userSessionKeyPrefix)
}
