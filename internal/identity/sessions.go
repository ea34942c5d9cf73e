package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is the cached record behind one issued token.
type Session struct {
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore caches sessions in Redis keyed by token id. When the
// store is enabled, a missing key means the session was revoked (or
// expired) and the token must be rejected; logout deletes the key,
// which is the only revocation mechanism. With no Redis configured the
// store is disabled and tokens stand on their JWT claims alone.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore wraps the given Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Enabled reports whether a backing Redis client is configured.
func (s *SessionStore) Enabled() bool { return s != nil && s.client != nil }

func sessionKey(jti string) string { return fmt.Sprintf("session:%s", jti) }

// Save writes the session with a TTL matching the token expiry.
func (s *SessionStore) Save(ctx context.Context, jti string, sess Session) error {
	if s == nil || s.client == nil {
		return nil
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("identity: encode session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, sessionKey(jti), raw, ttl).Err(); err != nil {
		return fmt.Errorf("identity: save session: %w", err)
	}
	return nil
}

// Get loads the session, returning (nil, nil) on a miss.
func (s *SessionStore) Get(ctx context.Context, jti string) (*Session, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, sessionKey(jti)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("identity: decode session: %w", err)
	}
	return &sess, nil
}

// Delete revokes the session.
func (s *SessionStore) Delete(ctx context.Context, jti string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(jti)).Err(); err != nil {
		return fmt.Errorf("identity: delete session: %w", err)
	}
	return nil
}
