package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionHeader carries the bearer session token on API requests.
const SessionHeader = "Authorization"

// Session holds per-request session data resolved from the token store.
type Session struct {
	Token     string
	UserID    int64
	IssuedAt  time.Time
	RemoteIP  string
	UserAgent string
}

type sessionPayload struct {
	UserID    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	RemoteIP  string    `json:"remote_ip"`
	UserAgent string    `json:"user_agent"`
}

// SessionManager issues and resolves bearer session tokens backed by Redis.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl}
}

// Issue creates a new session for the user and stores it under a fresh
// token.
func (sm *SessionManager) Issue(ctx context.Context, userID int64, remoteIP, userAgent string) (Session, error) {
	sess := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		IssuedAt:  time.Now(),
		RemoteIP:  remoteIP,
		UserAgent: userAgent,
	}
	data, err := json.Marshal(sessionPayload{
		UserID:    sess.UserID,
		IssuedAt:  sess.IssuedAt,
		RemoteIP:  sess.RemoteIP,
		UserAgent: sess.UserAgent,
	})
	if err != nil {
		return Session{}, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.Token), data, sm.ttl).Err(); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Resolve looks up the session for a bearer token. A missing or expired
// token resolves to nil without error; transport failures propagate.
func (sm *SessionManager) Resolve(ctx context.Context, r *http.Request) (*Session, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	data, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	// Sliding expiry: active sessions stay alive.
	_ = sm.client.Expire(ctx, sm.redisKey(token), sm.ttl).Err()
	return &Session{
		Token:     token,
		UserID:    stored.UserID,
		IssuedAt:  stored.IssuedAt,
		RemoteIP:  stored.RemoteIP,
		UserAgent: stored.UserAgent,
	}, nil
}

// Revoke deletes the session behind a token.
func (sm *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := sm.client.Del(ctx, sm.redisKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

func (sm *SessionManager) redisKey(token string) string {
	return "session:" + token
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(SessionHeader)
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
