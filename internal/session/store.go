package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "session:"
	userSessionsKey  = "user_sessions:"
	sessionIndexKey  = "session:index"
)

// RedisClient is the Redis surface the session store needs, grounded on
// original_source/flare-access-gateway/src/infrastructure/session_store/redis.rs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// Store persists Sessions under the §3.3/§6 triple-key layout:
// session:{id}, user_sessions:{user}, session:index, all sharing one TTL.
type Store struct {
	client RedisClient
	ttl    time.Duration
}

// NewStore constructs a Store with the given TTL (the session lifetime).
func NewStore(client RedisClient, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(id string) string     { return sessionKeyPrefix + id }
func userSetKey(userID string) string { return userSessionsKey + userID }

// Insert writes a Session and indexes it, refreshing all three keys' TTLs
// together.
func (s *Store) Insert(ctx context.Context, sess *Session) error {
	raw, err := marshalSession(sess)
	if err != nil {
		return err
	}
	if err := s.client.SetEX(ctx, sessionKey(sess.SessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session store: persist: %w", err)
	}
	if err := s.client.SAdd(ctx, sessionIndexKey, sess.SessionID).Err(); err != nil {
		return fmt.Errorf("session store: index: %w", err)
	}
	if err := s.client.SAdd(ctx, userSetKey(sess.UserID), sess.SessionID).Err(); err != nil {
		return fmt.Errorf("session store: index user set: %w", err)
	}
	_ = s.client.Expire(ctx, sessionIndexKey, s.ttl).Err()
	_ = s.client.Expire(ctx, userSetKey(sess.UserID), s.ttl).Err()
	return nil
}

// Get fetches a Session by id, tolerating missing optional fields on
// deserialization (§6).
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get: %w", err)
	}
	return unmarshalSession([]byte(raw))
}

// Remove deletes a Session and de-indexes it from both sets.
func (s *Store) Remove(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return nil, fmt.Errorf("session store: delete: %w", err)
	}
	_ = s.client.SRem(ctx, sessionIndexKey, sessionID).Err()
	_ = s.client.SRem(ctx, userSetKey(sess.UserID), sessionID).Err()
	return sess, nil
}

// Touch refreshes a session's heartbeat (and, optionally, quality) and
// re-persists it.
func (s *Store) Touch(ctx context.Context, sessionID string, quality *ConnectionQuality) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	sess.RefreshHeartbeat(quality)
	if err := s.Insert(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// TouchHeartbeat refreshes a session's heartbeat without an updated quality
// reading, satisfying gateway.SessionHeartbeater.
func (s *Store) TouchHeartbeat(ctx context.Context, sessionID string) error {
	_, err := s.Touch(ctx, sessionID, nil)
	return err
}

// ListByUser returns every live Session for a user, lazily evicting stale
// index members whose backing session key has expired or was removed
// (§8 property 4: "Lookup of a stale session:index member removes it and
// returns nothing for that id").
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session store: list by user: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if sess == nil {
			_ = s.client.SRem(ctx, userSetKey(userID), id).Err()
			_ = s.client.SRem(ctx, sessionIndexKey, id).Err()
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// AllIDs returns every id in the global index.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, sessionIndexKey).Result()
}

// Lookup fetches by id, lazily removing it from the global index if the
// session key is gone (mirrors ListByUser's lazy-eviction rule for direct
// index walks).
func (s *Store) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		_ = s.client.SRem(ctx, sessionIndexKey, sessionID).Err()
		return nil, nil
	}
	return sess, nil
}
