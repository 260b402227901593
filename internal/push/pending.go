package push

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	pendingZSetKey   = "push:pending:deadlines"
	pendingAttemptsKey = "push:pending:attempts"
)

// RedisClient is the Redis surface RedisPendingStore needs, grounded on
// wal.Store's narrow-interface shape.
type RedisClient interface {
	ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func pendingMember(messageID, userID string) string {
	return messageID + "|" + userID
}

func splitPendingMember(member string) (messageID, userID string, ok bool) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// RedisPendingStore tracks in-flight pending-push acks in a Redis sorted
// set scored by ack deadline, so the monitor sweep can range-query
// everything past due without scanning the whole keyspace.
type RedisPendingStore struct {
	client RedisClient
}

// NewRedisPendingStore constructs a RedisPendingStore.
func NewRedisPendingStore(client RedisClient) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

// Put implements PendingStore.
func (s *RedisPendingStore) Put(ctx context.Context, messageID, userID string, expiry time.Duration) error {
	member := pendingMember(messageID, userID)
	deadline := time.Now().Add(expiry).UnixMilli()
	if err := s.client.ZAdd(ctx, pendingZSetKey, &redis.Z{Score: float64(deadline), Member: member}).Err(); err != nil {
		return fmt.Errorf("push: pending put: %w", err)
	}
	return nil
}

// Clear implements PendingStore.
func (s *RedisPendingStore) Clear(ctx context.Context, messageID, userID string) error {
	member := pendingMember(messageID, userID)
	if err := s.client.ZRem(ctx, pendingZSetKey, member).Err(); err != nil {
		return fmt.Errorf("push: pending clear: %w", err)
	}
	s.client.HDel(ctx, pendingAttemptsKey, member)
	return nil
}

// DueEntry is one pending ack past its deadline.
type DueEntry struct {
	MessageID string
	UserID    string
	Attempts  int
}

// Due returns every pending entry whose deadline has passed, up to limit.
func (s *RedisPendingStore) Due(ctx context.Context, limit int64) ([]DueEntry, error) {
	members, err := s.client.ZRangeByScore(ctx, pendingZSetKey, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(time.Now().UnixMilli(), 10), Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("push: pending due: %w", err)
	}
	out := make([]DueEntry, 0, len(members))
	for _, member := range members {
		messageID, userID, ok := splitPendingMember(member)
		if !ok {
			continue
		}
		attempts, _ := s.client.HGet(ctx, pendingAttemptsKey, member).Int()
		out = append(out, DueEntry{MessageID: messageID, UserID: userID, Attempts: attempts})
	}
	return out, nil
}

// Reschedule bumps an entry's deadline and attempt count for the next
// retry rung.
func (s *RedisPendingStore) Reschedule(ctx context.Context, messageID, userID string, nextDeadline time.Duration, attempts int) error {
	member := pendingMember(messageID, userID)
	if err := s.client.ZAdd(ctx, pendingZSetKey, &redis.Z{Score: float64(time.Now().Add(nextDeadline).UnixMilli()), Member: member}).Err(); err != nil {
		return fmt.Errorf("push: pending reschedule: %w", err)
	}
	if err := s.client.HSet(ctx, pendingAttemptsKey, member, attempts).Err(); err != nil {
		return fmt.Errorf("push: pending reschedule attempts: %w", err)
	}
	return nil
}
