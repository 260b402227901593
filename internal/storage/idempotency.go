package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// idempotencyTTL bounds how long a dedup key is remembered; long enough to
// absorb any plausible at-least-once redelivery window.
const idempotencyTTL = 24 * time.Hour

// IdempotencyStore is the Redis surface the dedup check needs: SetNX
// records first-seen, returning false when the key already existed.
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
}

// IdempotencyChecker implements §4.5 step 3: dedup by (tenant, client_msg_id,
// sender_id) when a client id is present, else (tenant, server_id).
type IdempotencyChecker struct {
	store IdempotencyStore
}

// NewIdempotencyChecker constructs a checker backed by store.
func NewIdempotencyChecker(store IdempotencyStore) *IdempotencyChecker {
	return &IdempotencyChecker{store: store}
}

func idempotencyKey(tenantID, clientMsgID, senderID, serverID string) string {
	if clientMsgID != "" {
		return fmt.Sprintf("idemp:%s:client:%s:%s", tenantID, clientMsgID, senderID)
	}
	return fmt.Sprintf("idemp:%s:server:%s", tenantID, serverID)
}

// CheckAndMark reports whether this message has already been processed. A
// true return means the caller must treat this batch entry as a duplicate.
func (c *IdempotencyChecker) CheckAndMark(ctx context.Context, tenantID, clientMsgID, senderID, serverID string) (duplicate bool, err error) {
	key := idempotencyKey(tenantID, clientMsgID, senderID, serverID)
	ok, err := c.store.SetNX(ctx, key, "1", idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("storage: idempotency check: %w", err)
	}
	return !ok, nil
}
