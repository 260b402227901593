package push

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	onlineKeyPrefix      = "online:user:"
	conversationSubsKey  = "online:conversation_subs:"
)

// OnlineRedisClient is the Redis surface RedisOnlineDirectory needs.
type OnlineRedisClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisOnlineDirectory resolves online records from Redis keys per user_id
// holding a gateway_id value; conversation_subs tracks which users are
// subscribed+online for a given group/chatroom conversation. The Access
// Gateway's RegisterOnline/DeregisterOnline publish NATS signals and do not
// write these keys; no code in this module writes them.
type RedisOnlineDirectory struct {
	client OnlineRedisClient
}

// NewRedisOnlineDirectory constructs a RedisOnlineDirectory.
func NewRedisOnlineDirectory(client OnlineRedisClient) *RedisOnlineDirectory {
	return &RedisOnlineDirectory{client: client}
}

func onlineKey(userID string) string { return onlineKeyPrefix + userID }

// Lookup implements OnlineDirectory, batching reads with a single MGET.
func (d *RedisOnlineDirectory) Lookup(ctx context.Context, userIDs []string) (map[string]OnlineRecord, error) {
	if len(userIDs) == 0 {
		return map[string]OnlineRecord{}, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = onlineKey(id)
	}
	raw, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("push: online lookup: %w", err)
	}
	out := make(map[string]OnlineRecord, len(userIDs))
	for i, v := range raw {
		if v == nil {
			continue
		}
		gatewayID, ok := v.(string)
		if !ok || gatewayID == "" {
			continue
		}
		out[userIDs[i]] = OnlineRecord{UserID: userIDs[i], GatewayID: gatewayID, LastSeen: time.Now(), Online: true}
	}
	return out, nil
}

// SubscribedOnline implements OnlineDirectory: every user_id registered in
// the conversation's subscriber set that also has a live online record.
func (d *RedisOnlineDirectory) SubscribedOnline(ctx context.Context, conversationID string) ([]string, error) {
	members, err := d.client.SMembers(ctx, conversationSubsKey+conversationID).Result()
	if err != nil {
		return nil, fmt.Errorf("push: subscribed online: %w", err)
	}
	records, err := d.Lookup(ctx, members)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, uid := range members {
		if _, ok := records[uid]; ok {
			out = append(out, uid)
		}
	}
	return out, nil
}
