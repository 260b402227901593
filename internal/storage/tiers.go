package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flare152/flare-im/internal/envelope"
)

// hotCacheRedisClient is the Redis surface RedisHotCache needs.
type hotCacheRedisClient interface {
	ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// RedisHotCache keeps the most recent maxPerConversation messages per
// conversation in a Redis sorted set scored by seq, the low-latency tier
// fronting the realtime store (§4.5 step 4).
type RedisHotCache struct {
	client             hotCacheRedisClient
	maxPerConversation int64
	ttl                time.Duration
}

// NewRedisHotCache constructs a RedisHotCache.
func NewRedisHotCache(client hotCacheRedisClient, maxPerConversation int64, ttl time.Duration) *RedisHotCache {
	return &RedisHotCache{client: client, maxPerConversation: maxPerConversation, ttl: ttl}
}

func hotCacheKey(conversationID string) string { return "storage:hot:" + conversationID }

// Put implements HotCache.
func (c *RedisHotCache) Put(ctx context.Context, msg *envelope.Message) error {
	raw, err := envelope.Marshal(msg)
	if err != nil {
		return fmt.Errorf("storage: hot cache marshal: %w", err)
	}
	key := hotCacheKey(msg.ConversationID)
	if err := c.client.ZAdd(ctx, key, &redis.Z{Score: float64(msg.Seq), Member: raw}).Err(); err != nil {
		return fmt.Errorf("storage: hot cache write: %w", err)
	}
	if c.maxPerConversation > 0 {
		c.client.ZRemRangeByRank(ctx, key, 0, -c.maxPerConversation-1)
	}
	_ = c.client.Expire(ctx, key, c.ttl).Err()
	return nil
}

// PostgresMessageStore is a lib/pq-backed tier; the realtime store and
// archive store are two instances pointed at different tables/connections
// of the same row shape, grounded on operation_store.rs's table layout.
type PostgresMessageStore struct {
	db    *sql.DB
	table string
}

// NewPostgresMessageStore constructs a PostgresMessageStore writing into
// table (e.g. "messages_realtime" or "messages_archive").
func NewPostgresMessageStore(db *sql.DB, table string) *PostgresMessageStore {
	return &PostgresMessageStore{db: db, table: table}
}

// Put implements MessageStorage/ArchiveStore.
func (s *PostgresMessageStore) Put(ctx context.Context, msg *envelope.Message) error {
	ingestionTs, _ := msg.IngestionTs()
	persistedTs, _ := msg.PersistedTs()
	query := fmt.Sprintf(`
		INSERT INTO %s (server_id, client_msg_id, conversation_id, seq, tenant_id, sender_id,
			message_type, content_type, content_text, content_payload, ingestion_ts, persisted_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (server_id) DO NOTHING`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		msg.ServerID, nullableString(msg.ClientMsgID), msg.ConversationID, msg.Seq, msg.TenantID, msg.SenderID,
		msg.MessageType, msg.Content.Type, msg.Content.Text, msg.Content.Payload, ingestionTs, persistedTs,
	)
	if err != nil {
		return fmt.Errorf("storage: %s write: %w", s.table, err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
