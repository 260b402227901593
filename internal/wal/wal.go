// Package wal implements the write-ahead log (C2): a Redis hash keyed by
// message_id that durably buffers an envelope until the storage writer
// confirms persistence. IterPending lists what is still buffered; no binary
// in this module calls it at startup, so buffered entries are not
// re-published automatically. Duplicates from a re-publish are absorbed
// downstream by the storage writer's idempotency check (§4.2).
package wal

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/envelope"
)

// bufferKey matches §6's "WAL key: storage:wal:buffer hash, field=message_id".
const bufferKey = "storage:wal:buffer"

// Store is the Redis hash surface the WAL needs.
type Store interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

// WAL is the durable per-message append-only buffer.
type WAL struct {
	store  Store
	logger zerolog.Logger
}

// New constructs a WAL backed by store.
func New(store Store, logger zerolog.Logger) *WAL {
	return &WAL{store: store, logger: logger}
}

// Append synchronously persists the envelope. It must succeed before the
// orchestrator publishes to the storage stream for any durable message
// (§4.2).
func (w *WAL) Append(ctx context.Context, msg *envelope.Message) error {
	raw, err := envelope.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wal: marshal: %w", err)
	}
	if err := w.store.HSet(ctx, bufferKey, msg.ServerID, raw).Err(); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	return nil
}

// Remove idempotently clears a WAL entry after persistence is acknowledged.
func (w *WAL) Remove(ctx context.Context, messageID string) error {
	if err := w.store.HDel(ctx, bufferKey, messageID).Err(); err != nil {
		return fmt.Errorf("wal: remove: %w", err)
	}
	return nil
}

// IterPending returns every envelope still buffered. It is not on the hot
// path, and nothing in this module calls it.
func (w *WAL) IterPending(ctx context.Context) ([]*envelope.Message, error) {
	raw, err := w.store.HGetAll(ctx, bufferKey).Result()
	if err != nil {
		return nil, fmt.Errorf("wal: iter pending: %w", err)
	}
	out := make([]*envelope.Message, 0, len(raw))
	for id, data := range raw {
		msg, err := envelope.Unmarshal([]byte(data))
		if err != nil {
			w.logger.Error().Err(err).Str("message_id", id).Msg("wal: dropping unreadable pending entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
