// Package seq implements the Sequence Allocator (C1): a Redis INCR-backed,
// strictly-increasing per-conversation counter with batch prefetch and a
// degraded fallback, grounded on
// original_source/flare-message-orchestrator/src/domain/service/sequence_allocator.rs.
package seq

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// keyTTL matches §6's "Sequence key: seq:{tenant_id}:{conversation_id},
// integer, TTL 7 days".
const keyTTL = 7 * 24 * time.Hour

// Store is the minimal Redis surface the allocator needs, so tests can
// substitute an in-memory fake (§9 "Dynamic dispatch").
type Store interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// DegradedObserver is notified whenever a call falls back to degraded mode,
// so callers can increment a metric (§4.1 failure policy).
type DegradedObserver func()

// Allocator assigns monotonic per-(tenant,conversation) sequence numbers.
type Allocator struct {
	store       Store
	logger      zerolog.Logger
	onDegraded  DegradedObserver
}

// New constructs an Allocator backed by store.
func New(store Store, logger zerolog.Logger, onDegraded DegradedObserver) *Allocator {
	if onDegraded == nil {
		onDegraded = func() {}
	}
	return &Allocator{store: store, logger: logger, onDegraded: onDegraded}
}

func buildKey(tenant, conversation string) string {
	return fmt.Sprintf("seq:%s:%s", tenant, conversation)
}

// Allocate returns a strictly greater value than any previously returned
// for (tenant, conversation), or a degraded value if the store errors.
func (a *Allocator) Allocate(ctx context.Context, tenant, conversation string) (seq uint64, degraded bool) {
	seqs, degraded := a.AllocateBatch(ctx, tenant, conversation, 1)
	if len(seqs) == 0 {
		return degradedSeq(), true
	}
	return seqs[0], degraded
}

// AllocateBatch reserves a contiguous block of n sequence numbers via
// INCRBY, refreshing the key's TTL. On store error it falls back to n
// independently-degraded values (never blocking the caller on Redis
// availability).
func (a *Allocator) AllocateBatch(ctx context.Context, tenant, conversation string, n int64) ([]uint64, bool) {
	if n <= 0 {
		n = 1
	}
	key := buildKey(tenant, conversation)

	end, err := a.store.IncrBy(ctx, key, n).Result()
	if err != nil {
		a.logger.Warn().Err(err).Str("tenant", tenant).Str("conversation", conversation).
			Msg("sequence allocator: store unavailable, using degraded mode")
		a.onDegraded()
		out := make([]uint64, n)
		for i := range out {
			out[i] = degradedSeq()
		}
		return out, true
	}

	if err := a.store.Expire(ctx, key, keyTTL).Err(); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("sequence allocator: failed to refresh TTL")
	}

	start := uint64(end) - uint64(n) + 1
	out := make([]uint64, n)
	for i := range out {
		out[i] = start + uint64(i)
	}
	return out, false
}

// degradedSeq packs (millisecond timestamp << 16) | random16, per §4.1.
// Guaranteed strictly increasing only in the coarse-grained (millisecond)
// sense; two calls in the same millisecond can collide with vanishing but
// non-zero probability (§8 boundary behaviour).
func degradedSeq() uint64 {
	millis := uint64(time.Now().UnixMilli())
	var buf [2]byte
	_, _ = rand.Read(buf[:])
	random16 := uint64(binary.BigEndian.Uint16(buf[:]))
	return (millis << 16) | random16
}
