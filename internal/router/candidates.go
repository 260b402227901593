package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// candidateTableKeyPrefix groups candidates by svid in a Redis hash,
// field=endpoint, value=json-encoded {shard_id, az}; populated out of band
// by each component's registration/heartbeat on startup.
const candidateTableKeyPrefix = "router:route_table:"

// RedisClient is the Redis surface RedisCandidateSource needs.
type RedisClient interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

type candidateRecord struct {
	ShardID uint32 `json:"shard_id"`
	AZ      string `json:"az"`
}

// RedisCandidateSource loads route-table candidates for an SVID from a
// Redis hash populated by service registration/heartbeat, grounded on the
// session store's Redis-as-registry shape (internal/session.Store) applied
// to route-table candidates instead of sessions.
type RedisCandidateSource struct {
	client RedisClient
}

// NewRedisCandidateSource constructs a RedisCandidateSource.
func NewRedisCandidateSource(client RedisClient) *RedisCandidateSource {
	return &RedisCandidateSource{client: client}
}

// Candidates implements CandidateSource.
func (s *RedisCandidateSource) Candidates(ctx context.Context, svid string) ([]Candidate, error) {
	raw, err := s.client.HGetAll(ctx, candidateTableKeyPrefix+svid).Result()
	if err != nil {
		return nil, fmt.Errorf("router: load candidates: %w", err)
	}
	out := make([]Candidate, 0, len(raw))
	for endpoint, data := range raw {
		var rec candidateRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		out = append(out, Candidate{Endpoint: endpoint, ShardID: rec.ShardID, AZ: rec.AZ})
	}
	return out, nil
}
