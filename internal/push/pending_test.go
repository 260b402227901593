package push

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

type fakeRedisClient struct {
	zset     map[string]float64
	attempts map[string]string
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{zset: map[string]float64{}, attempts: map[string]string{}}
}

func (f *fakeRedisClient) ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, m := range members {
		f.zset[m.Member.(string)] = m.Score
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedisClient) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, m := range members {
		delete(f.zset, m.(string))
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedisClient) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	var out []string
	maxScore := parseScoreMax(opt.Max)
	for member, score := range f.zset {
		if score <= maxScore {
			out = append(out, member)
		}
	}
	cmd.SetVal(out)
	return cmd
}

func parseScoreMax(s string) float64 {
	if s == "+inf" {
		return 1e18
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (f *fakeRedisClient) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	member := values[0].(string)
	switch v := values[1].(type) {
	case int:
		f.attempts[member] = strconv.Itoa(v)
	case string:
		f.attempts[member] = v
	}
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedisClient) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, field := range fields {
		delete(f.attempts, field)
	}
	cmd.SetVal(int64(len(fields)))
	return cmd
}

func (f *fakeRedisClient) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.attempts[field]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func TestPendingPutThenDue(t *testing.T) {
	client := newFakeRedisClient()
	store := NewRedisPendingStore(client)

	if err := store.Put(context.Background(), "m1", "u1", -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	due, err := store.Due(context.Background(), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].MessageID != "m1" || due[0].UserID != "u1" {
		t.Fatalf("expected one due entry for m1/u1, got %+v", due)
	}
}

func TestPendingNotYetDueExcluded(t *testing.T) {
	client := newFakeRedisClient()
	store := NewRedisPendingStore(client)

	if err := store.Put(context.Background(), "m1", "u1", time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	due, err := store.Due(context.Background(), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due entries for a future deadline, got %+v", due)
	}
}

func TestPendingClearRemovesZSetAndAttempts(t *testing.T) {
	client := newFakeRedisClient()
	store := NewRedisPendingStore(client)

	if err := store.Put(context.Background(), "m1", "u1", -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Reschedule(context.Background(), "m1", "u1", -time.Second, 2); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if err := store.Clear(context.Background(), "m1", "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	due, err := store.Due(context.Background(), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected cleared entry to not reappear, got %+v", due)
	}
}

func TestPendingRescheduleCarriesAttempts(t *testing.T) {
	client := newFakeRedisClient()
	store := NewRedisPendingStore(client)

	if err := store.Put(context.Background(), "m1", "u1", -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Reschedule(context.Background(), "m1", "u1", -time.Second, 3); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	due, err := store.Due(context.Background(), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Attempts != 3 {
		t.Fatalf("expected attempts carried through reschedule, got %+v", due)
	}
}
