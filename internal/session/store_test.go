package session

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

type fakeRedis struct {
	strings map[string]string
	sets    map[string]map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{strings: map[string]string{}, sets: map[string]map[string]struct{}{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.strings[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) SetEX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	f.strings[key] = value.(string)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			delete(f.strings, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	set, ok := f.sets[key]
	if !ok {
		set = map[string]struct{}{}
		f.sets[key] = set
	}
	for _, m := range members {
		set[m.(string)] = struct{}{}
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	set, ok := f.sets[key]
	if ok {
		for _, m := range members {
			delete(set, m.(string))
		}
	}
	cmd.SetVal(int64(len(members)))
	return cmd
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	set := f.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func TestInsertWritesTripleKeys(t *testing.T) {
	client := newFakeRedis()
	store := NewStore(client, time.Hour)

	sess := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, ok := client.strings[sessionKey(sess.SessionID)]; !ok {
		t.Fatalf("expected session blob key to be written")
	}
	if _, ok := client.sets[sessionIndexKey][sess.SessionID]; !ok {
		t.Fatalf("expected session to be indexed in the global index")
	}
	if _, ok := client.sets[userSetKey("u1")][sess.SessionID]; !ok {
		t.Fatalf("expected session to be indexed in the user set")
	}
}

func TestGetRoundTrip(t *testing.T) {
	client := newFakeRedis()
	store := NewStore(client, time.Hour)

	sess := Create(CreateParams{UserID: "u1", DeviceID: "d1", DevicePriority: PriorityHigh, TokenVersion: 3})
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.UserID != "u1" || got.DevicePriority != PriorityHigh || got.TokenVersion != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRemoveClearsAllThreeKeys(t *testing.T) {
	client := newFakeRedis()
	store := NewStore(client, time.Hour)

	sess := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Remove(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, ok := client.strings[sessionKey(sess.SessionID)]; ok {
		t.Fatalf("expected session blob removed")
	}
	if _, ok := client.sets[sessionIndexKey][sess.SessionID]; ok {
		t.Fatalf("expected session removed from global index")
	}
	if _, ok := client.sets[userSetKey("u1")][sess.SessionID]; ok {
		t.Fatalf("expected session removed from user set")
	}
}

func TestListByUserLazilyEvictsStaleIndexMembers(t *testing.T) {
	client := newFakeRedis()
	store := NewStore(client, time.Hour)

	sess := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// simulate the session key expiring out from under the index.
	delete(client.strings, sessionKey(sess.SessionID))

	sessions, err := store.ListByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected stale session filtered out, got %d", len(sessions))
	}
	if _, ok := client.sets[userSetKey("u1")][sess.SessionID]; ok {
		t.Fatalf("expected stale id lazily evicted from the user set")
	}
}

func TestLookupLazilyEvictsFromGlobalIndex(t *testing.T) {
	client := newFakeRedis()
	store := NewStore(client, time.Hour)

	sess := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	delete(client.strings, sessionKey(sess.SessionID))

	got, err := store.Lookup(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for a stale session")
	}
	if _, ok := client.sets[sessionIndexKey][sess.SessionID]; ok {
		t.Fatalf("expected stale id lazily evicted from global index")
	}
}

func TestTouchUpdatesHeartbeatAndPersists(t *testing.T) {
	client := newFakeRedis()
	store := NewStore(client, time.Hour)

	sess := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	if err := store.Insert(context.Background(), sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	original := sess.LastHeartbeatAt

	time.Sleep(time.Millisecond)
	updated, err := store.Touch(context.Background(), sess.SessionID, nil)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !updated.LastHeartbeatAt.After(original) {
		t.Fatalf("expected heartbeat to advance")
	}

	reloaded, err := store.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reloaded.LastHeartbeatAt.After(original) {
		t.Fatalf("expected persisted heartbeat to reflect the touch")
	}
}
