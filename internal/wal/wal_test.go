package wal

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/envelope"
)

type fakeStore struct {
	hash map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{hash: map[string]string{}} }

func (f *fakeStore) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	field := values[0].(string)
	value := values[1].(string)
	f.hash[field] = value
	cmd.SetVal(1)
	return cmd
}

func (f *fakeStore) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, field := range fields {
		delete(f.hash, field)
	}
	cmd.SetVal(int64(len(fields)))
	return cmd
}

func (f *fakeStore) HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd {
	cmd := redis.NewStringStringMapCmd(ctx)
	out := make(map[string]string, len(f.hash))
	for k, v := range f.hash {
		out[k] = v
	}
	cmd.SetVal(out)
	return cmd
}

func TestAppendThenIterPending(t *testing.T) {
	store := newFakeStore()
	w := New(store, zerolog.Nop())

	msg := envelope.NewMessage()
	msg.ServerID = "srv-1"
	msg.ConversationID = "conv-1"

	if err := w.Append(context.Background(), msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	pending, err := w.IterPending(context.Background())
	if err != nil {
		t.Fatalf("iter pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ServerID != "srv-1" {
		t.Fatalf("expected one pending entry for srv-1, got %+v", pending)
	}
}

func TestRemoveClearsEntry(t *testing.T) {
	store := newFakeStore()
	w := New(store, zerolog.Nop())

	msg := envelope.NewMessage()
	msg.ServerID = "srv-1"
	if err := w.Append(context.Background(), msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Remove(context.Background(), "srv-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	pending, err := w.IterPending(context.Background())
	if err != nil {
		t.Fatalf("iter pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending entries after remove, got %d", len(pending))
	}
}

func TestIterPendingSkipsUnreadableEntries(t *testing.T) {
	store := newFakeStore()
	store.hash["bad-id"] = "not json"
	w := New(store, zerolog.Nop())

	pending, err := w.IterPending(context.Background())
	if err != nil {
		t.Fatalf("iter pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected malformed entry to be dropped, got %d entries", len(pending))
	}
}
