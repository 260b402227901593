package push

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/metrics"
)

func TestAckMonitorRedispatchesEntryBelowMaxRetries(t *testing.T) {
	client := newFakeRedisClient()
	pending := NewRedisPendingStore(client)
	if err := pending.Put(context.Background(), "m1", "u1", -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}

	var redispatched bool
	acks := &fakeAcks{}
	monitor := NewAckMonitor(AckMonitorConfig{
		Pending: pending,
		Redispatch: func(ctx context.Context, messageID, userID string) error {
			redispatched = true
			return nil
		},
		Acks:    acks,
		Retry:   AckRetryPolicy{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second, MaxRetries: 3},
		Metrics: metrics.NewRegistry(fmt.Sprintf("test_%s", t.Name())),
		Logger:  zerolog.Nop(),
	})

	monitor.sweepOnce(context.Background())
	if !redispatched {
		t.Fatalf("expected entry below max retries to be redispatched")
	}
	if len(acks.failed) != 0 {
		t.Fatalf("expected no final failure ack before retries exhausted")
	}
}

func TestAckMonitorGivesUpAtMaxRetries(t *testing.T) {
	client := newFakeRedisClient()
	pending := NewRedisPendingStore(client)
	if err := pending.Put(context.Background(), "m1", "u1", -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := pending.Reschedule(context.Background(), "m1", "u1", -time.Second, 3); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	var redispatched bool
	acks := &fakeAcks{}
	monitor := NewAckMonitor(AckMonitorConfig{
		Pending: pending,
		Redispatch: func(ctx context.Context, messageID, userID string) error {
			redispatched = true
			return nil
		},
		Acks:    acks,
		Retry:   AckRetryPolicy{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second, MaxRetries: 3},
		Metrics: metrics.NewRegistry(fmt.Sprintf("test_%s", t.Name())),
		Logger:  zerolog.Nop(),
	})

	monitor.sweepOnce(context.Background())
	if redispatched {
		t.Fatalf("expected no redispatch once attempts reach max retries")
	}
	if len(acks.failed) != 1 || acks.failed[0] != "u1" {
		t.Fatalf("expected a final failure ack published, got %v", acks.failed)
	}

	due, err := pending.Due(context.Background(), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected entry cleared after giving up, got %+v", due)
	}
}
