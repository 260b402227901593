package gateway

import (
	"context"
	"errors"
	"testing"
)

type fakeHeartbeatToucher struct {
	touched []string
	err     error
}

func (f *fakeHeartbeatToucher) TouchHeartbeat(ctx context.Context, sessionID string) error {
	f.touched = append(f.touched, sessionID)
	return f.err
}

func TestSessionAdapterTouchDelegatesToStore(t *testing.T) {
	store := &fakeHeartbeatToucher{}
	a := NewSessionAdapter(store)

	if err := a.Touch(context.Background(), "s1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if len(store.touched) != 1 || store.touched[0] != "s1" {
		t.Fatalf("expected delegated touch for s1, got %v", store.touched)
	}
}

func TestSessionAdapterTouchPropagatesError(t *testing.T) {
	store := &fakeHeartbeatToucher{err: errors.New("store unavailable")}
	a := NewSessionAdapter(store)

	if err := a.Touch(context.Background(), "s1"); err == nil {
		t.Fatalf("expected propagated error")
	}
}
