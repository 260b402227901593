package session

import (
	"testing"
	"time"
)

func TestCreateEmitsSessionCreated(t *testing.T) {
	s := Create(CreateParams{UserID: "u1", DeviceID: "d1", DevicePriority: PriorityNormal, TokenVersion: 1})
	events := s.DrainEvents()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event from Create, got %d", len(events))
	}
	if _, ok := events[0].(SessionCreated); !ok {
		t.Fatalf("expected SessionCreated, got %T", events[0])
	}
	if s.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}
}

func TestDominatesTokenVersion(t *testing.T) {
	s := Create(CreateParams{UserID: "u1", DeviceID: "d1", TokenVersion: 5})
	if s.DominatesTokenVersion(5) {
		t.Fatalf("equal token version must not dominate")
	}
	if s.DominatesTokenVersion(4) {
		t.Fatalf("lower token version must not dominate")
	}
	if !s.DominatesTokenVersion(6) {
		t.Fatalf("strictly higher token version must dominate")
	}
}

func TestRaisePriorityOnlyMovesUp(t *testing.T) {
	s := Create(CreateParams{UserID: "u1", DeviceID: "d1", DevicePriority: PriorityNormal})
	s.DrainEvents()

	s.RaisePriority(PriorityLow)
	if s.DevicePriority != PriorityNormal {
		t.Fatalf("expected raise to lower priority to be a no-op, got %v", s.DevicePriority)
	}
	if len(s.DrainEvents()) != 0 {
		t.Fatalf("expected no event emitted for a no-op raise")
	}

	s.RaisePriority(PriorityHigh)
	if s.DevicePriority != PriorityHigh {
		t.Fatalf("expected priority raised to high, got %v", s.DevicePriority)
	}
	if len(s.DrainEvents()) != 1 {
		t.Fatalf("expected exactly one PriorityChanged event")
	}
}

func TestLowerPriorityForcesLow(t *testing.T) {
	s := Create(CreateParams{UserID: "u1", DeviceID: "d1", DevicePriority: PriorityExclusive})
	s.DrainEvents()

	s.LowerPriority()
	if s.DevicePriority != PriorityLow {
		t.Fatalf("expected forced lower to Low, got %v", s.DevicePriority)
	}

	s.LowerPriority()
	if len(s.DrainEvents()) != 1 {
		t.Fatalf("expected lowering an already-Low session to emit no additional event")
	}
}

func TestRefreshHeartbeatOnlyEmitsOnBucketTransition(t *testing.T) {
	s := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	s.DrainEvents()

	good := &ConnectionQuality{RTTMillis: 10, LossFraction: 0}
	s.RefreshHeartbeat(good)
	if len(s.DrainEvents()) != 1 {
		t.Fatalf("expected first quality reading to emit QualityChanged")
	}

	slightlyDifferent := &ConnectionQuality{RTTMillis: 15, LossFraction: 0}
	s.RefreshHeartbeat(slightlyDifferent)
	if len(s.DrainEvents()) != 0 {
		t.Fatalf("expected jitter within the same quality bucket to emit nothing")
	}

	bad := &ConnectionQuality{RTTMillis: 900, LossFraction: 0.5}
	s.RefreshHeartbeat(bad)
	if len(s.DrainEvents()) != 1 {
		t.Fatalf("expected a bucket transition to emit exactly one QualityChanged")
	}
}

func TestQualityScoreStaleDiscount(t *testing.T) {
	now := time.Now()
	q := ConnectionQuality{RTTMillis: 0, LossFraction: 0, LastMeasuredAt: now.Add(-time.Hour)}
	fresh := q.Score(time.Minute, now.Add(-time.Hour))
	stale := q.Score(time.Minute, now)
	if stale >= fresh {
		t.Fatalf("expected stale reading to be discounted below fresh score: fresh=%f stale=%f", fresh, stale)
	}
}

func TestIsExpired(t *testing.T) {
	s := Create(CreateParams{UserID: "u1", DeviceID: "d1"})
	if s.IsExpired(time.Minute, time.Now()) {
		t.Fatalf("freshly created session must not be expired")
	}
	if !s.IsExpired(time.Minute, time.Now().Add(2*time.Minute)) {
		t.Fatalf("expected session to be expired after timeout elapses")
	}
}

func TestRankOrdersByPriorityThenQuality(t *testing.T) {
	low := Create(CreateParams{UserID: "u1", DeviceID: "d1", DevicePriority: PriorityLow})
	high := Create(CreateParams{UserID: "u1", DeviceID: "d2", DevicePriority: PriorityHigh})
	normalGood := Create(CreateParams{UserID: "u1", DeviceID: "d3", DevicePriority: PriorityNormal})
	normalGood.ConnectionQuality = &ConnectionQuality{RTTMillis: 0, LossFraction: 0}
	normalBad := Create(CreateParams{UserID: "u1", DeviceID: "d4", DevicePriority: PriorityNormal})
	normalBad.ConnectionQuality = &ConnectionQuality{RTTMillis: 900, LossFraction: 0.9}

	ranked := Rank([]*Session{low, normalBad, high, normalGood}, time.Minute)
	if ranked[0] != high {
		t.Fatalf("expected highest priority session first, got %+v", ranked[0])
	}
	if ranked[1] != normalGood || ranked[2] != normalBad {
		t.Fatalf("expected same-priority sessions ordered by quality score")
	}
	if ranked[3] != low {
		t.Fatalf("expected lowest priority session last")
	}
}
