package gateway

import "context"

// heartbeatToucher is the minimal shape *session.Store exposes for
// refreshing a session's heartbeat.
type heartbeatToucher interface {
	TouchHeartbeat(ctx context.Context, sessionID string) error
}

// SessionAdapter satisfies SessionHeartbeater by delegating to a
// session.Store, whose own Touch method carries an extra connection-quality
// argument gateway's frame path doesn't have on hand.
type SessionAdapter struct {
	store heartbeatToucher
}

// NewSessionAdapter wraps a session.Store (or any equivalent) for gateway's
// narrower heartbeat-only needs.
func NewSessionAdapter(store heartbeatToucher) *SessionAdapter {
	return &SessionAdapter{store: store}
}

// Touch implements SessionHeartbeater.
func (a *SessionAdapter) Touch(ctx context.Context, sessionID string) error {
	return a.store.TouchHeartbeat(ctx, sessionID)
}
