package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireSession is the on-wire shape persisted at session:{id}, grounded on
// original_source/flare-access-gateway/src/infrastructure/session_store/redis.rs's
// serialize/deserialize pair: heartbeat travels as epoch millis so the Rust
// and Go sides agree on representation without timezone ambiguity.
type wireSession struct {
	SessionID         string             `json:"session_id"`
	UserID            string             `json:"user_id"`
	DeviceID          string             `json:"device_id"`
	DevicePlatform    string             `json:"device_platform"`
	ServerID          string             `json:"route_server"`
	GatewayID         string             `json:"gateway_id"`
	DevicePriority    DevicePriority     `json:"device_priority"`
	TokenVersion      uint64             `json:"token_version"`
	ConnectionQuality *ConnectionQuality `json:"connection_quality,omitempty"`
	CreatedAtMillis   int64              `json:"created_at"`
	LastHeartbeatMillis int64            `json:"last_heartbeat"`
}

func marshalSession(s *Session) ([]byte, error) {
	w := wireSession{
		SessionID:           s.SessionID,
		UserID:              s.UserID,
		DeviceID:            s.DeviceID,
		DevicePlatform:      s.DevicePlatform,
		ServerID:            s.ServerID,
		GatewayID:           s.GatewayID,
		DevicePriority:      s.DevicePriority,
		TokenVersion:        s.TokenVersion,
		ConnectionQuality:   s.ConnectionQuality,
		CreatedAtMillis:     s.CreatedAt.UnixMilli(),
		LastHeartbeatMillis: s.LastHeartbeatAt.UnixMilli(),
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("session codec: marshal: %w", err)
	}
	return raw, nil
}

func unmarshalSession(raw []byte) (*Session, error) {
	var w wireSession
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("session codec: unmarshal: %w", err)
	}
	s := Session{
		SessionID:         w.SessionID,
		UserID:            w.UserID,
		DeviceID:          w.DeviceID,
		DevicePlatform:    w.DevicePlatform,
		ServerID:          w.ServerID,
		GatewayID:         w.GatewayID,
		DevicePriority:    w.DevicePriority,
		TokenVersion:      w.TokenVersion,
		ConnectionQuality: w.ConnectionQuality,
		CreatedAt:         time.UnixMilli(w.CreatedAtMillis),
		LastHeartbeatAt:   time.UnixMilli(w.LastHeartbeatMillis),
	}
	return Reconstitute(s), nil
}
