package session

import "time"

// Event is the marker interface for domain events emitted on Session
// mutation (§3.3).
type Event interface {
	EventName() string
}

type SessionCreated struct {
	SessionID      string
	UserID         string
	DeviceID       string
	DevicePriority DevicePriority
	TokenVersion   uint64
	OccurredAt     time.Time
}

func (SessionCreated) EventName() string { return "SessionCreated" }

type HeartbeatRefreshed struct {
	SessionID  string
	OccurredAt time.Time
}

func (HeartbeatRefreshed) EventName() string { return "HeartbeatRefreshed" }

type QualityChanged struct {
	SessionID  string
	UserID     string
	DeviceID   string
	Old        *ConnectionQuality
	New        *ConnectionQuality
	OccurredAt time.Time
}

func (QualityChanged) EventName() string { return "QualityChanged" }

type PriorityChanged struct {
	SessionID  string
	Old        DevicePriority
	New        DevicePriority
	OccurredAt time.Time
}

func (PriorityChanged) EventName() string { return "PriorityChanged" }

type SessionKicked struct {
	SessionID  string
	UserID     string
	DeviceID   string
	Reason     string
	OccurredAt time.Time
}

func (SessionKicked) EventName() string { return "SessionKicked" }
