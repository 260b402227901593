// Package session implements the Online Session Aggregate (C10): one
// logical user's set of per-device Sessions, grounded on
// original_source/flare-signaling/online/src/domain/aggregate/session.rs —
// a rich domain model (behavior and data together) that mutates only
// through methods and emits domain events on every state change.
package session

import (
	"time"

	"github.com/google/uuid"
)

// DevicePriority is the per-session delivery priority (§3.3). It may be
// raised freely but only lowered to Low by dedicated eviction policy.
type DevicePriority string

const (
	PriorityLow       DevicePriority = "low"
	PriorityNormal    DevicePriority = "normal"
	PriorityHigh      DevicePriority = "high"
	PriorityExclusive DevicePriority = "exclusive"
)

var priorityRank = map[DevicePriority]int{
	PriorityLow:       0,
	PriorityNormal:    1,
	PriorityHigh:      2,
	PriorityExclusive: 3,
}

// ConflictStrategy governs what login does when a Session already exists
// for (user, device) and the incoming token_version does not dominate it.
type ConflictStrategy string

const (
	ConflictReject  ConflictStrategy = "reject"
	ConflictReplace ConflictStrategy = "replace"
	ConflictMulti   ConflictStrategy = "multi"
)

// ConnectionQuality is rtt/loss/network-type telemetry reported by a
// device, used to derive the 0-100 quality score.
type ConnectionQuality struct {
	RTTMillis       int64     `json:"rtt_ms"`
	LossFraction    float64   `json:"loss"`
	NetworkType     string    `json:"network_type"`
	LastMeasuredAt  time.Time `json:"last_measured_at"`
}

// qualityLevel buckets a quality reading so refresh_heartbeat / update_quality
// only emit QualityChanged on a bucket transition, not on every jitter.
func (q ConnectionQuality) qualityLevel() int {
	score := q.rawScore()
	switch {
	case score >= 80:
		return 3
	case score >= 60:
		return 2
	case score >= 30:
		return 1
	default:
		return 0
	}
}

func (q ConnectionQuality) rawScore() float64 {
	score := 100.0
	score -= float64(q.RTTMillis) / 10.0
	score -= q.LossFraction * 100.0
	if q.NetworkType == "cellular" {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Score returns the 0-100 quality score, discounting stale readings to
// 0.7x (§4.9).
func (q ConnectionQuality) Score(staleAfter time.Duration, now time.Time) float64 {
	score := q.rawScore()
	if !q.LastMeasuredAt.IsZero() && now.Sub(q.LastMeasuredAt) > staleAfter {
		score *= 0.7
	}
	return score
}

// Session is the aggregate root for one (user_id, device_id) connection
// instance (§3.3).
type Session struct {
	SessionID        string             `json:"session_id"`
	UserID           string             `json:"user_id"`
	DeviceID         string             `json:"device_id"`
	DevicePlatform   string             `json:"device_platform"`
	ServerID         string             `json:"server_id"`
	GatewayID        string             `json:"gateway_id"`
	DevicePriority   DevicePriority     `json:"device_priority"`
	TokenVersion     uint64             `json:"token_version"`
	ConnectionQuality *ConnectionQuality `json:"connection_quality,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	LastHeartbeatAt  time.Time          `json:"last_heartbeat_at"`

	events []Event
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	UserID         string
	DeviceID       string
	DevicePlatform string
	ServerID       string
	GatewayID      string
	DevicePriority DevicePriority
	TokenVersion   uint64
	InitialQuality *ConnectionQuality
}

// Create is the factory method: generates a session id, stamps timestamps,
// and emits SessionCreated (§4.9 login algorithm).
func Create(p CreateParams) *Session {
	now := time.Now()
	s := &Session{
		SessionID:         uuid.NewString(),
		UserID:            p.UserID,
		DeviceID:          p.DeviceID,
		DevicePlatform:    p.DevicePlatform,
		ServerID:          p.ServerID,
		GatewayID:         p.GatewayID,
		DevicePriority:    p.DevicePriority,
		TokenVersion:      p.TokenVersion,
		ConnectionQuality: p.InitialQuality,
		CreatedAt:         now,
		LastHeartbeatAt:   now,
	}
	s.emit(SessionCreated{SessionID: s.SessionID, UserID: s.UserID, DeviceID: s.DeviceID, DevicePriority: s.DevicePriority, TokenVersion: s.TokenVersion, OccurredAt: now})
	return s
}

// Reconstitute rebuilds a Session from persisted state without emitting
// events (repository-only constructor).
func Reconstitute(s Session) *Session {
	out := s
	out.events = nil
	return &out
}

func (s *Session) emit(e Event) { s.events = append(s.events, e) }

// DrainEvents returns and clears the pending domain events.
func (s *Session) DrainEvents() []Event {
	out := s.events
	s.events = nil
	return out
}

// RefreshHeartbeat updates last_heartbeat_at and, if quality is supplied,
// updates connection quality and emits QualityChanged only on a bucket
// transition (§3.3 invariant c, §4.9).
func (s *Session) RefreshHeartbeat(quality *ConnectionQuality) {
	now := time.Now()
	old := s.ConnectionQuality
	s.LastHeartbeatAt = now

	if quality == nil {
		return
	}
	changed := old == nil || old.qualityLevel() != quality.qualityLevel()
	s.ConnectionQuality = quality
	if changed {
		s.emit(QualityChanged{SessionID: s.SessionID, UserID: s.UserID, DeviceID: s.DeviceID, Old: old, New: quality, OccurredAt: now})
	}
}

// Touch refreshes the heartbeat without touching quality.
func (s *Session) Touch() { s.RefreshHeartbeat(nil) }

// IsExpired reports whether the session's heartbeat is older than timeout.
func (s *Session) IsExpired(timeout time.Duration, now time.Time) bool {
	return now.Sub(s.LastHeartbeatAt) > timeout
}

// RaisePriority raises device priority; it is a no-op (never an error) if
// the requested priority does not strictly exceed the current one. Priority
// may only be *lowered* via LowerPriority, called by dedicated eviction
// policy, never by routine update (§3.3 invariant b).
func (s *Session) RaisePriority(p DevicePriority) {
	if priorityRank[p] > priorityRank[s.DevicePriority] {
		old := s.DevicePriority
		s.DevicePriority = p
		s.emit(PriorityChanged{SessionID: s.SessionID, Old: old, New: p, OccurredAt: time.Now()})
	}
}

// LowerPriority forcibly lowers priority to Low; no code in this module
// calls it.
func (s *Session) LowerPriority() {
	if s.DevicePriority == PriorityLow {
		return
	}
	old := s.DevicePriority
	s.DevicePriority = PriorityLow
	s.emit(PriorityChanged{SessionID: s.SessionID, Old: old, New: PriorityLow, OccurredAt: time.Now()})
}

// Kick emits SessionKicked; the caller is responsible for deleting the
// session from the store afterward (§4.9).
func (s *Session) Kick(reason string) {
	s.emit(SessionKicked{SessionID: s.SessionID, UserID: s.UserID, DeviceID: s.DeviceID, Reason: reason, OccurredAt: time.Now()})
}

// DominatesTokenVersion reports whether incoming strictly exceeds the
// session's current token version (§3.3 invariant a).
func (s *Session) DominatesTokenVersion(incoming uint64) bool {
	return incoming > s.TokenVersion
}

// QualityScore returns the session's current 0-100 quality score, or 0 if
// no quality has ever been reported.
func (s *Session) QualityScore(staleAfter time.Duration, now time.Time) float64 {
	if s.ConnectionQuality == nil {
		return 0
	}
	return s.ConnectionQuality.Score(staleAfter, now)
}

// Rank orders sessions for device-selection policies: higher priority
// first, then higher quality score (§4.9).
func Rank(sessions []*Session, staleAfter time.Duration) []*Session {
	now := time.Now()
	out := make([]*Session, len(sessions))
	copy(out, sessions)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && less(out[j], out[j-1], staleAfter, now) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

// less reports whether a should sort before b (a has higher rank).
func less(a, b *Session, staleAfter time.Duration, now time.Time) bool {
	pa, pb := priorityRank[a.DevicePriority], priorityRank[b.DevicePriority]
	if pa != pb {
		return pa > pb
	}
	return a.QualityScore(staleAfter, now) > b.QualityScore(staleAfter, now)
}
