// Package envelope defines the Message wire/storage form (§3.1 of the
// specification): a tenant-scoped, per-conversation ordered chat message
// with a tagged-union content payload, a timeline embedded into an
// extensible extra map, and the flags/visibility/operations bookkeeping a
// multi-device IM backbone needs.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// ConversationType enumerates the three conversation shapes the router,
// orchestrator, and push pipeline all branch on.
type ConversationType string

const (
	ConversationOneToOne  ConversationType = "one_to_one"
	ConversationGroup     ConversationType = "group"
	ConversationChatroom  ConversationType = "chatroom"
)

// MessageType mirrors original_source's MessageType enum (detect_message_type
// in flare-message-orchestrator/src/application/hooks.rs), plus the two
// control kinds the spec calls out explicitly: Operation and Notification.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageRichText     MessageType = "rich_text"
	MessageImage        MessageType = "image"
	MessageVideo        MessageType = "video"
	MessageAudio        MessageType = "audio"
	MessageFile         MessageType = "file"
	MessageSticker      MessageType = "sticker"
	MessageLocation     MessageType = "location"
	MessageCard         MessageType = "card"
	MessageCommand      MessageType = "command"
	MessageEvent        MessageType = "event"
	MessageSystem       MessageType = "system"
	MessageOperation    MessageType = "operation"
	MessageNotification MessageType = "notification"
	MessageCustom       MessageType = "custom"
)

// Visibility is the per-user visibility state for a message (§3.1 Flags).
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
	VisibilityDeleted Visibility = "deleted"
)

// OperationKind enumerates the operation types recorded against a target
// message, per §9's chosen schema (MessageType::Operation /
// message_operation::OperationData), grounded on
// original_source/flare-message-orchestrator/.../operation_message_builder.rs.
type OperationKind string

const (
	OperationEdit   OperationKind = "edit"
	OperationRecall OperationKind = "recall"
	OperationReact  OperationKind = "react"
	OperationPin    OperationKind = "pin"
	OperationMark   OperationKind = "mark"
	OperationRead   OperationKind = "read"
)

// Operation is an applied edit/recall/reaction/pin/mark/read against
// another message, referenced purely by id (§9 "Cycles": plain ids, never
// owning references).
type Operation struct {
	Kind       OperationKind  `json:"kind"`
	TargetID   string         `json:"target_id"`
	ActorID    string         `json:"actor_id"`
	AppliedTs  int64          `json:"applied_ts"`
	Data       map[string]any `json:"data,omitempty"`
}

// Content is the tagged-union payload. Exactly one of the typed fields is
// populated, selected by Type; Custom carries anything else. Structured
// (non-text) payloads marshal as base64 inside Payload (§8 round-trip law).
type Content struct {
	Type    MessageType    `json:"type"`
	Text    string         `json:"text,omitempty"`
	Payload []byte         `json:"payload,omitempty"` // raw bytes for structured content
	Custom  map[string]any `json:"custom,omitempty"`
}

// EncodeStructured base64-encodes an arbitrary structured payload into
// Content.Payload and records its logical type.
func EncodeStructured(msgType MessageType, v any) (Content, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Content{}, fmt.Errorf("envelope: encode structured content: %w", err)
	}
	return Content{Type: msgType, Payload: raw}, nil
}

// DecodeStructured decodes Content.Payload into v. It is the inverse of
// EncodeStructured and is exercised by the §8 round-trip law.
func (c Content) DecodeStructured(v any) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("envelope: no structured payload to decode")
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("envelope: decode structured content: %w", err)
	}
	return nil
}

// Base64Payload is the stored base64 form referenced by §8 ("Structured
// content encoded to the stored base64 form decodes back to an equal
// structured content"). It is used by storage rows whose column is a plain
// text/JSONB field rather than raw bytes.
func (c Content) Base64Payload() string {
	return base64.StdEncoding.EncodeToString(c.Payload)
}

// DecodeBase64Payload reconstructs Content.Payload from its stored base64
// form.
func DecodeBase64Payload(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// Message is the canonical envelope (§3.1). Timeline fields are surfaced as
// typed accessors but are actually carried inside Extra (see the timeline
// accessors below),
// so that systems treating the envelope opaquely (pure pass-through
// brokers) round-trip them for free.
type Message struct {
	ServerID        string            `json:"server_id"`
	ClientMsgID     string            `json:"client_msg_id,omitempty"`
	ConversationID  string            `json:"conversation_id"`
	Seq             uint64            `json:"seq"`
	TenantID        string            `json:"tenant_id"`
	SenderID        string            `json:"sender_id"`
	ReceiverID      string            `json:"receiver_id,omitempty"`
	ReceiverIDs     []string          `json:"receiver_ids,omitempty"`
	ConversationType ConversationType `json:"conversation_type"`

	MessageType MessageType `json:"message_type"`
	Content     Content     `json:"content"`

	IsRecalled       bool                  `json:"is_recalled"`
	IsBurnAfterRead  bool                  `json:"is_burn_after_read"`
	BurnAfterSeconds int64                 `json:"burn_after_seconds,omitempty"`
	Visibility       map[string]Visibility `json:"visibility,omitempty"`
	ReadBy           []string              `json:"read_by,omitempty"`
	Operations       []Operation           `json:"operations,omitempty"`

	// Headers and Metadata are the two hook-writable maps a PreSend/Recall
	// hook may attach to or rewrite on a draft (§4.3); kept distinct from
	// Extra so hook output never collides with the reserved timeline keys
	// Extra carries.
	Headers  map[string]string `json:"headers,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// NewMessage constructs a Message with an initialized Extra map so timeline
// setters never need a nil check at the call site.
func NewMessage() *Message {
	return &Message{Extra: map[string]string{}}
}

// timelineKeys names the extra-map fields the codec treats specially.
const (
	keyEmitTs      = "emit_ts"
	keyIngestionTs = "ingestion_ts"
	keyPersistedTs = "persisted_ts"
	keyDispatchedTs = "dispatched_ts"
	keyAckedTs     = "acked_ts"
	keyReadTs      = "read_ts"
	keyDeletedTs   = "deleted_ts"
	keySeqDegraded = "seq_degraded"
)

func (m *Message) setTs(key string, ts int64) {
	if m.Extra == nil {
		m.Extra = map[string]string{}
	}
	m.Extra[key] = strconv.FormatInt(ts, 10)
}

func (m *Message) getTs(key string) (int64, bool) {
	raw, ok := m.Extra[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (m *Message) SetEmitTs(ts int64)       { m.setTs(keyEmitTs, ts) }
func (m *Message) SetIngestionTs(ts int64)  { m.setTs(keyIngestionTs, ts) }
func (m *Message) SetPersistedTs(ts int64)  { m.setTs(keyPersistedTs, ts) }
func (m *Message) SetDispatchedTs(ts int64) { m.setTs(keyDispatchedTs, ts) }
func (m *Message) SetAckedTs(ts int64)      { m.setTs(keyAckedTs, ts) }
func (m *Message) SetReadTs(ts int64)       { m.setTs(keyReadTs, ts) }
func (m *Message) SetDeletedTs(ts int64)    { m.setTs(keyDeletedTs, ts) }

func (m *Message) EmitTs() (int64, bool)       { return m.getTs(keyEmitTs) }
func (m *Message) IngestionTs() (int64, bool)  { return m.getTs(keyIngestionTs) }
func (m *Message) PersistedTs() (int64, bool)  { return m.getTs(keyPersistedTs) }
func (m *Message) DispatchedTs() (int64, bool) { return m.getTs(keyDispatchedTs) }
func (m *Message) AckedTs() (int64, bool)      { return m.getTs(keyAckedTs) }
func (m *Message) ReadTs() (int64, bool)       { return m.getTs(keyReadTs) }
func (m *Message) DeletedTs() (int64, bool)    { return m.getTs(keyDeletedTs) }

// SetDegraded marks this envelope's seq as having been allocated via the
// sequence allocator's degraded fallback (§4.1, §9 open question resolved:
// the envelope does carry a degraded flag, in extra).
func (m *Message) SetDegraded(degraded bool) {
	if m.Extra == nil {
		m.Extra = map[string]string{}
	}
	if degraded {
		m.Extra[keySeqDegraded] = "true"
	} else {
		delete(m.Extra, keySeqDegraded)
	}
}

// Degraded reports whether Seq was allocated in degraded mode.
func (m *Message) Degraded() bool {
	return m.Extra[keySeqDegraded] == "true"
}

// Marshal serializes the envelope to its JSON wire/storage form.
func Marshal(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal is the inverse of Marshal; round-tripping through it must
// reproduce every non-default field (§8 round-trip law), which holds here
// because all timeline state lives in the plain Extra map rather than in
// struct fields with custom (lossy) marshaling.
func Unmarshal(data []byte) (*Message, error) {
	m := NewMessage()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	if m.Extra == nil {
		m.Extra = map[string]string{}
	}
	return m, nil
}
