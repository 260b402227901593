// Package storage implements the Storage Writer (C5): an idempotent
// consumer over the storage-messages stream that fans each envelope out to
// tiered stores, updates conversation state, and emits a persistence ACK,
// per §4.5. Grounded on ws/internal/shared/kafka's consumer shape for the
// stream side and original_source's
// flare-storage/writer/src/infrastructure/persistence/operation_store.rs
// for the supplemented operation tables.
package storage

import (
	"context"

	"github.com/flare152/flare-im/internal/envelope"
)

// HotCache is the first write tier: a low-latency cache fronting the
// realtime store (e.g. the most recent N messages per conversation).
type HotCache interface {
	Put(ctx context.Context, msg *envelope.Message) error
}

// MessageStorage is the realtime, queryable message store.
type MessageStorage interface {
	Put(ctx context.Context, msg *envelope.Message) error
}

// ArchiveStore is the cold, durable message store.
type ArchiveStore interface {
	Put(ctx context.Context, msg *envelope.Message) error
}

// Participant is one member of a conversation, used to compute unread
// increments for non-sender participants (§4.5 step 4).
type Participant struct {
	UserID string
}

// ConversationStateRepository looks up participants and applies the
// last-message/unread update. Lookups are expected to be asynchronously
// cached by the caller's implementation; failures degrade to "update
// sender + declared receivers only" per §4.5.
type ConversationStateRepository interface {
	Participants(ctx context.Context, conversationID string) ([]Participant, error)
	ApplyLastMessage(ctx context.Context, conversationID, messageID string, nonSenderUserIDs []string) error
	AdvanceSyncCursor(ctx context.Context, userID string, cursor int64) error
}

// MediaVerifier inlines a media_attachments blob for envelopes carrying
// media_refs; a gRPC JSON-codec client satisfies this in production,
// grounded on original_source's flare-media/src/interface/grpc/handler.rs.
type MediaVerifier interface {
	VerifyAndInline(ctx context.Context, mediaRefs []string) (map[string]interface{}, error)
}

// PersistenceAck is published to push-acks/storage-acks after a message (or
// a detected duplicate) is handled (§4.5 step 6).
type PersistenceAck struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"` // "persisted" | "deduplicated"
	IngestionTs    int64  `json:"ingestion_ts"`
	PersistedTs    int64  `json:"persisted_ts"`
}

const (
	AckStatusPersisted    = "persisted"
	AckStatusDeduplicated = "deduplicated"
)
