package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/streams"
	"github.com/flare152/flare-im/internal/wal"
)

// Writer implements the Storage Writer (C5): §4.5's six-step per-message
// algorithm, batched by conversation_id and parallelised across batches.
type Writer struct {
	hot          HotCache
	realtime     MessageStorage
	archive      ArchiveStore
	conversation ConversationStateRepository
	operations   *OperationStore
	media        MediaVerifier
	idempotency  *IdempotencyChecker
	wal          *wal.WAL
	acks         *streams.Producer
	acksTopic    string
	metrics      *metrics.Registry
	logger       zerolog.Logger
}

// Config assembles a Writer's collaborators.
type Config struct {
	Hot          HotCache
	Realtime     MessageStorage
	Archive      ArchiveStore
	Conversation ConversationStateRepository
	Operations   *OperationStore
	Media        MediaVerifier
	Idempotency  *IdempotencyChecker
	WAL          *wal.WAL
	Acks         *streams.Producer
	AcksTopic    string
	Metrics      *metrics.Registry
	Logger       zerolog.Logger
}

// New constructs a Writer.
func New(cfg Config) *Writer {
	return &Writer{
		hot:          cfg.Hot,
		realtime:     cfg.Realtime,
		archive:      cfg.Archive,
		conversation: cfg.Conversation,
		operations:   cfg.Operations,
		media:        cfg.Media,
		idempotency:  cfg.Idempotency,
		wal:          cfg.WAL,
		acks:         cfg.Acks,
		acksTopic:    cfg.AcksTopic,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// HandleBatch is a streams.Handler: groups records by conversation_id and
// processes each group's messages, parallel across groups (§4.5).
func (w *Writer) HandleBatch(ctx context.Context, batch []streams.Record) error {
	byConversation := make(map[string][]*envelope.Message)
	for _, rec := range batch {
		msg, err := envelope.Unmarshal(rec.Value)
		if err != nil {
			w.logger.Error().Err(err).Msg("storage: dropping unreadable envelope")
			continue
		}
		byConversation[msg.ConversationID] = append(byConversation[msg.ConversationID], msg)
	}

	convIDs := make([]string, 0, len(byConversation))
	for convID := range byConversation {
		convIDs = append(convIDs, convID)
	}

	return streams.RunParallelKeys(convIDs, func(convID string) error {
		return w.processConversation(ctx, convID, byConversation[convID])
	})
}

func (w *Writer) processConversation(ctx context.Context, conversationID string, msgs []*envelope.Message) error {
	var lastPersisted *envelope.Message

	for _, msg := range msgs {
		ack, err := w.processOne(ctx, msg)
		if err != nil {
			return err
		}
		if ack.Status == AckStatusPersisted {
			lastPersisted = msg
		}
		if err := w.publishAck(ctx, ack); err != nil {
			return err
		}
	}

	if lastPersisted == nil {
		return nil
	}

	recipients, err := w.nonSenderRecipients(ctx, conversationID, lastPersisted)
	if err != nil {
		return err
	}
	return w.conversation.ApplyLastMessage(ctx, conversationID, lastPersisted.ServerID, recipients)
}

// nonSenderRecipients resolves the participant set to increment unread for,
// degrading to "sender + declared receivers only" when the conversation
// service is unavailable (§4.5 failure handling).
func (w *Writer) nonSenderRecipients(ctx context.Context, conversationID string, msg *envelope.Message) ([]string, error) {
	participants, err := w.conversation.Participants(ctx, conversationID)
	if err != nil {
		w.logger.Warn().Err(err).Str("conversation_id", conversationID).
			Msg("storage: conversation lookup failed, degrading to sender + declared receivers")
		w.metrics.ConversationLookupFallback.Inc()
		return declaredReceivers(msg), nil
	}
	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID != msg.SenderID {
			recipients = append(recipients, p.UserID)
		}
	}
	return recipients, nil
}

func declaredReceivers(msg *envelope.Message) []string {
	if msg.ReceiverID != "" {
		return []string{msg.ReceiverID}
	}
	return msg.ReceiverIDs
}

// processOne implements §4.5 steps 1-5 for a single message and returns the
// ack to publish in step 6.
func (w *Writer) processOne(ctx context.Context, msg *envelope.Message) (PersistenceAck, error) {
	now := time.Now()
	if _, ok := msg.PersistedTs(); !ok {
		msg.SetPersistedTs(now.UnixMilli())
	}

	if dup, err := w.idempotency.CheckAndMark(ctx, msg.TenantID, msg.ClientMsgID, msg.SenderID, msg.ServerID); err != nil {
		return PersistenceAck{}, err
	} else if dup {
		w.metrics.MessagesDeduplicated.Inc()
		_ = w.wal.Remove(ctx, msg.ServerID)
		ingestionTs, _ := msg.IngestionTs()
		persistedTs, _ := msg.PersistedTs()
		return PersistenceAck{
			MessageID:      msg.ServerID,
			ConversationID: msg.ConversationID,
			Status:         AckStatusDeduplicated,
			IngestionTs:    ingestionTs,
			PersistedTs:    persistedTs,
		}, nil
	}

	if w.media != nil {
		if refs, ok := msg.Extra["media_refs"]; ok && refs != "" {
			attachments, err := w.media.VerifyAndInline(ctx, []string{refs})
			if err != nil {
				w.logger.Warn().Err(err).Str("message_id", msg.ServerID).Msg("storage: media verify failed")
			} else if raw, err := json.Marshal(attachments); err == nil {
				msg.Extra["media_attachments"] = string(raw)
			}
		}
	}

	if err := w.hot.Put(ctx, msg); err != nil {
		w.metrics.StorageWriteErrors.WithLabelValues("hot_cache").Inc()
		return PersistenceAck{}, err
	}
	if err := w.realtime.Put(ctx, msg); err != nil {
		w.metrics.StorageWriteErrors.WithLabelValues("realtime").Inc()
		return PersistenceAck{}, err
	}
	if err := w.archive.Put(ctx, msg); err != nil {
		w.metrics.StorageWriteErrors.WithLabelValues("archive").Inc()
		return PersistenceAck{}, err
	}

	if w.operations != nil && msg.MessageType == envelope.MessageOperation {
		for _, op := range msg.Operations {
			if err := w.operations.Apply(ctx, msg.TenantID, msg.ConversationID, op); err != nil {
				w.logger.Error().Err(err).Str("message_id", msg.ServerID).Msg("storage: operation apply failed")
			}
		}
	}

	ingestionTs, _ := msg.IngestionTs()
	persistedTs, _ := msg.PersistedTs()
	_ = w.conversation.AdvanceSyncCursor(ctx, msg.SenderID, ingestionTs)
	if err := w.wal.Remove(ctx, msg.ServerID); err != nil {
		w.logger.Warn().Err(err).Str("message_id", msg.ServerID).Msg("storage: wal removal failed")
	}

	w.metrics.MessagesPersisted.Inc()
	return PersistenceAck{
		MessageID:      msg.ServerID,
		ConversationID: msg.ConversationID,
		Status:         AckStatusPersisted,
		IngestionTs:    ingestionTs,
		PersistedTs:    persistedTs,
	}, nil
}

func (w *Writer) publishAck(ctx context.Context, ack PersistenceAck) error {
	raw, err := jsonMarshalAck(ack)
	if err != nil {
		return err
	}
	return w.acks.Publish(ctx, w.acksTopic, []byte(ack.MessageID), raw, nil)
}
