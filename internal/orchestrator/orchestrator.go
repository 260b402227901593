// Package orchestrator implements the Message Orchestrator (C4): the
// eleven-step ingest algorithm that turns a store request into an
// allocated, WAL-buffered, dual-published message, wiring the Sequence
// Allocator (C1), WAL (C2), and Hook Dispatcher (C3) together. Grounded on
// flare-message-orchestrator/src/application/*.rs for the step ordering and
// on the teacher's handler-composition style for the request/response
// shape.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/apierr"
	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/hooks"
	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/seq"
	"github.com/flare152/flare-im/internal/streams"
	"github.com/flare152/flare-im/internal/wal"
)

// ConversationEnsurer is the fire-and-forget "ensure conversation exists"
// call site (§4.4 step 9), a gRPC JSON-codec client in production.
type ConversationEnsurer interface {
	EnsureConversation(ctx context.Context, conversationID string, participantIDs []string) error
}

// Request is the ingest contract's input (§4.4).
type Request struct {
	ConversationID   string
	ConversationType envelope.ConversationType
	Message          *envelope.Message
	Sync             bool
	TenantID         string
	SessionID        string
	SenderID         string
	Tags             map[string]string
}

// Config assembles an Orchestrator's collaborators.
type Config struct {
	Hooks          *hooks.Dispatcher
	Seq            *seq.Allocator
	WAL            *wal.WAL
	Storage        *streams.Producer
	StorageTopic   string
	PushTasks      *streams.Producer
	PushTasksTopic string
	Conversations  ConversationEnsurer
	DefaultTenant  string
	Metrics        *metrics.Registry
	Logger         zerolog.Logger
}

// Orchestrator implements the ingest contract store(request) -> message_id.
type Orchestrator struct {
	hooks          *hooks.Dispatcher
	seq            *seq.Allocator
	wal            *wal.WAL
	storage        *streams.Producer
	storageTopic   string
	pushTasks      *streams.Producer
	pushTasksTopic string
	conversations  ConversationEnsurer
	defaultTenant  string
	metrics        *metrics.Registry
	logger         zerolog.Logger
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		hooks: cfg.Hooks, seq: cfg.Seq, wal: cfg.WAL,
		storage: cfg.Storage, storageTopic: cfg.StorageTopic,
		pushTasks: cfg.PushTasks, pushTasksTopic: cfg.PushTasksTopic,
		conversations: cfg.Conversations, defaultTenant: cfg.DefaultTenant,
		metrics: cfg.Metrics, logger: cfg.Logger,
	}
}

// profile classifies a message per §4.4 step 5: normal requires
// persistence and WAL buffering; notification does not.
type profile struct {
	needsWAL         bool
	publishStorage   bool
	requireOnline    bool
	persistIfOffline bool
}

func classify(msg *envelope.Message) profile {
	if msg.MessageType == envelope.MessageNotification {
		return profile{needsWAL: false, publishStorage: false, requireOnline: true, persistIfOffline: false}
	}
	return profile{needsWAL: true, publishStorage: true, requireOnline: false, persistIfOffline: true}
}

// Store implements the eleven-step algorithm (§4.4).
func (o *Orchestrator) Store(ctx context.Context, req Request) (serverID string, err error) {
	if req.Message == nil {
		return "", apierr.New(apierr.KindInvalidParameter, "", fmt.Errorf("orchestrator: missing message"))
	}

	// 1. Extract tenant, fall back to configured default; reject if still missing.
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = o.defaultTenant
	}
	if tenantID == "" {
		return "", apierr.New(apierr.KindInvalidParameter, "", fmt.Errorf("orchestrator: missing tenant"))
	}

	// 2. Build hook context and initial draft.
	traceID := uuid.NewString()
	hctx := &hooks.Context{
		TenantID: tenantID, SessionID: req.SessionID, SenderID: req.SenderID,
		MessageType: string(req.Message.MessageType), ConversationType: string(req.ConversationType),
		Tags: req.Tags, TraceID: traceID,
	}
	draft := &hooks.MessageDraft{
		MessageID:      req.Message.ServerID,
		ConversationID: req.ConversationID,
		Metadata:       req.Tags,
		Payload:        req.Message.Content.Payload,
	}

	// 3. PreSend chain.
	result := o.hooks.RunPreSend(ctx, hctx, draft)
	if result.Decision == hooks.DecisionReject {
		o.metrics.PreSendRejected.Inc()
		return "", apierr.New(apierr.KindOperationNotSupported, traceID,
			fmt.Errorf("orchestrator: presend rejected: %s", result.Reason))
	}

	// 4. Apply mutated draft back onto the message; updated wins where
	// non-empty, including a hook-rerouted conversation id, before step 5
	// settles the conversation id that the rest of submission uses.
	applyDraft(req.Message, draft)

	// 5. Prepare submission.
	conversationID := draft.ConversationID
	if conversationID == "" {
		return "", apierr.New(apierr.KindInvalidParameter, traceID, fmt.Errorf("orchestrator: missing required fields"))
	}
	msg := req.Message
	msg.ConversationID = conversationID
	msg.TenantID = tenantID
	msg.ConversationType = req.ConversationType
	if msg.ServerID == "" {
		msg.ServerID = uuid.NewString()
	}
	prof := classify(msg)

	// 6. Allocate seq.
	allocated, degraded := o.seq.Allocate(ctx, tenantID, conversationID)
	if degraded {
		msg.SetDegraded(true)
	}
	msg.Seq = allocated
	msg.SetEmitTs(time.Now().UnixMilli())

	// 7. WAL append if the profile requires durability.
	if prof.needsWAL {
		if err := o.wal.Append(ctx, msg); err != nil {
			o.metrics.WALAppendFailures.Inc()
			return "", apierr.New(apierr.KindDatabaseError, traceID, fmt.Errorf("orchestrator: wal append: %w", err))
		}
	}

	// 8. Publish storage payload and/or push request per profile.
	if err := o.publish(ctx, msg, req, prof); err != nil {
		return "", apierr.New(apierr.KindServiceUnavailable, traceID, err)
	}

	// 9. Fire-and-forget conversation-existence ensure.
	o.ensureConversationAsync(conversationID, declaredParticipants(msg))

	// 10. PostSend chain; require_success failures propagate.
	post := o.hooks.RunPostSend(ctx, hctx, draft)
	if post.Err != nil || post.Decision == hooks.DecisionReject {
		o.metrics.PostSendFailed.Inc()
		return "", apierr.New(apierr.KindOperationNotSupported, traceID,
			fmt.Errorf("orchestrator: postsend failed: %s", post.Reason))
	}

	o.metrics.MessagesIngested.Inc()
	return msg.ServerID, nil
}

func applyDraft(msg *envelope.Message, draft *hooks.MessageDraft) {
	if len(draft.Payload) > 0 {
		msg.Content.Payload = draft.Payload
	}
	if draft.MessageID != "" {
		msg.ServerID = draft.MessageID
	}
	if draft.ConversationID != "" {
		msg.ConversationID = draft.ConversationID
	}
	if len(draft.Headers) > 0 {
		msg.Headers = mergeStringMaps(msg.Headers, draft.Headers)
	}
	if len(draft.Metadata) > 0 {
		msg.Metadata = mergeStringMaps(msg.Metadata, draft.Metadata)
	}
}

func mergeStringMaps(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func declaredParticipants(msg *envelope.Message) []string {
	participants := []string{msg.SenderID}
	if msg.ReceiverID != "" {
		participants = append(participants, msg.ReceiverID)
	}
	participants = append(participants, msg.ReceiverIDs...)
	return participants
}

// publish implements §4.4 step 8: normal profile publishes storage and push
// payloads in parallel, both must succeed; notification profile publishes
// push only.
func (o *Orchestrator) publish(ctx context.Context, msg *envelope.Message, req Request, prof profile) error {
	pushPayload, err := buildPushTask(msg, req, prof)
	if err != nil {
		return fmt.Errorf("orchestrator: build push task: %w", err)
	}

	if !prof.publishStorage {
		if err := o.pushTasks.Publish(ctx, o.pushTasksTopic, []byte(msg.ConversationID), pushPayload, nil); err != nil {
			o.metrics.PublishErrors.WithLabelValues("push-tasks").Inc()
			return fmt.Errorf("orchestrator: publish push task: %w", err)
		}
		return nil
	}

	storagePayload, err := envelope.Marshal(msg)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal envelope: %w", err)
	}

	var storageErr, pushErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := o.storage.Publish(ctx, o.storageTopic, []byte(msg.ConversationID), storagePayload, nil); err != nil {
			o.metrics.PublishErrors.WithLabelValues("storage-messages").Inc()
			storageErr = err
		}
	}()
	go func() {
		defer wg.Done()
		if err := o.pushTasks.Publish(ctx, o.pushTasksTopic, []byte(msg.ConversationID), pushPayload, nil); err != nil {
			o.metrics.PublishErrors.WithLabelValues("push-tasks").Inc()
			pushErr = err
		}
	}()
	wg.Wait()

	if storageErr != nil {
		return fmt.Errorf("orchestrator: publish storage: %w", storageErr)
	}
	if pushErr != nil {
		return fmt.Errorf("orchestrator: publish push: %w", pushErr)
	}
	return nil
}

func (o *Orchestrator) ensureConversationAsync(conversationID string, participantIDs []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.conversations.EnsureConversation(ctx, conversationID, participantIDs); err != nil {
			o.logger.Warn().Err(err).Str("conversation_id", conversationID).
				Msg("orchestrator: ensure conversation exists failed")
		}
	}()
}
