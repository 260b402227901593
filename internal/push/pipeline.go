// Package push implements the Push Pipeline (C8): consumes push tasks,
// resolves online targets, and dispatches to the owning access gateway
// over a pooled gRPC channel, per §4.8. The pool bound/idle-eviction
// policy is grounded on ws/internal/multi/kafka_pool.go's bounded,
// idle-evicting resource-pool shape.
package push

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/hooks"
	"github.com/flare152/flare-im/internal/metrics"
)

// Task is one push-stream entry (§4.4 publishes these to push-tasks).
type Task struct {
	MessageID        string                    `json:"message_id"`
	ConversationID   string                    `json:"conversation_id"`
	ConversationType envelope.ConversationType `json:"conversation_type"`
	SessionID        string                    `json:"session_id,omitempty"`
	UserIDs          []string                  `json:"user_ids,omitempty"`
	RequireOnline    bool                      `json:"require_online"`
	PersistIfOffline bool                      `json:"persist_if_offline"`
	Payload          []byte                    `json:"payload"`
}

// OnlineRecord is what OnlineDirectory returns for one user.
type OnlineRecord struct {
	UserID    string
	GatewayID string
	LastSeen  time.Time
	Devices   []string
	Online    bool
}

// OnlineDirectory resolves current online records, coalescing batch
// lookups (§4.8 step 3).
type OnlineDirectory interface {
	Lookup(ctx context.Context, userIDs []string) (map[string]OnlineRecord, error)
	SubscribedOnline(ctx context.Context, conversationID string) ([]string, error)
}

// PushOutcome mirrors the gateway's per-user outcome vocabulary (§4.8 step 4).
type PushOutcome string

const (
	OutcomeSuccess     PushOutcome = "success"
	OutcomeFailed      PushOutcome = "failed"
	OutcomeUserOffline PushOutcome = "user_offline"
)

// GatewayRouter dispatches one push request to a named gateway instance.
type GatewayRouter interface {
	RoutePushMessage(ctx context.Context, gatewayID string, userIDs []string, payload []byte) (map[string]PushOutcome, error)
}

// DLQSink records a task that exhausted retries or was hook-rejected.
type DLQSink interface {
	Send(ctx context.Context, task Task, reason string) error
}

// OfflineSink enqueues a user for delayed re-attempt when push finds them
// offline on retry too.
type OfflineSink interface {
	Enqueue(ctx context.Context, task Task, userID string) error
}

// AckPublisher emits push-failure ACKs.
type AckPublisher interface {
	PublishPushFailure(ctx context.Context, messageID, userID, reason string) error
}

// PendingStore tracks in-flight pending-push entries keyed by
// (message_id, user_id), with an expiry used by the ACK monitor sweep.
type PendingStore interface {
	Put(ctx context.Context, messageID, userID string, expiry time.Duration) error
	Clear(ctx context.Context, messageID, userID string) error
}

// RetryPolicy is the exponential-backoff schedule for Failed outcomes
// (§4.8 step 5).
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Config assembles a Pipeline's collaborators.
type Config struct {
	Online    OnlineDirectory
	Gateway   GatewayRouter
	Hooks     *hooks.Dispatcher
	DLQ       DLQSink
	Offline   OfflineSink
	Acks      AckPublisher
	Pending   PendingStore
	AckTimeout time.Duration
	Retry     RetryPolicy
	Metrics   *metrics.Registry
	Logger    zerolog.Logger
}

// Pipeline implements §4.8's per-task algorithm.
type Pipeline struct {
	online  OnlineDirectory
	gateway GatewayRouter
	hooks   *hooks.Dispatcher
	dlq     DLQSink
	offline OfflineSink
	acks    AckPublisher
	pending PendingStore
	ackTimeout time.Duration
	retry   RetryPolicy
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		online: cfg.Online, gateway: cfg.Gateway, hooks: cfg.Hooks,
		dlq: cfg.DLQ, offline: cfg.Offline, acks: cfg.Acks, pending: cfg.Pending,
		ackTimeout: cfg.AckTimeout, retry: cfg.Retry, metrics: cfg.Metrics, logger: cfg.Logger,
	}
}

// Handle processes one push task end-to-end.
func (p *Pipeline) Handle(ctx context.Context, task Task) error {
	targets, ok := p.resolveTargets(ctx, task)
	if !ok {
		p.logger.Warn().Str("message_id", task.MessageID).Msg("push: no target set, dropping")
		return nil
	}
	task.UserIDs = targets

	if rejected := p.runPreSend(ctx, task); rejected {
		return p.dlq.Send(ctx, task, "hook_rejected")
	}

	records, err := p.online.Lookup(ctx, task.UserIDs)
	if err != nil {
		return err
	}

	byGateway := map[string][]string{}
	for _, uid := range task.UserIDs {
		rec, ok := records[uid]
		if !ok || !rec.Online {
			p.handleOffline(ctx, task, uid, false)
			continue
		}
		byGateway[rec.GatewayID] = append(byGateway[rec.GatewayID], uid)
	}

	for gatewayID, userIDs := range byGateway {
		p.dispatch(ctx, task, gatewayID, userIDs, 0)
	}
	return nil
}

// resolveTargets implements §4.8 step 1.
func (p *Pipeline) resolveTargets(ctx context.Context, task Task) ([]string, bool) {
	if len(task.UserIDs) > 0 {
		return task.UserIDs, true
	}
	isGroupOrRoom := task.ConversationType == envelope.ConversationGroup || task.ConversationType == envelope.ConversationChatroom
	if isGroupOrRoom && task.SessionID != "" {
		users, err := p.online.SubscribedOnline(ctx, task.ConversationID)
		if err != nil {
			return nil, false
		}
		return users, len(users) > 0
	}
	return nil, false
}

func (p *Pipeline) runPreSend(ctx context.Context, task Task) bool {
	if p.hooks == nil {
		return false
	}
	draft := &hooks.MessageDraft{MessageID: task.MessageID, ConversationID: task.ConversationID, Payload: task.Payload}
	hctx := &hooks.Context{ConversationType: string(task.ConversationType)}
	res := p.hooks.RunPreSend(ctx, hctx, draft)
	return res.Decision == hooks.DecisionReject
}

func (p *Pipeline) dispatch(ctx context.Context, task Task, gatewayID string, userIDs []string, attempt int) {
	callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	outcomes, err := p.gateway.RoutePushMessage(callCtx, gatewayID, userIDs, task.Payload)
	if err != nil {
		p.retryOrDLQ(ctx, task, userIDs, attempt)
		return
	}
	for _, uid := range userIDs {
		outcome := outcomes[uid]
		p.metrics.PushAttempts.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case OutcomeSuccess:
			_ = p.pending.Put(ctx, task.MessageID, uid, p.ackTimeout)
			p.metrics.PendingPushGauge.Inc()
		case OutcomeUserOffline:
			p.handleOffline(ctx, task, uid, true)
		default:
			p.retryOrDLQ(ctx, task, []string{uid}, attempt)
		}
	}
}

func (p *Pipeline) retryOrDLQ(ctx context.Context, task Task, userIDs []string, attempt int) {
	if attempt >= p.retry.MaxAttempts {
		p.metrics.PushDLQ.Inc()
		for _, uid := range userIDs {
			sub := task
			sub.UserIDs = []string{uid}
			_ = p.dlq.Send(ctx, sub, "retries_exhausted")
		}
		return
	}
	p.metrics.PushRetries.Inc()
	time.AfterFunc(p.retry.delay(attempt), func() {
		for gatewayID, grouped := range p.regroupByGateway(ctx, userIDs) {
			p.dispatch(context.Background(), task, gatewayID, grouped, attempt+1)
		}
	})
}

func (p *Pipeline) regroupByGateway(ctx context.Context, userIDs []string) map[string][]string {
	records, err := p.online.Lookup(ctx, userIDs)
	out := map[string][]string{}
	if err != nil {
		return out
	}
	for _, uid := range userIDs {
		if rec, ok := records[uid]; ok && rec.Online {
			out[rec.GatewayID] = append(out[rec.GatewayID], uid)
		}
	}
	return out
}

// handleOffline implements §4.8 step 5's UserOffline branch: a single
// re-query retry, then enqueue-and-fail.
func (p *Pipeline) handleOffline(ctx context.Context, task Task, userID string, alreadyRetried bool) {
	if !alreadyRetried {
		records, err := p.online.Lookup(ctx, []string{userID})
		if err == nil {
			if rec, ok := records[userID]; ok && rec.Online {
				p.dispatch(ctx, task, rec.GatewayID, []string{userID}, 0)
				return
			}
		}
	}
	_ = p.offline.Enqueue(ctx, task, userID)
	_ = p.acks.PublishPushFailure(ctx, task.MessageID, userID, "user_offline")
}

// HandleClientAck clears a pending entry (§4.8 step 6). It publishes no
// client_ack delivery ack; AckPublisher has no method for one.
func (p *Pipeline) HandleClientAck(ctx context.Context, messageID, userID string) error {
	p.metrics.PendingPushGauge.Dec()
	return p.pending.Clear(ctx, messageID, userID)
}
