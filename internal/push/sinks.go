package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flare152/flare-im/internal/streams"
)

// StreamSinks publishes DLQ, offline-queue, and ack events to their stream
// topics (§6: push-offline, push-dlq, push-acks), sharing one producer
// across all three.
type StreamSinks struct {
	producer    *streams.Producer
	dlqTopic    string
	offlineTopic string
	acksTopic   string
}

// NewStreamSinks constructs a StreamSinks.
func NewStreamSinks(producer *streams.Producer, dlqTopic, offlineTopic, acksTopic string) *StreamSinks {
	return &StreamSinks{producer: producer, dlqTopic: dlqTopic, offlineTopic: offlineTopic, acksTopic: acksTopic}
}

type dlqRecord struct {
	Task   Task   `json:"task"`
	Reason string `json:"reason"`
}

// Send implements DLQSink.
func (s *StreamSinks) Send(ctx context.Context, task Task, reason string) error {
	raw, err := json.Marshal(dlqRecord{Task: task, Reason: reason})
	if err != nil {
		return fmt.Errorf("push: marshal dlq record: %w", err)
	}
	return s.producer.Publish(ctx, s.dlqTopic, []byte(task.MessageID), raw, nil)
}

type offlineRecord struct {
	Task   Task   `json:"task"`
	UserID string `json:"user_id"`
}

// Enqueue implements OfflineSink.
func (s *StreamSinks) Enqueue(ctx context.Context, task Task, userID string) error {
	raw, err := json.Marshal(offlineRecord{Task: task, UserID: userID})
	if err != nil {
		return fmt.Errorf("push: marshal offline record: %w", err)
	}
	return s.producer.Publish(ctx, s.offlineTopic, []byte(userID), raw, nil)
}

// ackRecord matches §6's compact ACK record shape.
type ackRecord struct {
	MessageID    string `json:"message_id"`
	UserID       string `json:"user_id"`
	AckType      string `json:"ack_type"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	TimestampMs  int64  `json:"timestamp"`
}

// PublishPushFailure implements AckPublisher.
func (s *StreamSinks) PublishPushFailure(ctx context.Context, messageID, userID, reason string) error {
	raw, err := json.Marshal(ackRecord{
		MessageID: messageID, UserID: userID, AckType: "push_failure", Status: "failed",
		Reason: reason, TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("push: marshal ack record: %w", err)
	}
	return s.producer.Publish(ctx, s.acksTopic, []byte(messageID), raw, nil)
}
