package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flare152/flare-im/internal/streams"
)

// StreamAckSink publishes client-ack events to the push-ACK stream (§4.7,
// §6's compact ack record).
type StreamAckSink struct {
	producer *streams.Producer
	topic    string
}

// NewStreamAckSink constructs a StreamAckSink.
func NewStreamAckSink(producer *streams.Producer, topic string) *StreamAckSink {
	return &StreamAckSink{producer: producer, topic: topic}
}

type ackRecord struct {
	MessageID    string `json:"message_id"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	GatewayID    string `json:"gateway_id"`
	AckType      string `json:"ack_type"`
	Status       string `json:"status"`
	TimestampMs  int64  `json:"timestamp"`
}

// PublishAck implements AckSink.
func (s *StreamAckSink) PublishAck(ctx context.Context, messageID, userID, connectionID, gatewayID, ackType, status string, ts int64) error {
	raw, err := json.Marshal(ackRecord{
		MessageID: messageID, UserID: userID, ConnectionID: connectionID,
		GatewayID: gatewayID, AckType: ackType, Status: status, TimestampMs: ts,
	})
	if err != nil {
		return fmt.Errorf("gateway: marshal ack record: %w", err)
	}
	return s.producer.Publish(ctx, s.topic, []byte(messageID), raw, nil)
}
