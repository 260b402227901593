// Package streams wraps franz-go for the producers and consumers shared by
// the orchestrator, storage writer, and push pipeline, grounded on
// ws/internal/shared/kafka's client-construction and logging conventions.
package streams

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Brokers []string
	Logger  zerolog.Logger
}

// Producer publishes keyed records to a stream (storage-messages,
// push-tasks, push-notifications, push-offline, push-dlq, push-acks, per §6).
type Producer struct {
	client *kgo.Client
	logger zerolog.Logger
}

// NewProducer constructs a Producer.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("streams: at least one broker is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("streams: create producer: %w", err)
	}
	return &Producer{client: client, logger: cfg.Logger}, nil
}

// Publish synchronously produces one record and waits for the broker ack.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	results := p.client.ProduceSync(ctx, rec)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("streams: publish %s: %w", topic, err)
	}
	return nil
}

// PublishAsync fires a record without waiting for the ack, logging failures.
func (p *Producer) PublishAsync(topic string, key, value []byte) {
	p.client.Produce(context.Background(), &kgo.Record{Topic: topic, Key: key, Value: value}, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn().Err(err).Str("topic", topic).Msg("streams: async publish failed")
		}
	})
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
