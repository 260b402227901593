package streams

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is the subset of a consumed message handlers need.
type Record struct {
	Topic string
	Key   []byte
	Value []byte
}

// Handler processes one batch of records from a single poll; an error fails
// the whole batch so the stream replays it (§4.5 "any write error fails the
// batch, which is retried from the stream").
type Handler func(ctx context.Context, batch []Record) error

// ConsumerConfig configures a Consumer, grounded on
// ws/internal/shared/kafka.ConsumerConfig.
type ConsumerConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        []string
	Logger        zerolog.Logger
}

// Consumer wraps a franz-go client in a poll-and-dispatch loop.
type Consumer struct {
	client *kgo.Client
	logger zerolog.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("streams: at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("streams: consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("streams: at least one topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", assigned).Msg("streams: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", revoked).Msg("streams: partitions revoked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("streams: create consumer: %w", err)
	}
	return &Consumer{client: client, logger: cfg.Logger}, nil
}

// Run polls and dispatches batches to handler until ctx is cancelled. On
// success it commits offsets for the processed batch; on handler error it
// does not commit, so the next poll redelivers the same records.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error().Err(e.Err).Str("topic", e.Topic).Msg("streams: fetch error")
			}
			continue
		}

		batch := make([]Record, 0, fetches.NumRecords())
		fetches.EachRecord(func(r *kgo.Record) {
			batch = append(batch, Record{Topic: r.Topic, Key: r.Key, Value: r.Value})
		})
		if len(batch) == 0 {
			continue
		}

		if err := handler(ctx, batch); err != nil {
			c.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("streams: batch failed, not committing")
			continue
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.Error().Err(err).Msg("streams: commit failed")
		}
	}
}

// Close releases the underlying client.
func (c *Consumer) Close() {
	c.client.Close()
}

// GroupBy partitions records by a key function, preserving the batch's
// relative order within each group.
func GroupBy(records []Record, keyFn func(Record) string) map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range records {
		k := keyFn(r)
		out[k] = append(out[k], r)
	}
	return out
}

// RunParallelKeys runs fn once per key concurrently and returns the first
// error, cancelling nothing else in flight (matching §4.5 "parallelised
// across batches"). Callers group their own per-key payload externally;
// this only needs the key set to fan out over.
func RunParallelKeys(keys []string, fn func(key string) error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(keys))
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if err := fn(key); err != nil {
				errCh <- err
			}
		}(key)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
