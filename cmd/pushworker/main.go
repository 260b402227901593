// Command pushworker runs the Push Pipeline (C8) as a franz-go consumer
// group over push-tasks, following the teacher's config -> logger ->
// construct -> run -> signal-wait -> shutdown shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/flare152/flare-im/internal/config"
	"github.com/flare152/flare-im/internal/hooks"
	"github.com/flare152/flare-im/internal/logging"
	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/push"
	"github.com/flare152/flare-im/internal/streams"
)

// clientAckRecord mirrors gateway.ackRecord's wire shape; the push worker
// only cares about message/user identity and whether it was a client ack.
type clientAckRecord struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	AckType   string `json:"ack_type"`
	Status    string `json:"status"`
}

func parseClientAck(rec streams.Record) (messageID, userID string, ok bool) {
	var r clientAckRecord
	if err := json.Unmarshal(rec.Value, &r); err != nil {
		return "", "", false
	}
	if r.AckType != "client_ack" || r.Status != "success" {
		return "", "", false
	}
	return r.MessageID, r.UserID, true
}

type envConfig struct {
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	KafkaBrokers     string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	ConsumerGroup    string        `env:"PUSH_CONSUMER_GROUP" envDefault:"push-worker"`
	PushTasksTopic   string        `env:"PUSH_TASKS_TOPIC" envDefault:"push-tasks"`
	PushAcksTopic    string        `env:"PUSH_ACKS_TOPIC" envDefault:"push-acks"`
	DLQTopic         string        `env:"PUSH_DLQ_TOPIC" envDefault:"push-dlq"`
	OfflineTopic     string        `env:"PUSH_OFFLINE_TOPIC" envDefault:"push-offline"`
	GatewayAddresses string        `env:"GATEWAY_ADDRESSES" envDefault:""` // "gw-1=host:port,gw-2=host:port"
	MaxChannels      int           `env:"PUSH_MAX_CHANNELS" envDefault:"64"`
	ChannelIdle      time.Duration `env:"PUSH_CHANNEL_IDLE" envDefault:"5m"`
	AckTimeout       time.Duration `env:"PUSH_ACK_TIMEOUT" envDefault:"10s"`
	RetryInitial     time.Duration `env:"PUSH_RETRY_INITIAL" envDefault:"500ms"`
	RetryMultiplier  float64       `env:"PUSH_RETRY_MULTIPLIER" envDefault:"2.0"`
	RetryMaxDelay    time.Duration `env:"PUSH_RETRY_MAX_DELAY" envDefault:"30s"`
	RetryMaxAttempts int           `env:"PUSH_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	AckSweepInterval time.Duration `env:"PUSH_ACK_SWEEP_INTERVAL" envDefault:"5s"`
	AckSweepBatch    int64         `env:"PUSH_ACK_SWEEP_BATCH" envDefault:"100"`
	AckMaxRetries    int           `env:"PUSH_ACK_MAX_RETRIES" envDefault:"3"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"json"`
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseAddresses(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

// taskCache retains the most recent task per message id so the
// ACK monitor's shorter retry ladder can redispatch without re-reading the
// original task off the topic.
type taskCache struct {
	mu   sync.RWMutex
	byID map[string]push.Task
}

func newTaskCache() *taskCache { return &taskCache{byID: map[string]push.Task{}} }

func (c *taskCache) store(task push.Task) {
	c.mu.Lock()
	c.byID[task.MessageID] = task
	c.mu.Unlock()
}

func (c *taskCache) get(messageID string) (push.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[messageID]
	return t, ok
}

func main() {
	var cfg envConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "pushworker: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("push_worker", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	reg := metrics.NewRegistry("push_worker")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	acksProducer, err := streams.NewProducer(streams.ProducerConfig{Brokers: splitBrokers(cfg.KafkaBrokers), Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("pushworker: acks producer")
	}
	sinksProducer, err := streams.NewProducer(streams.ProducerConfig{Brokers: splitBrokers(cfg.KafkaBrokers), Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("pushworker: sinks producer")
	}

	sinks := push.NewStreamSinks(sinksProducer, cfg.DLQTopic, cfg.OfflineTopic, cfg.PushAcksTopic)
	addressBook := push.NewStaticAddressBook(parseAddresses(cfg.GatewayAddresses))
	gatewayPool := push.NewChannelPool(push.ChannelPoolConfig{
		Addresses: addressBook, MaxChannels: cfg.MaxChannels, IdleTimeout: cfg.ChannelIdle,
		DeploymentMode: "distributed", Metrics: reg, Logger: logger,
	})
	online := push.NewRedisOnlineDirectory(redisClient)
	pending := push.NewRedisPendingStore(redisClient)
	dispatcher := hooks.NewDispatcher()

	cache := newTaskCache()

	pipeline := push.New(push.Config{
		Online: online, Gateway: gatewayPool, Hooks: dispatcher,
		DLQ: sinks, Offline: sinks, Acks: sinks, Pending: pending,
		AckTimeout: cfg.AckTimeout,
		Retry: push.RetryPolicy{
			InitialDelay: cfg.RetryInitial, Multiplier: cfg.RetryMultiplier,
			MaxDelay: cfg.RetryMaxDelay, MaxAttempts: cfg.RetryMaxAttempts,
		},
		Metrics: reg, Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())

	monitor := push.NewAckMonitor(push.AckMonitorConfig{
		Pending: pending,
		Redispatch: func(ctx context.Context, messageID, userID string) error {
			task, ok := cache.get(messageID)
			if !ok {
				return fmt.Errorf("pushworker: no cached task for redispatch: %s", messageID)
			}
			task.UserIDs = []string{userID}
			return pipeline.Handle(ctx, task)
		},
		Acks: sinks,
		Retry: push.AckRetryPolicy{
			InitialDelay: cfg.RetryInitial, Multiplier: cfg.RetryMultiplier,
			MaxDelay: cfg.RetryMaxDelay, MaxRetries: cfg.AckMaxRetries,
		},
		SweepInterval: cfg.AckSweepInterval, BatchSize: cfg.AckSweepBatch,
		Metrics: reg, Logger: logger,
	})
	go monitor.Run(ctx)

	tasksConsumer, err := streams.NewConsumer(streams.ConsumerConfig{
		Brokers: splitBrokers(cfg.KafkaBrokers), ConsumerGroup: cfg.ConsumerGroup,
		Topics: []string{cfg.PushTasksTopic}, Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("pushworker: create tasks consumer")
	}

	go func() {
		handler := func(ctx context.Context, batch []streams.Record) error {
			for _, rec := range batch {
				task, err := push.UnmarshalTask(rec.Value)
				if err != nil {
					logger.Error().Err(err).Msg("pushworker: dropping unreadable task")
					continue
				}
				cache.store(task)
				if err := pipeline.Handle(ctx, task); err != nil {
					logger.Error().Err(err).Str("message_id", task.MessageID).Msg("pushworker: handle failed")
				}
			}
			return nil
		}
		if err := tasksConsumer.Run(ctx, handler); err != nil {
			logger.Error().Err(err).Msg("pushworker: tasks consumer run failed")
		}
	}()

	acksConsumer, err := streams.NewConsumer(streams.ConsumerConfig{
		Brokers: splitBrokers(cfg.KafkaBrokers), ConsumerGroup: cfg.ConsumerGroup + "-acks",
		Topics: []string{cfg.PushAcksTopic}, Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("pushworker: create acks consumer")
	}
	go func() {
		handler := func(ctx context.Context, batch []streams.Record) error {
			for _, rec := range batch {
				messageID, userID, ok := parseClientAck(rec)
				if !ok {
					continue
				}
				if err := pipeline.HandleClientAck(ctx, messageID, userID); err != nil {
					logger.Warn().Err(err).Str("message_id", messageID).Msg("pushworker: client ack clear failed")
				}
			}
			return nil
		}
		if err := acksConsumer.Run(ctx, handler); err != nil {
			logger.Error().Err(err).Msg("pushworker: acks consumer run failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("pushworker: shutting down")
	cancel()
	tasksConsumer.Close()
	acksConsumer.Close()
	acksProducer.Close()
	sinksProducer.Close()
}
