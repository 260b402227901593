// Command orchestrator runs the Message Orchestrator (C4) as a standalone
// gRPC service, following the teacher's config -> logger -> construct ->
// serve -> signal-wait -> shutdown shape (ws/main.go).
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flare152/flare-im/internal/config"
	"github.com/flare152/flare-im/internal/conversation"
	"github.com/flare152/flare-im/internal/hooks"
	"github.com/flare152/flare-im/internal/logging"
	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/orchestrator"
	"github.com/flare152/flare-im/internal/seq"
	"github.com/flare152/flare-im/internal/streams"
	"github.com/flare152/flare-im/internal/wal"
)

type envConfig struct {
	Addr              string `env:"ORCHESTRATOR_ADDR" envDefault:":9091"`
	RedisAddr         string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	KafkaBrokers      string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	StorageTopic      string `env:"STORAGE_TOPIC" envDefault:"storage-messages"`
	PushTasksTopic    string `env:"PUSH_TASKS_TOPIC" envDefault:"push-tasks"`
	ConversationAddr  string `env:"CONVERSATION_ADDR" envDefault:"localhost:9095"`
	DefaultTenant     string `env:"DEFAULT_TENANT" envDefault:""`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"json"`
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

func main() {
	var cfg envConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("orchestrator", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	reg := metrics.NewRegistry("orchestrator")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	seqAllocator := seq.New(redisClient, logger, reg.SeqDegradedTotal.Inc)
	walStore := wal.New(redisClient, logger)

	storageProducer, err := streams.NewProducer(streams.ProducerConfig{Brokers: splitBrokers(cfg.KafkaBrokers), Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator: storage producer")
	}
	pushProducer, err := streams.NewProducer(streams.ProducerConfig{Brokers: splitBrokers(cfg.KafkaBrokers), Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator: push producer")
	}

	convConn, err := grpc.NewClient(cfg.ConversationAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator: dial conversation service")
	}
	convClient := conversation.New(convConn)

	dispatcher := hooks.NewDispatcher()

	orch := orchestrator.New(orchestrator.Config{
		Hooks: dispatcher, Seq: seqAllocator, WAL: walStore,
		Storage: storageProducer, StorageTopic: cfg.StorageTopic,
		PushTasks: pushProducer, PushTasksTopic: cfg.PushTasksTopic,
		Conversations: convClient, DefaultTenant: cfg.DefaultTenant,
		Metrics: reg, Logger: logger,
	})

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator: listen failed")
	}
	srv := grpc.NewServer()
	desc := orchestrator.ServiceDesc(orch)
	srv.RegisterService(&desc, nil)

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("orchestrator: serving")
		if err := srv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("orchestrator: serve failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("orchestrator: shutting down")
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		srv.Stop()
	}
	storageProducer.Close()
	pushProducer.Close()
}
