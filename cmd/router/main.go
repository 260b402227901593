// Command router runs the Router/Dispatcher (C6) as a standalone gRPC
// service, following the teacher's config -> logger -> construct -> serve
// -> signal-wait -> shutdown shape (ws/main.go).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/config"
	"github.com/flare152/flare-im/internal/logging"
	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/router"
)

type envConfig struct {
	Addr          string  `env:"ROUTER_ADDR" envDefault:":9090"`
	RedisAddr     string  `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	ShardCount    uint32  `env:"ROUTER_SHARD_COUNT" envDefault:"16"`
	DefaultAZ     string  `env:"ROUTER_DEFAULT_AZ" envDefault:"az-default"`
	Policy        string  `env:"ROUTER_POLICY" envDefault:"round_robin"`
	SessionRate   float64 `env:"ROUTER_SESSION_QPS" envDefault:"50"`
	SessionBurst  int     `env:"ROUTER_SESSION_BURST" envDefault:"100"`
	GroupRate     float64 `env:"ROUTER_GROUP_QPS" envDefault:"20"`
	GroupBurst    int     `env:"ROUTER_GROUP_BURST" envDefault:"40"`
	MaxCPUPercent float64 `env:"ROUTER_MAX_CPU_PERCENT" envDefault:"90"`
	LogLevel      string  `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string  `env:"LOG_FORMAT" envDefault:"json"`
}

func main() {
	var cfg envConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "router: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("router", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	reg := metrics.NewRegistry("router")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flowControl := router.NewTokenBucketFlowController(ctx, router.FlowControlConfig{
		SessionRate: cfg.SessionRate, SessionBurst: cfg.SessionBurst,
		GroupRate: cfg.GroupRate, GroupBurst: cfg.GroupBurst,
		MaxCPUPercent: cfg.MaxCPUPercent,
	})
	candidates := router.NewRedisCandidateSource(redisClient)

	r := router.New(router.Config{
		FlowControl: flowControl, Candidates: candidates,
		ShardCount: cfg.ShardCount, DefaultAZ: cfg.DefaultAZ,
		DefaultPolicy: router.Policy(cfg.Policy), Metrics: reg, Logger: logger,
	})

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("router: listen failed")
	}
	srv := grpc.NewServer()
	desc := router.ServiceDesc(r)
	srv.RegisterService(&desc, nil)

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("router: serving")
		if err := srv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("router: serve failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("router: shutting down")
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
}
