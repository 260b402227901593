// Command gateway runs the Access Gateway Session Core (C7): an HTTP/
// websocket frontend plus a standalone AccessGatewayService gRPC surface for
// push workers, following the teacher's config -> logger -> construct ->
// serve -> signal-wait -> shutdown shape (ws/main.go, ws/server.go).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flare152/flare-im/internal/config"
	"github.com/flare152/flare-im/internal/gateway"
	"github.com/flare152/flare-im/internal/logging"
	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/natsbus"
	"github.com/flare152/flare-im/internal/router"
	"github.com/flare152/flare-im/internal/session"
	"github.com/flare152/flare-im/internal/streams"
)

type envConfig struct {
	GatewayID    string        `env:"GATEWAY_ID" envDefault:"gw-default-1"`
	HTTPAddr     string        `env:"GATEWAY_HTTP_ADDR" envDefault:":8080"`
	RPCAddr      string        `env:"GATEWAY_RPC_ADDR" envDefault:":9097"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	NatsURL      string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	RouterAddr   string        `env:"ROUTER_ADDR" envDefault:"localhost:9090"`
	AcksTopic    string        `env:"GATEWAY_ACKS_TOPIC" envDefault:"push-acks"`
	KafkaBrokers string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"LOG_FORMAT" envDefault:"json"`
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

// staticAuth trusts caller-supplied identity headers; real deployments sit
// this behind an authenticating reverse proxy that sets these headers after
// verifying the client's token.
func staticAuth(r *http.Request) (string, []string, error) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return "", nil, gateway.ErrUnauthorized
	}
	sessionID := r.Header.Get("X-Session-Id")
	if sessionID == "" {
		return userID, nil, nil
	}
	return userID, []string{sessionID}, nil
}

func main() {
	var cfg envConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("gateway", logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	reg := metrics.NewRegistry("gateway")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	sessionStore := session.NewStore(redisClient, cfg.SessionTTL)

	bus, err := natsbus.Connect(natsbus.Config{URL: cfg.NatsURL, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: nats connect failed")
	}

	routerConn, err := grpc.NewClient(cfg.RouterAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: dial router service")
	}
	routerClient := router.NewClient(routerConn)

	acksProducer, err := streams.NewProducer(streams.ProducerConfig{Brokers: splitBrokers(cfg.KafkaBrokers), Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: acks producer")
	}
	acksSink := gateway.NewStreamAckSink(acksProducer, cfg.AcksTopic)

	g := gateway.New(gateway.Config{
		GatewayID:    cfg.GatewayID,
		Router:       routerClient,
		Signalling:   bus,
		Acks:         acksSink,
		Orchestrator: gateway.NewGRPCOrchestratorClient(),
		Sessions:     gateway.NewSessionAdapter(sessionStore),
		Metrics:      reg,
		Logger:       logger,
	})

	transport := gateway.NewTransport(g, staticAuth, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      transport.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("gateway: serving websocket")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("gateway: http serve failed")
		}
	}()

	lis, err := net.Listen("tcp", cfg.RPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: rpc listen failed")
	}
	rpcServer := grpc.NewServer()
	desc := gateway.ServiceDesc(g)
	rpcServer.RegisterService(&desc, nil)

	go func() {
		logger.Info().Str("addr", cfg.RPCAddr).Msg("gateway: serving rpc")
		if err := rpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gateway: rpc serve failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("gateway: shutting down")
	stopped := make(chan struct{})
	go func() {
		rpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		rpcServer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	acksProducer.Close()
	bus.Close()
}
