// Package gateway implements the Access Gateway Session Core (C7): the
// long-lived transport-framed connection owner, grounded on
// ws/internal/shared's Client/Server connection model (adapted here from a
// broadcast-fanout trading feed to per-user directed push, per §4.7).
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/router"
)

// FrameType distinguishes the three frame shapes §4.7 branches on.
type FrameType string

const (
	FrameAck  FrameType = "ack"
	FrameSend FrameType = "send"
	FrameOther FrameType = "other"
)

// Frame is one inbound message on a connection.
type Frame struct {
	Type       FrameType
	MessageID  string
	Payload    []byte
	BusinessTag string
}

// Conn is the minimal write surface a transport connection exposes.
type Conn interface {
	WriteFrame(payload []byte) error
}

// SignallingService registers/deregisters online status and handles
// session logout out-of-band (nats.go pub/sub, repurposed from the
// teacher's inter-shard broadcast bus in ws/internal/multi/broadcast.go).
type SignallingService interface {
	RegisterOnline(ctx context.Context, userID, sessionID, connectionID string) error
	DeregisterOnline(ctx context.Context, userID, sessionID string) error
	Logout(ctx context.Context, sessionID string) error
	Publish(ctx context.Context, topic string, payload []byte) error
}

// AckSink receives client-ack and other ack-stream events (§4.7's
// push-ACK stream).
type AckSink interface {
	PublishAck(ctx context.Context, messageID, userID, connectionID, gatewayID, ackType, status string, ts int64) error
}

// OrchestratorClient forwards a Send frame's payload to the resolved
// endpoint.
type OrchestratorClient interface {
	Forward(ctx context.Context, endpoint string, payload []byte) error
}

// Handler processes "other" frames via configured pass-through handlers.
type Handler func(ctx context.Context, userID string, frame Frame) error

// Resolver resolves a route candidate for a send frame, satisfied by either
// an in-process *router.Router or a gRPC client against the standalone
// router service.
type Resolver interface {
	Resolve(ctx context.Context, rc router.RouteContext, tenantPreferredAZ string) (router.Candidate, error)
}

type connectionEntry struct {
	conn         Conn
	connectionID string
	gatewayID    string
}

// Gateway owns local connections and their per-user subscriptions.
type Gateway struct {
	gatewayID   string
	router      Resolver
	signalling  SignallingService
	acks        AckSink
	orchestrator OrchestratorClient
	otherHandler Handler
	sessions    SessionHeartbeater
	metrics     *metrics.Registry
	logger      zerolog.Logger

	mu            sync.RWMutex
	connsByUser   map[string][]*connectionEntry
	subscriptions map[string]map[string]struct{} // userID -> topic set
}

// SessionHeartbeater refreshes a session's heartbeat on any received frame
// or explicit touch (§4.7's refresh triggers).
type SessionHeartbeater interface {
	Touch(ctx context.Context, sessionID string) error
}

// Config assembles a Gateway's collaborators.
type Config struct {
	GatewayID    string
	Router       Resolver
	Signalling   SignallingService
	Acks         AckSink
	Orchestrator OrchestratorClient
	OtherHandler Handler
	Sessions     SessionHeartbeater
	Metrics      *metrics.Registry
	Logger       zerolog.Logger
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		gatewayID:    cfg.GatewayID,
		router:       cfg.Router,
		signalling:   cfg.Signalling,
		acks:         cfg.Acks,
		orchestrator: cfg.Orchestrator,
		otherHandler: cfg.OtherHandler,
		sessions:     cfg.Sessions,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		connsByUser:  map[string][]*connectionEntry{},
		subscriptions: map[string]map[string]struct{}{},
	}
}

// OnConnect attaches a new connection id to every session owned by userID
// and registers online status (§4.7 connection lifecycle).
func (g *Gateway) OnConnect(ctx context.Context, userID, connectionID string, conn Conn, sessionIDs []string) {
	g.mu.Lock()
	g.connsByUser[userID] = append(g.connsByUser[userID], &connectionEntry{conn: conn, connectionID: connectionID, gatewayID: g.gatewayID})
	g.mu.Unlock()

	for _, sid := range sessionIDs {
		if err := g.signalling.RegisterOnline(ctx, userID, sid, connectionID); err != nil {
			g.logger.Warn().Err(err).Str("user_id", userID).Str("session_id", sid).
				Msg("gateway: signalling register failed, local cache still updated")
		}
	}
	g.metrics.ActiveConnections.Inc()
}

// OnDisconnect clears this connection and, if it was the user's last one,
// deregisters online status and logs out every owned session.
func (g *Gateway) OnDisconnect(ctx context.Context, userID, connectionID string, sessionIDs []string) {
	g.mu.Lock()
	remaining := removeConnection(g.connsByUser[userID], connectionID)
	if len(remaining) == 0 {
		delete(g.connsByUser, userID)
	} else {
		g.connsByUser[userID] = remaining
	}
	lastConn := len(remaining) == 0
	g.mu.Unlock()

	g.metrics.ActiveConnections.Dec()
	if !lastConn {
		return
	}
	for _, sid := range sessionIDs {
		if err := g.signalling.DeregisterOnline(ctx, userID, sid); err != nil {
			g.logger.Warn().Err(err).Str("user_id", userID).Msg("gateway: deregister failed")
		}
		if err := g.signalling.Logout(ctx, sid); err != nil {
			g.logger.Warn().Err(err).Str("session_id", sid).Msg("gateway: logout signal failed")
		}
	}
}

func removeConnection(entries []*connectionEntry, connectionID string) []*connectionEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.connectionID != connectionID {
			out = append(out, e)
		}
	}
	return out
}

// HandleFrame dispatches one inbound frame per §4.7.
func (g *Gateway) HandleFrame(ctx context.Context, userID, sessionID, connectionID string, frame Frame) error {
	defer g.touchHeartbeat(ctx, sessionID)
	g.metrics.FramesReceived.WithLabelValues(string(frame.Type)).Inc()

	switch frame.Type {
	case FrameAck:
		return g.acks.PublishAck(ctx, frame.MessageID, userID, connectionID, g.gatewayID, "client_ack", "success", time.Now().UnixMilli())
	case FrameSend:
		return g.handleSend(ctx, userID, sessionID, frame)
	default:
		if g.otherHandler != nil {
			return g.otherHandler(ctx, userID, frame)
		}
		return nil
	}
}

func (g *Gateway) handleSend(ctx context.Context, userID, sessionID string, frame Frame) error {
	if sessionID == "" {
		sessionID = fmt.Sprintf("chatroom:%s", g.gatewayID)
	}
	candidate, err := g.router.Resolve(ctx, routeContextFor(sessionID, userID, frame.BusinessTag), "")
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Msg("gateway: route resolution failed")
		return nil // route failures log and count but never tear down the connection
	}
	if err := g.orchestrator.Forward(ctx, candidate.Endpoint, frame.Payload); err != nil {
		g.logger.Error().Err(err).Str("endpoint", candidate.Endpoint).Msg("gateway: forward failed")
	}
	return nil
}

func (g *Gateway) touchHeartbeat(ctx context.Context, sessionID string) {
	if sessionID == "" || g.sessions == nil {
		return
	}
	if err := g.sessions.Touch(ctx, sessionID); err != nil {
		g.logger.Warn().Err(err).Str("session_id", sessionID).Msg("gateway: heartbeat touch failed")
	}
}
