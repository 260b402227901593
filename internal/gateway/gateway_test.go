package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flare152/flare-im/internal/metrics"
	"github.com/flare152/flare-im/internal/router"
)

type fakeConn struct {
	written [][]byte
	err     error
}

func (f *fakeConn) WriteFrame(payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, payload)
	return nil
}

type fakeSignalling struct {
	registered   map[string]string
	deregistered []string
	loggedOut    []string
	registerErr  error
	deregisterErr error
	logoutErr    error
}

func newFakeSignalling() *fakeSignalling {
	return &fakeSignalling{registered: map[string]string{}}
}

func (f *fakeSignalling) RegisterOnline(ctx context.Context, userID, sessionID, connectionID string) error {
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered[sessionID] = connectionID
	return nil
}

func (f *fakeSignalling) DeregisterOnline(ctx context.Context, userID, sessionID string) error {
	if f.deregisterErr != nil {
		return f.deregisterErr
	}
	f.deregistered = append(f.deregistered, sessionID)
	return nil
}

func (f *fakeSignalling) Logout(ctx context.Context, sessionID string) error {
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.loggedOut = append(f.loggedOut, sessionID)
	return nil
}

func (f *fakeSignalling) Publish(ctx context.Context, topic string, payload []byte) error {
	return nil
}

type fakeAckSink struct {
	calls int
	err   error
}

func (f *fakeAckSink) PublishAck(ctx context.Context, messageID, userID, connectionID, gatewayID, ackType, status string, ts int64) error {
	f.calls++
	return f.err
}

type fakeOrchestratorClient struct {
	endpoint string
	payload  []byte
	err      error
}

func (f *fakeOrchestratorClient) Forward(ctx context.Context, endpoint string, payload []byte) error {
	f.endpoint = endpoint
	f.payload = payload
	return f.err
}

type fakeResolver struct {
	candidate router.Candidate
	err       error
}

func (f *fakeResolver) Resolve(ctx context.Context, rc router.RouteContext, tenantPreferredAZ string) (router.Candidate, error) {
	return f.candidate, f.err
}

type fakeHeartbeater struct {
	touched []string
	err     error
}

func (f *fakeHeartbeater) Touch(ctx context.Context, sessionID string) error {
	f.touched = append(f.touched, sessionID)
	return f.err
}

func newTestGateway(t *testing.T, resolver Resolver, signalling SignallingService, acks AckSink, orch OrchestratorClient, hb SessionHeartbeater) *Gateway {
	t.Helper()
	return New(Config{
		GatewayID:    "gw-az1-1",
		Router:       resolver,
		Signalling:   signalling,
		Acks:         acks,
		Orchestrator: orch,
		Sessions:     hb,
		Metrics:      metrics.NewRegistry(fmt.Sprintf("test_%s", t.Name())),
	})
}

func TestOnConnectRegistersEverySessionAndIncrementsGauge(t *testing.T) {
	sig := newFakeSignalling()
	gw := newTestGateway(t, &fakeResolver{}, sig, &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	gw.OnConnect(context.Background(), "u1", "conn-1", &fakeConn{}, []string{"s1", "s2"})

	if len(sig.registered) != 2 {
		t.Fatalf("expected both sessions registered online, got %+v", sig.registered)
	}
	if got := testutil.ToFloat64(gw.metrics.ActiveConnections); got != 1 {
		t.Fatalf("expected active connections gauge at 1, got %v", got)
	}
}

func TestOnConnectToleratesSignallingFailure(t *testing.T) {
	sig := newFakeSignalling()
	sig.registerErr = errors.New("nats unavailable")
	gw := newTestGateway(t, &fakeResolver{}, sig, &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	gw.OnConnect(context.Background(), "u1", "conn-1", &fakeConn{}, []string{"s1"})

	if len(gw.connsByUser["u1"]) != 1 {
		t.Fatalf("expected connection tracked locally even when signalling fails")
	}
}

func TestOnDisconnectKeepsUserOnlineWhileOtherConnectionsRemain(t *testing.T) {
	sig := newFakeSignalling()
	gw := newTestGateway(t, &fakeResolver{}, sig, &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	gw.OnConnect(context.Background(), "u1", "conn-1", &fakeConn{}, []string{"s1"})
	gw.OnConnect(context.Background(), "u1", "conn-2", &fakeConn{}, []string{"s1"})

	gw.OnDisconnect(context.Background(), "u1", "conn-1", []string{"s1"})

	if len(sig.deregistered) != 0 {
		t.Fatalf("expected no deregistration while a second connection remains")
	}
	if len(gw.connsByUser["u1"]) != 1 {
		t.Fatalf("expected one remaining connection entry, got %d", len(gw.connsByUser["u1"]))
	}
}

func TestOnDisconnectDeregistersAndLogsOutOnLastConnection(t *testing.T) {
	sig := newFakeSignalling()
	gw := newTestGateway(t, &fakeResolver{}, sig, &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	gw.OnConnect(context.Background(), "u1", "conn-1", &fakeConn{}, []string{"s1", "s2"})
	gw.OnDisconnect(context.Background(), "u1", "conn-1", []string{"s1", "s2"})

	if len(sig.deregistered) != 2 || len(sig.loggedOut) != 2 {
		t.Fatalf("expected both sessions deregistered and logged out, got %+v / %+v", sig.deregistered, sig.loggedOut)
	}
	if _, ok := gw.connsByUser["u1"]; ok {
		t.Fatalf("expected user entry removed once its last connection disconnects")
	}
}

func TestHandleFrameAckPublishesClientAck(t *testing.T) {
	acks := &fakeAckSink{}
	hb := &fakeHeartbeater{}
	gw := newTestGateway(t, &fakeResolver{}, newFakeSignalling(), acks, &fakeOrchestratorClient{}, hb)

	frame := Frame{Type: FrameAck, MessageID: "m1"}
	if err := gw.HandleFrame(context.Background(), "u1", "s1", "conn-1", frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	if acks.calls != 1 {
		t.Fatalf("expected one ack published, got %d", acks.calls)
	}
	if len(hb.touched) != 1 || hb.touched[0] != "s1" {
		t.Fatalf("expected heartbeat touched for session s1, got %v", hb.touched)
	}
}

func TestHandleFrameSendForwardsToResolvedEndpoint(t *testing.T) {
	resolver := &fakeResolver{candidate: router.Candidate{Endpoint: "10.0.0.5:9000"}}
	orch := &fakeOrchestratorClient{}
	gw := newTestGateway(t, resolver, newFakeSignalling(), &fakeAckSink{}, orch, nil)

	frame := Frame{Type: FrameSend, Payload: []byte("hello")}
	if err := gw.HandleFrame(context.Background(), "u1", "s1", "conn-1", frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	if orch.endpoint != "10.0.0.5:9000" || string(orch.payload) != "hello" {
		t.Fatalf("expected forward to resolved endpoint, got endpoint=%q payload=%q", orch.endpoint, orch.payload)
	}
}

func TestHandleFrameSendWithoutSessionUsesChatroomFallback(t *testing.T) {
	resolver := &fakeResolver{candidate: router.Candidate{Endpoint: "10.0.0.5:9000"}}
	gw := newTestGateway(t, resolver, newFakeSignalling(), &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	frame := Frame{Type: FrameSend, Payload: []byte("hello")}
	if err := gw.HandleFrame(context.Background(), "u1", "", "conn-1", frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
}

func TestHandleFrameSendRouteFailureDoesNotTearDownConnection(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("no candidates")}
	gw := newTestGateway(t, resolver, newFakeSignalling(), &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	frame := Frame{Type: FrameSend, Payload: []byte("hello")}
	if err := gw.HandleFrame(context.Background(), "u1", "s1", "conn-1", frame); err != nil {
		t.Fatalf("expected route failures to be swallowed, got %v", err)
	}
}

func TestHandleFrameOtherDispatchesToConfiguredHandler(t *testing.T) {
	called := false
	gw := New(Config{
		GatewayID:  "gw-az1-1",
		Router:     &fakeResolver{},
		Signalling: newFakeSignalling(),
		Acks:       &fakeAckSink{},
		Orchestrator: &fakeOrchestratorClient{},
		OtherHandler: func(ctx context.Context, userID string, frame Frame) error {
			called = true
			return nil
		},
		Metrics: metrics.NewRegistry(fmt.Sprintf("test_%s", t.Name())),
	})

	frame := Frame{Type: FrameOther}
	if err := gw.HandleFrame(context.Background(), "u1", "", "conn-1", frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	if !called {
		t.Fatalf("expected other-frame handler invoked")
	}
}

func TestHandleFrameOtherWithoutHandlerIsNoop(t *testing.T) {
	gw := newTestGateway(t, &fakeResolver{}, newFakeSignalling(), &fakeAckSink{}, &fakeOrchestratorClient{}, nil)

	frame := Frame{Type: FrameOther}
	if err := gw.HandleFrame(context.Background(), "u1", "", "conn-1", frame); err != nil {
		t.Fatalf("expected no-op when no other handler is configured, got %v", err)
	}
}
