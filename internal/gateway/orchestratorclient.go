package gateway

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flare152/flare-im/internal/rpcjson"
)

// GRPCOrchestratorClient forwards Send frames to the router-resolved
// orchestrator endpoint over a JSON-codec gRPC call, caching one
// connection per endpoint for the lifetime of the process (the endpoint
// set here is the small, stable set of orchestrator replicas, unlike
// push's per-gateway_id fanout, so no bounded eviction is needed).
type GRPCOrchestratorClient struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCOrchestratorClient constructs a GRPCOrchestratorClient.
func NewGRPCOrchestratorClient() *GRPCOrchestratorClient {
	return &GRPCOrchestratorClient{conns: map[string]*grpc.ClientConn{}}
}

type storeRequest struct {
	Envelope []byte `json:"envelope"`
}

// storeResponse mirrors SendEnvelopeAck (§6), the orchestrator's Store
// response shape.
type storeResponse struct {
	MessageID    string `json:"message_id,omitempty"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	TraceID      string `json:"trace_id"`
}

// Forward implements OrchestratorClient.
func (c *GRPCOrchestratorClient) Forward(ctx context.Context, endpoint string, payload []byte) error {
	conn, err := c.connFor(endpoint)
	if err != nil {
		return err
	}
	var resp storeResponse
	req := storeRequest{Envelope: payload}
	if err := rpcjson.Invoke(ctx, conn, "/flare.im.v1.MessageService/Store", &req, &resp); err != nil {
		return fmt.Errorf("gateway: forward to orchestrator: %w", err)
	}
	if resp.Status == "error" {
		return fmt.Errorf("gateway: forward to orchestrator: %s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	return nil
}

func (c *GRPCOrchestratorClient) connFor(endpoint string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("gateway: dial orchestrator %s: %w", endpoint, err)
	}
	c.conns[endpoint] = conn
	return conn, nil
}
