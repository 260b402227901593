package router

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/apierr"
	"github.com/flare152/flare-im/internal/rpcjson"
)

type resolveRequest struct {
	SVID              string `json:"svid"`
	SessionID         string `json:"session_id,omitempty"`
	UserID            string `json:"user_id,omitempty"`
	TenantID          string `json:"tenant_id,omitempty"`
	ClientGeo         string `json:"client_geo,omitempty"`
	LoginGateway      string `json:"login_gateway,omitempty"`
	TraceID           string `json:"trace_id,omitempty"`
	TenantPreferredAZ string `json:"tenant_preferred_az,omitempty"`
}

// routeMetadata is RouteMetadata (§6): the routing side-channel data a
// caller gets back alongside (or instead of) a routed endpoint.
type routeMetadata struct {
	TraceID      string `json:"trace_id"`
	ShardID      uint32 `json:"shard_id,omitempty"`
	AZ           string `json:"az,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// resolveResponse is RouteMessageResponse (§6).
type resolveResponse struct {
	Status         string        `json:"status"`
	ResponseData   string        `json:"response_data,omitempty"`
	RoutedEndpoint string        `json:"routed_endpoint,omitempty"`
	Metadata       routeMetadata `json:"metadata"`
}

// ServiceDesc is the hand-rolled RouterService descriptor (§6).
func ServiceDesc(r *Router) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "flare.im.v1.RouterService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			rpcjson.UnaryHandler("Resolve", func(ctx context.Context, req *resolveRequest) (*resolveResponse, error) {
				traceID := req.TraceID
				if traceID == "" {
					traceID = uuid.NewString()
				}
				rc := RouteContext{
					SVID: req.SVID, SessionID: req.SessionID, UserID: req.UserID,
					TenantID: req.TenantID, ClientGeo: req.ClientGeo,
					LoginGateway: req.LoginGateway, TraceID: traceID,
				}
				candidate, err := r.Resolve(ctx, rc, req.TenantPreferredAZ)
				if err != nil {
					c := apierr.Classify(err, traceID)
					return &resolveResponse{
						Status: "error",
						Metadata: routeMetadata{
							TraceID:      c.TraceID,
							ErrorCode:    string(c.Kind),
							ErrorMessage: c.Error(),
						},
					}, nil
				}
				return &resolveResponse{
					Status:         "ok",
					RoutedEndpoint: candidate.Endpoint,
					Metadata: routeMetadata{
						TraceID: traceID,
						ShardID: candidate.ShardID,
						AZ:      candidate.AZ,
					},
				}, nil
			}),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "router.proto",
	}
}
