package gateway

import (
	"context"

	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/rpcjson"
)

// pushMessageRequest/Response mirror push.ChannelPool's wire shape so the
// push worker's pooled gRPC client and this server agree on the JSON
// envelope without sharing a generated stub.
type pushMessageRequest struct {
	UserIDs []string `json:"user_ids"`
	Payload []byte   `json:"payload"`
}

type pushMessageResponse struct {
	Outcomes map[string]string `json:"outcomes"`
}

type subscribeRequest struct {
	UserID string   `json:"user_id"`
	Topics []string `json:"topics"`
}

type subscribeResponse struct {
	Granted []string `json:"granted"`
}

type publishSignalRequest struct {
	Topic   string   `json:"topic"`
	Targets []string `json:"targets"`
	Payload []byte   `json:"payload"`
}

type publishSignalResponse struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Offline int `json:"offline"`
}

// ServiceDesc is the hand-rolled AccessGatewayService descriptor (§6),
// registered against a *grpc.Server alongside rpcjson's JSON codec.
func ServiceDesc(g *Gateway) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "flare.im.v1.AccessGatewayService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			rpcjson.UnaryHandler("PushMessage", func(ctx context.Context, req *pushMessageRequest) (*pushMessageResponse, error) {
				result := g.PushMessage(ctx, req.UserIDs, req.Payload)
				outcomes := make(map[string]string, len(result.PerUser))
				for uid, outcome := range result.PerUser {
					outcomes[uid] = string(outcome)
				}
				return &pushMessageResponse{Outcomes: outcomes}, nil
			}),
			rpcjson.UnaryHandler("Subscribe", func(ctx context.Context, req *subscribeRequest) (*subscribeResponse, error) {
				return &subscribeResponse{Granted: g.Subscribe(req.UserID, req.Topics)}, nil
			}),
			rpcjson.UnaryHandler("Unsubscribe", func(ctx context.Context, req *subscribeRequest) (*subscribeResponse, error) {
				g.Unsubscribe(req.UserID, req.Topics)
				return &subscribeResponse{}, nil
			}),
			rpcjson.UnaryHandler("PublishSignal", func(ctx context.Context, req *publishSignalRequest) (*publishSignalResponse, error) {
				result := g.PublishSignal(ctx, SignalEnvelope{Topic: req.Topic, Targets: req.Targets, Payload: req.Payload})
				return &publishSignalResponse{Success: result.Success, Failed: result.Failed, Offline: result.Offline}, nil
			}),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "gateway.proto",
	}
}
