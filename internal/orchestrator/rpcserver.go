package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/apierr"
	"github.com/flare152/flare-im/internal/envelope"
	"github.com/flare152/flare-im/internal/rpcjson"
)

type storeRequest struct {
	ConversationID   string                    `json:"conversation_id"`
	ConversationType envelope.ConversationType `json:"conversation_type"`
	Envelope         []byte                    `json:"envelope"`
	Sync             bool                      `json:"sync"`
	TenantID         string                    `json:"tenant_id,omitempty"`
	SessionID        string                    `json:"session_id,omitempty"`
	SenderID         string                    `json:"sender_id"`
	Tags             map[string]string         `json:"tags,omitempty"`
	TraceID          string                    `json:"trace_id,omitempty"`
}

// storeResponse is SendEnvelopeAck (§6).
type storeResponse struct {
	MessageID    string `json:"message_id,omitempty"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	TraceID      string `json:"trace_id"`
}

// ServiceDesc is the hand-rolled MessageService descriptor (§6), accepting
// the raw envelope produced by access-gateway Send forwarding.
func ServiceDesc(o *Orchestrator) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "flare.im.v1.MessageService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			rpcjson.UnaryHandler("Store", func(ctx context.Context, req *storeRequest) (*storeResponse, error) {
				traceID := req.TraceID
				if traceID == "" {
					traceID = uuid.NewString()
				}
				msg, err := envelope.Unmarshal(req.Envelope)
				if err != nil {
					c := apierr.Classify(apierr.New(apierr.KindInvalidParameter, traceID, err), traceID)
					return &storeResponse{Status: "error", ErrorCode: string(c.Kind), ErrorMessage: c.Error(), TraceID: traceID}, nil
				}
				serverID, err := o.Store(ctx, Request{
					ConversationID: req.ConversationID, ConversationType: req.ConversationType,
					Message: msg, Sync: req.Sync, TenantID: req.TenantID,
					SessionID: req.SessionID, SenderID: req.SenderID, Tags: req.Tags,
				})
				if err != nil {
					c := apierr.Classify(err, traceID)
					return &storeResponse{Status: "error", ErrorCode: string(c.Kind), ErrorMessage: c.Error(), TraceID: c.TraceID}, nil
				}
				return &storeResponse{MessageID: serverID, Status: "ok", TraceID: traceID}, nil
			}),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "orchestrator.proto",
	}
}
