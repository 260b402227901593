// Package conversation implements a gRPC JSON-codec client against the
// conversation service, satisfying both the Storage Writer's
// ConversationStateRepository and the Orchestrator's ConversationEnsurer
// interfaces, grounded on original_source's
// flare-message-orchestrator/src/infrastructure/clients/conversation_client.rs.
package conversation

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/rpcjson"
	"github.com/flare152/flare-im/internal/storage"
)

const serviceName = "/flare.im.v1.ConversationService/"

// Client is a gRPC JSON client against the conversation service.
type Client struct {
	conn *grpc.ClientConn
}

// New wraps an established connection.
func New(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

type ensureConversationRequest struct {
	ConversationID string   `json:"conversation_id"`
	ParticipantIDs []string `json:"participant_ids"`
}

type ensureConversationResponse struct{}

// EnsureConversation implements orchestrator.ConversationEnsurer.
func (c *Client) EnsureConversation(ctx context.Context, conversationID string, participantIDs []string) error {
	req := ensureConversationRequest{ConversationID: conversationID, ParticipantIDs: participantIDs}
	var resp ensureConversationResponse
	if err := rpcjson.Invoke(ctx, c.conn, serviceName+"EnsureConversation", &req, &resp); err != nil {
		return fmt.Errorf("conversation: ensure conversation: %w", err)
	}
	return nil
}

type participantsRequest struct {
	ConversationID string `json:"conversation_id"`
}

type participantsResponse struct {
	ParticipantIDs []string `json:"participant_ids"`
}

// Participants implements storage.ConversationStateRepository.
func (c *Client) Participants(ctx context.Context, conversationID string) ([]storage.Participant, error) {
	req := participantsRequest{ConversationID: conversationID}
	var resp participantsResponse
	if err := rpcjson.Invoke(ctx, c.conn, serviceName+"Participants", &req, &resp); err != nil {
		return nil, fmt.Errorf("conversation: participants: %w", err)
	}
	out := make([]storage.Participant, 0, len(resp.ParticipantIDs))
	for _, id := range resp.ParticipantIDs {
		out = append(out, storage.Participant{UserID: id})
	}
	return out, nil
}

type applyLastMessageRequest struct {
	ConversationID    string   `json:"conversation_id"`
	MessageID         string   `json:"message_id"`
	NonSenderUserIDs  []string `json:"non_sender_user_ids"`
}

type applyLastMessageResponse struct{}

// ApplyLastMessage implements storage.ConversationStateRepository.
func (c *Client) ApplyLastMessage(ctx context.Context, conversationID, messageID string, nonSenderUserIDs []string) error {
	req := applyLastMessageRequest{ConversationID: conversationID, MessageID: messageID, NonSenderUserIDs: nonSenderUserIDs}
	var resp applyLastMessageResponse
	if err := rpcjson.Invoke(ctx, c.conn, serviceName+"ApplyLastMessage", &req, &resp); err != nil {
		return fmt.Errorf("conversation: apply last message: %w", err)
	}
	return nil
}

type advanceSyncCursorRequest struct {
	UserID string `json:"user_id"`
	Cursor int64  `json:"cursor"`
}

type advanceSyncCursorResponse struct{}

// AdvanceSyncCursor implements storage.ConversationStateRepository.
func (c *Client) AdvanceSyncCursor(ctx context.Context, userID string, cursor int64) error {
	req := advanceSyncCursorRequest{UserID: userID, Cursor: cursor}
	var resp advanceSyncCursorResponse
	if err := rpcjson.Invoke(ctx, c.conn, serviceName+"AdvanceSyncCursor", &req, &resp); err != nil {
		return fmt.Errorf("conversation: advance sync cursor: %w", err)
	}
	return nil
}
