package storage

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/rpcjson"
)

// MediaClient is a gRPC JSON-codec client against the media service,
// grounded on original_source's flare-media/src/interface/grpc/handler.rs.
type MediaClient struct {
	conn *grpc.ClientConn
}

// NewMediaClient wraps an established connection.
func NewMediaClient(conn *grpc.ClientConn) *MediaClient {
	return &MediaClient{conn: conn}
}

type verifyAndInlineRequest struct {
	MediaRefs []string `json:"media_refs"`
}

type verifyAndInlineResponse struct {
	Attachments map[string]interface{} `json:"attachments"`
}

// VerifyAndInline implements MediaVerifier.
func (c *MediaClient) VerifyAndInline(ctx context.Context, mediaRefs []string) (map[string]interface{}, error) {
	req := verifyAndInlineRequest{MediaRefs: mediaRefs}
	var resp verifyAndInlineResponse
	if err := rpcjson.Invoke(ctx, c.conn, "/flare.im.v1.MediaService/VerifyAndInline", &req, &resp); err != nil {
		return nil, fmt.Errorf("storage: verify and inline: %w", err)
	}
	return resp.Attachments, nil
}
