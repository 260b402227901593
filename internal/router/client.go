package router

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/flare152/flare-im/internal/apierr"
	"github.com/flare152/flare-im/internal/rpcjson"
)

// Client is a gRPC JSON client against the standalone router service,
// letting gateway processes resolve routes without embedding a Router.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient constructs a Client over an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Resolve implements gateway.Resolver by invoking RouterService.Resolve.
func (c *Client) Resolve(ctx context.Context, rc RouteContext, tenantPreferredAZ string) (Candidate, error) {
	req := resolveRequest{
		SVID: rc.SVID, SessionID: rc.SessionID, UserID: rc.UserID,
		TenantID: rc.TenantID, ClientGeo: rc.ClientGeo,
		LoginGateway: rc.LoginGateway, TraceID: rc.TraceID,
		TenantPreferredAZ: tenantPreferredAZ,
	}
	var resp resolveResponse
	if err := rpcjson.Invoke(ctx, c.conn, "/flare.im.v1.RouterService/Resolve", &req, &resp); err != nil {
		return Candidate{}, err
	}
	if resp.Status == "error" {
		return Candidate{}, apierr.New(apierr.Kind(resp.Metadata.ErrorCode), resp.Metadata.TraceID,
			fmt.Errorf("router: %s", resp.Metadata.ErrorMessage))
	}
	return Candidate{Endpoint: resp.RoutedEndpoint, ShardID: resp.Metadata.ShardID, AZ: resp.Metadata.AZ}, nil
}
