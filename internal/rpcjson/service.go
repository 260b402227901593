package rpcjson

import (
	"context"

	"google.golang.org/grpc"
)

// UnaryHandler builds a grpc.MethodDesc for a hand-rolled, protoc-free
// unary RPC method. fn receives the request decoded with the Codec above
// and returns the response to encode. This lets flare-im define
// grpc.ServiceDesc values (the same structure protoc-gen-go-grpc emits) by
// hand, which is the only way to get a real gRPC server without a protoc
// toolchain available in this build environment.
func UnaryHandler[Req any, Resp any](name string, fn func(ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: name}
			handler := func(ctx context.Context, reqIface interface{}) (interface{}, error) {
				return fn(ctx, reqIface.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// Invoke calls a unary method on conn using the JSON codec, for clients
// that don't go through a generated stub.
func Invoke(ctx context.Context, conn *grpc.ClientConn, fullMethod string, req, resp interface{}, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(Name))
	return conn.Invoke(ctx, fullMethod, req, resp, opts...)
}
