// Package rpcjson provides a JSON encoding.Codec for google.golang.org/grpc
// so flare-im's internal RPC surfaces (RouterService, MessageService,
// AccessGatewayService, GatewayRouter) can run as genuine gRPC servers and
// clients — real HTTP/2 transport, deadlines, interceptors, status codes,
// pooled connections — without depending on protoc-generated stubs, which
// this environment has no toolchain to produce. Every request/response type
// in flare-im is a plain Go struct with json tags; grpc.CallContentSubtype
// selects this codec per call so the process-wide default codec (protobuf)
// is left untouched for any other dependency that might need it.
package rpcjson

import (
	"encoding/json"
	"fmt"
)

// Name is the content-subtype registered with grpc's encoding package and
// passed to grpc.CallContentSubtype on every flare-im RPC invocation.
const Name = "json"

// Codec implements google.golang.org/grpc/encoding.Codec using encoding/json.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcjson: marshal: %w", err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcjson: unmarshal: %w", err)
	}
	return nil
}

func (Codec) Name() string { return Name }
