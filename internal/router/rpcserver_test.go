package router

import (
	"context"
	"encoding/json"
	"testing"
)

func routerMethod(t *testing.T, r *Router, name string) func(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	t.Helper()
	desc := ServiceDesc(r)
	for _, m := range desc.Methods {
		if m.MethodName == name {
			return func(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
				return m.Handler(nil, ctx, dec, nil)
			}
		}
	}
	t.Fatalf("method %s not found", name)
	return nil
}

func routerDecoderFor(v interface{}) func(interface{}) error {
	raw, _ := json.Marshal(v)
	return func(dst interface{}) error {
		return json.Unmarshal(raw, dst)
	}
}

func TestRouterServiceDescExposesResolve(t *testing.T) {
	cs := staticCandidateSource{byNone: map[string][]Candidate{"svid.im": {{Endpoint: "ep-1", ShardID: 0, AZ: "az-1"}}}}
	r := newTestRouter(t, cs, PolicyRoundRobin, 4)

	desc := ServiceDesc(r)
	if desc.ServiceName != "flare.im.v1.RouterService" {
		t.Fatalf("unexpected service name %q", desc.ServiceName)
	}
	if len(desc.Methods) != 1 || desc.Methods[0].MethodName != "Resolve" {
		t.Fatalf("expected single Resolve method, got %+v", desc.Methods)
	}
}

func TestRouterRPCResolveHandlerReturnsCandidate(t *testing.T) {
	cs := staticCandidateSource{byNone: map[string][]Candidate{"svid.im": {{Endpoint: "ep-1", ShardID: 0, AZ: "az-1"}}}}
	r := newTestRouter(t, cs, PolicyRoundRobin, 4)

	handler := routerMethod(t, r, "Resolve")
	resp, err := handler(context.Background(), routerDecoderFor(resolveRequest{SVID: "svid.im", SessionID: "s1"}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out := resp.(*resolveResponse)
	if out.Status != "ok" || out.RoutedEndpoint != "ep-1" {
		t.Fatalf("expected ep-1 resolved, got %+v", out)
	}
	if out.Metadata.TraceID == "" {
		t.Fatalf("expected trace id present in response metadata, got %+v", out.Metadata)
	}
}

func TestRouterRPCResolveHandlerClassifiesNoCandidateError(t *testing.T) {
	cs := staticCandidateSource{byNone: map[string][]Candidate{}}
	r := newTestRouter(t, cs, PolicyRoundRobin, 4)

	handler := routerMethod(t, r, "Resolve")
	resp, err := handler(context.Background(), routerDecoderFor(resolveRequest{SVID: "svid.im", SessionID: "s1"}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	out := resp.(*resolveResponse)
	if out.Status != "error" || out.Metadata.ErrorCode != "ServiceUnavailable" {
		t.Fatalf("expected ServiceUnavailable classification, got %+v", out)
	}
	if out.Metadata.TraceID == "" {
		t.Fatalf("expected trace id present in response metadata on failure, got %+v", out.Metadata)
	}
}
