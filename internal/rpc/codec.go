// Package rpc implements the RPC Surface (spec.md §4.9): a hand-written
// gRPC service description and wire codec (no .proto/protoc step exists
// anywhere in this exercise's reference material, so the generated-stub
// path grpc.ServiceDesc normally expects is built by hand instead), plus
// the six RPC handlers wired to the orchestration graph, session
// registry, and persistence adapter.
package rpc

import (
	"encoding/json"
	"fmt"
)

// JSONCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// every message as JSON. It is registered via grpc.ForceServerCodec so the
// server never requires protobuf-generated message types.
type JSONCodec struct{}

// Name satisfies encoding.Codec; registered under "json" rather than
// overriding the default "proto" codec, and selected by the server options
// path (see options.go) via grpc.ForceServerCodec, not content negotiation.
func (JSONCodec) Name() string { return "json" }

// Marshal encodes v as JSON.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes JSON data into v.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal: %w", err)
	}
	return nil
}
