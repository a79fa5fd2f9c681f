package rpc

import (
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	_ "google.golang.org/grpc/encoding/gzip" // registers gzip as a selectable compressor
	"google.golang.org/grpc/keepalive"

	"github.com/pgoagent/agentserver/internal/auth"
	"github.com/pgoagent/agentserver/internal/config"
	"github.com/pgoagent/agentserver/internal/ratelimit"
)

const miB = 1024 * 1024

// ServerOptions builds the grpc.ServerOption set from cfg: TLS credentials,
// the custom JSON codec (forced since no protobuf stub exists), frame size
// caps, and a 30s keepalive (spec.md §4.9).
func ServerOptions(cfg config.Config) ([]grpc.ServerOption, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("rpc: load TLS key pair: %w", err)
	}
	creds := credentials.NewTLS(&tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})

	opts := []grpc.ServerOption{
		grpc.Creds(creds),
		grpc.ForceServerCodec(JSONCodec{}),
		grpc.MaxRecvMsgSize(cfg.Server.MaxRecvMsgMiB * miB),
		grpc.MaxSendMsgSize(cfg.Server.MaxSendMsgMiB * miB),
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second}),
	}
	return opts, nil
}

// InterceptorChain composes the global QPS limiter, JWT auth filter, and
// per-user RPM limiter in that order (spec.md §4.2's required chain
// ordering).
func InterceptorChain(global *ratelimit.Global, authFilter *auth.Filter, perUser *ratelimit.PerUser) (grpc.ServerOption, grpc.ServerOption) {
	unary := grpc.ChainUnaryInterceptor(global.UnaryInterceptor, authFilter.UnaryInterceptor, perUser.UnaryInterceptor)
	stream := grpc.ChainStreamInterceptor(global.StreamInterceptor, authFilter.StreamInterceptor, perUser.StreamInterceptor)
	return unary, stream
}
