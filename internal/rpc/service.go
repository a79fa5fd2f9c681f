package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC fully-qualified service name.
const ServiceName = "pgoagent.AgentService"

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor, method string, newReq func() any, call func(any, any) (any, error)) (any, error) {
	req := newReq()
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
	if interceptor != nil {
		return interceptor(ctx, req, info, handler)
	}
	return handler(ctx, req)
}

func chatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv, ctx, dec, interceptor, "Chat", func() any { return new(ChatRequest) }, func(s, r any) (any, error) {
		return s.(*Server).Chat(ctx, r.(*ChatRequest))
	})
}

func historyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv, ctx, dec, interceptor, "GetConversationHistory", func() any { return new(HistoryRequest) }, func(s, r any) (any, error) {
		return s.(*Server).GetConversationHistory(ctx, r.(*HistoryRequest))
	})
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv, ctx, dec, interceptor, "CancelTask", func() any { return new(CancelRequest) }, func(s, r any) (any, error) {
		return s.(*Server).CancelTask(ctx, r.(*CancelRequest))
	})
}

func resolveApprovalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv, ctx, dec, interceptor, "ResolveApproval", func() any { return new(ApprovalResolution) }, func(s, r any) (any, error) {
		return s.(*Server).ResolveApproval(ctx, r.(*ApprovalResolution))
	})
}

func serverInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(srv, ctx, dec, interceptor, "GetServerInfo", func() any { return new(struct{}) }, func(s, r any) (any, error) {
		return s.(*Server).GetServerInfo(ctx, r.(*struct{}))
	})
}

func chatStreamHandler(srv any, stream grpc.ServerStream) error {
	req := new(ChatStreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(*Server).ChatStream(stream.Context(), req, func(c *Chunk) error {
		return stream.SendMsg(c)
	})
}

// ServiceDesc is the hand-written gRPC service description standing in for
// protoc-generated code (see codec.go's doc comment for why).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Chat", Handler: chatHandler},
		{MethodName: "GetConversationHistory", Handler: historyHandler},
		{MethodName: "CancelTask", Handler: cancelHandler},
		{MethodName: "ResolveApproval", Handler: resolveApprovalHandler},
		{MethodName: "GetServerInfo", Handler: serverInfoHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ChatStream", Handler: chatStreamHandler, ServerStreams: true},
	},
	Metadata: "pgoagent/agentserver.proto",
}
