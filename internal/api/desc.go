package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "minichat.v1.ChatService"

// ChatServiceServer is the daemon's control API. Requests and responses are
// protobuf well-known types; documents travel as JSON in BytesValue.
type ChatServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Send(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Cancel(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	ListConversations(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	GetConversation(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	CreateConversation(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	DeleteConversation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	SwitchConversation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	WatchEvents(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(ChatServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServiceServer), ctx, req.(Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}, handler)
		},
	}
}

func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }

// ChatServiceDesc describes ChatService for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", newEmpty, ChatServiceServer.GetStatus),
		unary("Send", newString, ChatServiceServer.Send),
		unary("Cancel", newEmpty, ChatServiceServer.Cancel),
		unary("ListConversations", newEmpty, ChatServiceServer.ListConversations),
		unary("GetConversation", newString, ChatServiceServer.GetConversation),
		unary("CreateConversation", newEmpty, ChatServiceServer.CreateConversation),
		unary("DeleteConversation", newString, ChatServiceServer.DeleteConversation),
		unary("SwitchConversation", newString, ChatServiceServer.SwitchConversation),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(wrapperspb.StringValue)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ChatServiceServer).WatchEvents(in,
					&grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
			},
		},
	},
	Metadata: "minichat/v1/chat",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}
