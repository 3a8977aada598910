// Package api exposes the engine to local clients as the wpprtc.v1.Control
// gRPC service. Requests and responses are google.protobuf.Struct values.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "wpprtc.v1.Control"

// ControlServer is implemented by Control.
type ControlServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DiscardMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	React(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPresence(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MuteCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCall(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCalls(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStories(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateStory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ViewStory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StoryViewers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteStory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// Control bundles the services behind the single gRPC service.
type Control struct {
	*StatusService
	*ChatService
	*CallService
}

// NewControl assembles the control service.
func NewControl(status *StatusService, chat *ChatService, calls *CallService) *Control {
	return &Control{StatusService: status, ChatService: chat, CallService: calls}
}

// Register attaches the control service to s.
func Register(s *grpc.Server, c ControlServer) {
	s.RegisterService(&serviceDesc, c)
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ControlServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", ControlServer.GetStatus),
		unary("ListConversations", ControlServer.ListConversations),
		unary("OpenConversation", ControlServer.OpenConversation),
		unary("ListMessages", ControlServer.ListMessages),
		unary("SearchMessages", ControlServer.SearchMessages),
		unary("SendMessage", ControlServer.SendMessage),
		unary("RetryMessage", ControlServer.RetryMessage),
		unary("DiscardMessage", ControlServer.DiscardMessage),
		unary("MarkRead", ControlServer.MarkRead),
		unary("React", ControlServer.React),
		unary("DeleteMessage", ControlServer.DeleteMessage),
		unary("Typing", ControlServer.Typing),
		unary("GetPresence", ControlServer.GetPresence),
		unary("StartCall", ControlServer.StartCall),
		unary("AcceptCall", ControlServer.AcceptCall),
		unary("RejectCall", ControlServer.RejectCall),
		unary("EndCall", ControlServer.EndCall),
		unary("MuteCall", ControlServer.MuteCall),
		unary("GetCall", ControlServer.GetCall),
		unary("ListCalls", ControlServer.ListCalls),
		unary("ListStories", ControlServer.ListStories),
		unary("CreateStory", ControlServer.CreateStory),
		unary("ViewStory", ControlServer.ViewStory),
		unary("StoryViewers", ControlServer.StoryViewers),
		unary("DeleteStory", ControlServer.DeleteStory),
		unary("Reconnect", ControlServer.Reconnect),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "WatchEvents",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "wpprtc/v1/control.proto",
}
