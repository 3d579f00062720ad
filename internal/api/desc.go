package api

import (
	"context"

	"google.golang.org/grpc"
)

// Fully-qualified service names.
const (
	RoomServiceName    = "roomsync.v1.RoomService"
	MessageServiceName = "roomsync.v1.MessageService"
	SyncServiceName    = "roomsync.v1.SyncService"
)

// RoomServiceServer is the server API for RoomService.
type RoomServiceServer interface {
	ListRooms(context.Context, *ListRoomsRequest) (*ListRoomsResponse, error)
	GetRoom(context.Context, *GetRoomRequest) (*GetRoomResponse, error)
	WatchRoomUpdates(*WatchRoomUpdatesRequest, RoomUpdatesStream) error
}

// RoomUpdatesStream is the server side of WatchRoomUpdates.
type RoomUpdatesStream interface {
	Send(*EventEnvelope) error
	Context() context.Context
}

// MessageServiceServer is the server API for MessageService.
type MessageServiceServer interface {
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
}

// SyncServiceServer is the server API for SyncService.
type SyncServiceServer interface {
	GetSyncStatus(context.Context, *GetSyncStatusRequest) (*GetSyncStatusResponse, error)
	StartSync(context.Context, *StartSyncRequest) (*StartSyncResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
}

// RoomServiceDesc describes RoomService for grpc.Server.RegisterService.
var RoomServiceDesc = grpc.ServiceDesc{
	ServiceName: RoomServiceName,
	HandlerType: (*RoomServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(RoomServiceName, "ListRooms", RoomServiceServer.ListRooms),
		unary(RoomServiceName, "GetRoom", RoomServiceServer.GetRoom),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "WatchRoomUpdates",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(WatchRoomUpdatesRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(RoomServiceServer).WatchRoomUpdates(in, &roomUpdatesStream{stream})
		},
	}},
	Metadata: "roomsync/v1/room.json",
}

// MessageServiceDesc describes MessageService.
var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "ListMessages", MessageServiceServer.ListMessages),
		unary(MessageServiceName, "MarkRead", MessageServiceServer.MarkRead),
	},
	Metadata: "roomsync/v1/message.json",
}

// SyncServiceDesc describes SyncService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SyncServiceName, "GetSyncStatus", SyncServiceServer.GetSyncStatus),
		unary(SyncServiceName, "StartSync", SyncServiceServer.StartSync),
		unary(SyncServiceName, "Logout", SyncServiceServer.Logout),
	},
	Metadata: "roomsync/v1/sync.json",
}

// Register attaches all three services to s.
func Register(s grpc.ServiceRegistrar, rooms RoomServiceServer, msgs MessageServiceServer, syncSvc SyncServiceServer) {
	s.RegisterService(&RoomServiceDesc, rooms)
	s.RegisterService(&MessageServiceDesc, msgs)
	s.RegisterService(&SyncServiceDesc, syncSvc)
}

type roomUpdatesStream struct {
	grpc.ServerStream
}

func (s *roomUpdatesStream) Send(m *EventEnvelope) error {
	return s.ServerStream.SendMsg(m)
}

func unary[S, Req, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
