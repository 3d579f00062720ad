package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	return DialTarget("unix://"+socketPath, opts...)
}

// DialTarget connects to an arbitrary gRPC target using the JSON codec.
func DialTarget(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, service, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRooms(ctx context.Context, req *ListRoomsRequest) (*ListRoomsResponse, error) {
	return invoke[ListRoomsResponse](ctx, c, RoomServiceName, "ListRooms", req)
}

func (c *Client) GetRoom(ctx context.Context, req *GetRoomRequest) (*GetRoomResponse, error) {
	return invoke[GetRoomResponse](ctx, c, RoomServiceName, "GetRoom", req)
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, MessageServiceName, "ListMessages", req)
}

func (c *Client) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c, MessageServiceName, "MarkRead", req)
}

func (c *Client) GetSyncStatus(ctx context.Context, req *GetSyncStatusRequest) (*GetSyncStatusResponse, error) {
	return invoke[GetSyncStatusResponse](ctx, c, SyncServiceName, "GetSyncStatus", req)
}

func (c *Client) StartSync(ctx context.Context, req *StartSyncRequest) (*StartSyncResponse, error) {
	return invoke[StartSyncResponse](ctx, c, SyncServiceName, "StartSync", req)
}

func (c *Client) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c, SyncServiceName, "Logout", req)
}

// WatchRoomUpdates calls fn for every store change until ctx ends or fn
// returns an error.
func (c *Client) WatchRoomUpdates(ctx context.Context, fn func(*EventEnvelope) error) error {
	desc := &RoomServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+RoomServiceName+"/"+desc.StreamName)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchRoomUpdatesRequest{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(EventEnvelope)
		if err := stream.RecvMsg(env); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
