package api

import (
	"context"
	"errors"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/outbox"
	"github.com/matheus3301/roomsync/internal/state"
	intsync "github.com/matheus3301/roomsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// MessageService implements MessageServiceServer.
type MessageService struct {
	store  *state.Store
	coord  *intsync.Coordinator
	sender *outbox.Sender
	userID string
}

// NewMessageService creates a message service.
func NewMessageService(st *state.Store, coord *intsync.Coordinator, sender *outbox.Sender, userID string) *MessageService {
	return &MessageService{store: st, coord: coord, sender: sender, userID: userID}
}

// ListMessages returns the newest Limit messages of a room, oldest first.
// With Refresh set the page is re-fetched from the server first.
func (s *MessageService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if req.RoomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room id is required")
	}
	if req.Refresh {
		if err := s.coord.OpenRoom(ctx, req.RoomID); err != nil {
			if errors.Is(err, intsync.ErrLoggedOut) {
				return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
			}
			return nil, grpcstatus.Errorf(codes.Unavailable, "fetch messages: %v", err)
		}
	}
	msgs := s.store.Messages(req.RoomID)
	if req.Limit > 0 && len(msgs) > req.Limit {
		msgs = msgs[len(msgs)-req.Limit:]
	}
	return &ListMessagesResponse{Messages: msgs}, nil
}

// MarkRead records the read locally right away and queues the server
// confirmation.
func (s *MessageService) MarkRead(_ context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	if req.RoomID == "" || len(req.MessageIDs) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room id and message ids are required")
	}
	if s.userID == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "server.user_id is not configured")
	}
	res := s.store.MarkMessagesRead(req.RoomID, req.MessageIDs, s.userID)
	if res == chat.NotFound {
		return nil, grpcstatus.Errorf(codes.NotFound, "room %q not found", req.RoomID)
	}
	resp := &MarkReadResponse{Result: res.String()}
	if s.sender != nil {
		resp.ReceiptID = s.sender.Enqueue(req.RoomID, req.MessageIDs)
	}
	return resp, nil
}
