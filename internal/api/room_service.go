package api

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/state"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// RoomService implements RoomServiceServer over the state store.
type RoomService struct {
	store       *state.Store
	bus         *bus.Bus
	sessionName string
	userID      string
}

// NewRoomService creates a room service. userID is the signed-in user,
// used for unread counts.
func NewRoomService(st *state.Store, b *bus.Bus, sessionName, userID string) *RoomService {
	return &RoomService{store: st, bus: b, sessionName: sessionName, userID: userID}
}

// ListRooms returns rooms most recently active first.
func (s *RoomService) ListRooms(_ context.Context, req *ListRoomsRequest) (*ListRoomsResponse, error) {
	rooms := s.store.Rooms()
	slices.SortStableFunc(rooms, func(a, b chat.ChatRoom) int {
		return cmp.Compare(b.UpdatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	})

	resp := &ListRoomsResponse{Rooms: []RoomView{}}
	if req.Limit > 0 && len(rooms) > req.Limit {
		rooms = rooms[:req.Limit]
		resp.HasMore = true
	}
	for _, r := range rooms {
		resp.Rooms = append(resp.Rooms, s.view(r))
	}
	return resp, nil
}

func (s *RoomService) GetRoom(_ context.Context, req *GetRoomRequest) (*GetRoomResponse, error) {
	if req.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room id is required")
	}
	r, ok := s.store.Room(req.ID)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "room %q not found", req.ID)
	}
	return &GetRoomResponse{Room: s.view(r)}, nil
}

// WatchRoomUpdates streams store changes until the client goes away.
func (s *RoomService) WatchRoomUpdates(_ *WatchRoomUpdatesRequest, stream RoomUpdatesStream) error {
	ch, unsub := s.bus.Subscribe("store.", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env := &EventEnvelope{
				EventID:    uuid.NewString(),
				Session:    s.sessionName,
				OccurredAt: evt.Timestamp,
				Kind:       evt.Kind,
			}
			if ref, ok := evt.Payload.(bus.RoomRef); ok {
				env.RoomID = ref.RoomID
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *RoomService) view(r chat.ChatRoom) RoomView {
	return RoomView{ChatRoom: r, UnreadCount: s.store.UnreadCount(r.ID, s.userID)}
}
