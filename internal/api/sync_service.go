package api

import (
	"context"
	"errors"

	"github.com/matheus3301/roomsync/internal/outbox"
	"github.com/matheus3301/roomsync/internal/state"
	"github.com/matheus3301/roomsync/internal/status"
	intsync "github.com/matheus3301/roomsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SyncService implements SyncServiceServer.
type SyncService struct {
	coord       *intsync.Coordinator
	machine     *status.Machine
	store       *state.Store
	sender      *outbox.Sender
	sessionName string
	instance    string
}

// NewSyncService creates a sync service. instance identifies this daemon
// process and may be empty.
func NewSyncService(coord *intsync.Coordinator, machine *status.Machine, st *state.Store, sender *outbox.Sender, sessionName, instance string) *SyncService {
	return &SyncService{
		coord:       coord,
		machine:     machine,
		store:       st,
		sender:      sender,
		sessionName: sessionName,
		instance:    instance,
	}
}

func (s *SyncService) GetSyncStatus(ctx context.Context, _ *GetSyncStatusRequest) (*GetSyncStatusResponse, error) {
	resp := &GetSyncStatusResponse{
		Session:  s.sessionName,
		Instance: s.instance,
		State:    string(s.machine.Current()),
		Since:    s.machine.Since(),
		Rooms:    s.store.Len(),
	}
	if saved, ok := s.coord.LastSaved(ctx); ok {
		resp.LastSaved = &saved
	}
	if s.sender != nil {
		resp.PendingReceipts = len(s.sender.Pending())
	}
	return resp, nil
}

// StartSync forces a room list refresh.
func (s *SyncService) StartSync(ctx context.Context, _ *StartSyncRequest) (*StartSyncResponse, error) {
	if err := s.coord.Refresh(ctx); err != nil {
		if errors.Is(err, intsync.ErrLoggedOut) {
			return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, grpcstatus.Errorf(codes.Unavailable, "%v", err)
	}
	return &StartSyncResponse{State: string(s.machine.Current()), Rooms: s.store.Len()}, nil
}

// Logout clears the cache and the in-memory state.
func (s *SyncService) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if err := s.coord.Logout(ctx); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return &LogoutResponse{}, nil
}
