package api

import (
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
)

// RoomView is a room as shown to clients.
type RoomView struct {
	chat.ChatRoom
	UnreadCount int `json:"unread_count"`
}

type ListRoomsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListRoomsResponse struct {
	Rooms   []RoomView `json:"rooms"`
	HasMore bool       `json:"has_more"`
}

type GetRoomRequest struct {
	ID string `json:"id"`
}

type GetRoomResponse struct {
	Room RoomView `json:"room"`
}

type WatchRoomUpdatesRequest struct{}

// EventEnvelope is one store change pushed to watchers.
type EventEnvelope struct {
	EventID    string    `json:"event_id"`
	Session    string    `json:"session"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`
	RoomID     string    `json:"room_id,omitempty"`
}

type ListMessagesRequest struct {
	RoomID  string `json:"room_id"`
	Limit   int    `json:"limit,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`
}

type ListMessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

type MarkReadRequest struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
}

type MarkReadResponse struct {
	Result    string `json:"result"`
	ReceiptID string `json:"receipt_id,omitempty"`
}

type GetSyncStatusRequest struct{}

type GetSyncStatusResponse struct {
	Session         string     `json:"session"`
	Instance        string     `json:"instance,omitempty"`
	State           string     `json:"state"`
	Since           time.Time  `json:"since"`
	LastSaved       *time.Time `json:"last_saved,omitempty"`
	Rooms           int        `json:"rooms"`
	PendingReceipts int        `json:"pending_receipts"`
}

type StartSyncRequest struct{}

type StartSyncResponse struct {
	State string `json:"state"`
	Rooms int    `json:"rooms"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}
