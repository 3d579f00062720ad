// Package transport is the boundary to the chat backend: bulk room and
// message fetches, read-receipt confirmation and the real-time event stream.
package transport

import (
	"context"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
)

// RoomFetcher fetches the full room list.
type RoomFetcher interface {
	FetchRooms(ctx context.Context) ([]chat.ChatRoom, error)
}

// MessageFetcher fetches one page of a room's messages, oldest first.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// ReceiptSender confirms read receipts with the server.
type ReceiptSender interface {
	SendReadReceipt(ctx context.Context, roomID string, messageIDs []string) error
}

// Fetcher is everything the coordinator needs from the backend API.
type Fetcher interface {
	RoomFetcher
	MessageFetcher
}

// EventSource delivers real-time events onto the bus until ctx ends.
type EventSource interface {
	Run(ctx context.Context, b *bus.Bus) error
}
