package bus

import "time"

// Event kinds. Real-time transport events carry the "rt." prefix; store
// change notifications carry "store."; coordinator lifecycle uses "sync.".
const (
	KindMessageCreated = "rt.message.created"
	KindMessageRead    = "rt.message.read"
	KindRoomUpdated    = "rt.room.updated"
	KindRoomDeleted    = "rt.room.deleted"

	KindRoomsChanged    = "store.rooms_changed"
	KindRoomChanged     = "store.room_changed"
	KindRoomRemoved     = "store.room_removed"
	KindMessagesChanged = "store.messages_changed"
	KindStoreReset      = "store.reset"

	KindHydrated      = "sync.hydrated"
	KindRefreshed     = "sync.refreshed"
	KindRefreshFailed = "sync.refresh_failed"
	KindStatusChanged = "sync.status_changed"
	KindStreamUp      = "sync.stream_connected"
	KindStreamDown    = "sync.stream_disconnected"

	KindReceiptAck    = "receipt.ack"
	KindReceiptFailed = "receipt.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// RoomRef is the payload of store events scoped to one room.
type RoomRef struct {
	RoomID string
}
