package transport

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
)

// Wire kinds of real-time frames.
const (
	WireMessageCreated = "message.created"
	WireMessageRead    = "message.read"
	WireRoomUpdated    = "room.updated"
	WireRoomDeleted    = "room.deleted"
)

// Envelope is one frame of the real-time stream.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MessageRead is the payload of a message.read event.
type MessageRead struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
	UserID     string   `json:"user_id"`
}

// RoomUpdated is the payload of a room.updated event: the room id plus
// whichever fields changed.
type RoomUpdated struct {
	ID string `json:"id"`
	chat.RoomPatch
}

// Room builds a room from the partial payload, used when the room is not
// known locally yet.
func (u RoomUpdated) Room() chat.ChatRoom {
	r, _ := chat.ApplyRoomPatch(chat.ChatRoom{ID: u.ID}, u.RoomPatch)
	return r
}

// RoomDeleted is the payload of a room.deleted event.
type RoomDeleted struct {
	RoomID string `json:"room_id"`
}

// Decode turns a wire frame into a bus event with a typed payload.
func Decode(env Envelope) (bus.Event, error) {
	var (
		kind    string
		payload any
		err     error
	)
	switch env.Kind {
	case WireMessageCreated:
		var m chat.Message
		err = json.Unmarshal(env.Payload, &m)
		if err == nil && (m.ID == "" || m.ChatRoomID == "") {
			err = fmt.Errorf("message without id or room")
		}
		kind, payload = bus.KindMessageCreated, m
	case WireMessageRead:
		var r MessageRead
		err = json.Unmarshal(env.Payload, &r)
		if err == nil && (r.RoomID == "" || r.UserID == "") {
			err = fmt.Errorf("read receipt without room or user")
		}
		kind, payload = bus.KindMessageRead, r
	case WireRoomUpdated:
		var u RoomUpdated
		err = json.Unmarshal(env.Payload, &u)
		if err == nil && u.ID == "" {
			err = fmt.Errorf("room update without id")
		}
		kind, payload = bus.KindRoomUpdated, u
	case WireRoomDeleted:
		var d RoomDeleted
		err = json.Unmarshal(env.Payload, &d)
		if err == nil && d.RoomID == "" {
			err = fmt.Errorf("room delete without id")
		}
		kind, payload = bus.KindRoomDeleted, d
	default:
		return bus.Event{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	if err != nil {
		return bus.Event{}, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return bus.Event{Kind: kind, Payload: payload}, nil
}
