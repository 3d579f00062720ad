package chat

import (
	"slices"
	"time"
)

// RoomType classifies a chat room.
type RoomType string

const (
	Direct RoomType = "DIRECT"
	Group  RoomType = "GROUP"
	Load   RoomType = "LOAD"
)

// Valid reports whether t is one of the known room types.
func (t RoomType) Valid() bool {
	switch t {
	case Direct, Group, Load:
		return true
	}
	return false
}

// Participant is a room member and the role they hold in it.
type Participant struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// ChatRoom is a conversation container.
type ChatRoom struct {
	ID           string        `json:"id"`
	Type         RoomType      `json:"type,omitempty"`
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ReplyData is a snapshot of the message being replied to, taken at reply time.
type ReplyData struct {
	MessageID  string    `json:"message_id,omitempty"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is a single chat message. ID, ChatRoomID and CreatedAt are
// server-assigned and never change.
type Message struct {
	ID         string     `json:"id"`
	ChatRoomID string     `json:"chat_room_id"`
	CreatedAt  time.Time  `json:"created_at"`
	SenderID   string     `json:"sender_id"`
	Content    string     `json:"content"`
	ReplyData  *ReplyData `json:"reply_data,omitempty"`
	IsRead     bool       `json:"is_read"`
	ReadBy     []string   `json:"read_by,omitempty"`
}

// CacheSchemaVersion tags every CacheEntry written by this build.
const CacheSchemaVersion = 1

// CacheEntry wraps a room persisted in the cold-start snapshot.
type CacheEntry struct {
	Room     ChatRoom  `json:"room"`
	CachedAt time.Time `json:"cached_at"`
	Version  int       `json:"version"`
}

// Clone returns a deep copy of the room.
func (r ChatRoom) Clone() ChatRoom {
	out := r
	out.Participants = slices.Clone(r.Participants)
	if r.LastMessage != nil {
		m := r.LastMessage.Clone()
		out.LastMessage = &m
	}
	return out
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.ReadBy = slices.Clone(m.ReadBy)
	if m.ReplyData != nil {
		rd := *m.ReplyData
		out.ReplyData = &rd
	}
	return out
}

// HasReader reports whether userID has acknowledged the message.
func (m *Message) HasReader(userID string) bool {
	_, found := slices.BinarySearch(m.ReadBy, userID)
	return found
}

// AddReader records a read acknowledgment. ReadBy is kept sorted and
// duplicate-free, so adding an existing reader changes nothing.
func (m *Message) AddReader(userID string) bool {
	if userID == "" {
		return false
	}
	i, found := slices.BinarySearch(m.ReadBy, userID)
	if found {
		return false
	}
	m.ReadBy = slices.Insert(m.ReadBy, i, userID)
	return true
}

// Result tells a caller what a store operation did.
type Result int

const (
	// Unchanged means the target exists but the call was a no-op.
	Unchanged Result = iota
	// Applied means state changed.
	Applied
	// NotFound means the referenced room or message is unknown.
	NotFound
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case NotFound:
		return "not_found"
	default:
		return "unchanged"
	}
}
