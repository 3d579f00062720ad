package chat

import (
	"fmt"
	"slices"
	"time"
)

// MergePolicy decides how an incoming version of a room reconciles with
// the local one.
type MergePolicy int

const (
	// LastWriterWins overwrites every field the incoming room specifies
	// (non-zero) and keeps local values for the rest. No timestamps are
	// compared, so the caller must not pass data older than local state.
	LastWriterWins MergePolicy = iota
	// NewerWins behaves like LastWriterWins but drops an incoming room
	// whose UpdatedAt is strictly older than the local UpdatedAt.
	NewerWins
)

func (p MergePolicy) String() string {
	if p == NewerWins {
		return "newer_wins"
	}
	return "last_writer_wins"
}

// ParseMergePolicy maps a config value to a policy. Empty means LastWriterWins.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "last_writer_wins":
		return LastWriterWins, nil
	case "newer_wins":
		return NewerWins, nil
	}
	return LastWriterWins, fmt.Errorf("unknown merge policy %q", s)
}

// MergeRoom reconciles incoming into existing field by field. The second
// return value reports whether the result differs from existing.
// UpdatedAt only moves forward.
func MergeRoom(existing, incoming ChatRoom, policy MergePolicy) (ChatRoom, bool) {
	if policy == NewerWins && !incoming.UpdatedAt.IsZero() && incoming.UpdatedAt.Before(existing.UpdatedAt) {
		return existing, false
	}

	out := existing.Clone()
	if incoming.Type != "" {
		out.Type = incoming.Type
	}
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Participants != nil {
		out.Participants = slices.Clone(incoming.Participants)
	}
	if incoming.LastMessage != nil {
		m := NormalizeMessage(*incoming.LastMessage)
		out.LastMessage = &m
	}
	if incoming.Avatar != "" {
		out.Avatar = incoming.Avatar
	}
	out.UpdatedAt = laterOf(out.UpdatedAt, incoming.UpdatedAt)

	return out, !RoomsEqual(existing, out)
}

// RoomPatch is a partial room update. Nil fields are left alone.
type RoomPatch struct {
	Type         *RoomType     `json:"type,omitempty"`
	Name         *string       `json:"name,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	Avatar       *string       `json:"avatar,omitempty"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty"`
}

// Empty reports whether the patch touches nothing.
func (p RoomPatch) Empty() bool {
	return p.Type == nil && p.Name == nil && p.Participants == nil &&
		p.LastMessage == nil && p.Avatar == nil && p.UpdatedAt == nil
}

// ApplyRoomPatch shallow-patches a room.
func ApplyRoomPatch(room ChatRoom, p RoomPatch) (ChatRoom, bool) {
	out := room.Clone()
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Participants != nil {
		out.Participants = slices.Clone(p.Participants)
	}
	if p.LastMessage != nil {
		m := NormalizeMessage(*p.LastMessage)
		out.LastMessage = &m
	}
	if p.Avatar != nil {
		out.Avatar = *p.Avatar
	}
	if p.UpdatedAt != nil {
		out.UpdatedAt = laterOf(out.UpdatedAt, *p.UpdatedAt)
	}
	return out, !RoomsEqual(room, out)
}

// MessagePatch is a partial message update. ReadBy is unioned into the
// existing reader set, never replacing it.
type MessagePatch struct {
	SenderID  *string    `json:"sender_id,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ReplyData *ReplyData `json:"reply_data,omitempty"`
	IsRead    *bool      `json:"is_read,omitempty"`
	ReadBy    []string   `json:"read_by,omitempty"`
}

// ApplyMessagePatch shallow-patches a message. Identity fields are not patchable.
func ApplyMessagePatch(m Message, p MessagePatch) (Message, bool) {
	out := m.Clone()
	if p.SenderID != nil {
		out.SenderID = *p.SenderID
	}
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.ReplyData != nil {
		rd := *p.ReplyData
		out.ReplyData = &rd
	}
	if p.IsRead != nil {
		out.IsRead = *p.IsRead
	}
	for _, u := range p.ReadBy {
		out.AddReader(u)
	}
	return out, !MessagesEqual(m, out)
}

// NormalizeMessage returns a copy with ReadBy sorted and deduplicated.
func NormalizeMessage(m Message) Message {
	out := m.Clone()
	slices.Sort(out.ReadBy)
	out.ReadBy = slices.Compact(out.ReadBy)
	if len(out.ReadBy) == 0 {
		out.ReadBy = nil
	}
	return out
}

// NormalizeRoom returns a deep copy with the LastMessage reader set
// sorted and deduplicated.
func NormalizeRoom(r ChatRoom) ChatRoom {
	out := r.Clone()
	if r.LastMessage != nil {
		m := NormalizeMessage(*r.LastMessage)
		out.LastMessage = &m
	}
	return out
}

// RoomsEqual compares rooms by value, using time.Equal for timestamps.
func RoomsEqual(a, b ChatRoom) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Name != b.Name || a.Avatar != b.Avatar {
		return false
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) || !slices.Equal(a.Participants, b.Participants) {
		return false
	}
	switch {
	case a.LastMessage == nil && b.LastMessage == nil:
		return true
	case a.LastMessage == nil || b.LastMessage == nil:
		return false
	}
	return MessagesEqual(*a.LastMessage, *b.LastMessage)
}

// MessagesEqual compares messages by value, using time.Equal for timestamps.
func MessagesEqual(a, b Message) bool {
	if a.ID != b.ID || a.ChatRoomID != b.ChatRoomID || a.SenderID != b.SenderID ||
		a.Content != b.Content || a.IsRead != b.IsRead {
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) || !slices.Equal(a.ReadBy, b.ReadBy) {
		return false
	}
	switch {
	case a.ReplyData == nil && b.ReplyData == nil:
		return true
	case a.ReplyData == nil || b.ReplyData == nil:
		return false
	}
	ra, rb := a.ReplyData, b.ReplyData
	return ra.MessageID == rb.MessageID && ra.Content == rb.Content &&
		ra.SenderName == rb.SenderName && ra.CreatedAt.Equal(rb.CreatedAt)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
