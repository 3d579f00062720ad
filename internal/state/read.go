package state

import "github.com/matheus3301/roomsync/internal/chat"

// Rooms returns a copy of the room list in store order. Sorting is the
// caller's concern.
func (s *Store) Rooms() []chat.ChatRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.ChatRoom, len(s.rooms))
	for i, r := range s.rooms {
		out[i] = r.Clone()
	}
	return out
}

// Room returns a copy of one room.
func (s *Store) Room(id string) (chat.ChatRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return chat.ChatRoom{}, false
	}
	return s.rooms[i].Clone(), true
}

// Messages returns a copy of one room's messages, oldest first.
func (s *Store) Messages(roomID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[roomID]
	out := make([]chat.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

// UnreadCount counts messages in the room that userID neither sent nor
// acknowledged.
func (s *Store) UnreadCount(roomID, userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.messages[roomID] {
		m := &s.messages[roomID][i]
		if m.SenderID != userID && !m.HasReader(userID) {
			n++
		}
	}
	return n
}

// Len returns the number of rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
