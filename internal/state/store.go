package state

import (
	"slices"
	"sort"
	"sync"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/metrics"
	"go.uber.org/zap"
)

// Store is the authoritative in-memory model of rooms and their messages.
// All mutations go through its methods; readers always get copies.
//
// A Store is created per session and torn down with Reset at logout.
type Store struct {
	mu       sync.RWMutex
	rooms    []chat.ChatRoom
	index    map[string]int
	messages map[string][]chat.Message

	policy  chat.MergePolicy
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy sets the merge policy used by MergeRooms.
func WithPolicy(p chat.MergePolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithBus makes the store publish store.* events after each change.
func WithBus(b *bus.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithMetrics attaches prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		index:    make(map[string]int),
		messages: make(map[string][]chat.Message),
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MergeStats summarizes a MergeRooms call.
type MergeStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Changed reports whether the merge altered the room list.
func (m MergeStats) Changed() bool {
	return m.Inserted > 0 || m.Updated > 0
}

// SetRooms replaces the room list with an authoritative full fetch.
// Rooms missing from the new list are discarded together with their messages.
func (s *Store) SetRooms(rooms []chat.ChatRoom) {
	s.mu.Lock()
	s.rooms = s.rooms[:0:0]
	s.index = make(map[string]int, len(rooms))
	for _, r := range rooms {
		if r.ID == "" {
			continue
		}
		r = chat.NormalizeRoom(r)
		if i, ok := s.index[r.ID]; ok {
			s.rooms[i] = r
			continue
		}
		s.index[r.ID] = len(s.rooms)
		s.rooms = append(s.rooms, r)
	}
	for id := range s.messages {
		if _, ok := s.index[id]; !ok {
			delete(s.messages, id)
		}
	}
	for id := range s.index {
		s.reindex(id)
	}
	n := len(s.rooms)
	s.mu.Unlock()

	s.metrics.SetRooms(n)
	s.bus.Emit(bus.KindRoomsChanged, nil)
}

// MergeRooms reconciles an incoming batch against the local list. Unknown
// rooms are appended; known rooms are merged field by field under the
// store's policy. Rooms absent from the batch are kept.
func (s *Store) MergeRooms(incoming []chat.ChatRoom) MergeStats {
	var stats MergeStats

	s.mu.Lock()
	for _, r := range incoming {
		if r.ID == "" {
			continue
		}
		i, ok := s.index[r.ID]
		if !ok {
			s.index[r.ID] = len(s.rooms)
			s.rooms = append(s.rooms, chat.NormalizeRoom(r))
			s.reindex(r.ID)
			stats.Inserted++
			s.metrics.MergedRoom("inserted")
			continue
		}
		before := s.rooms[i]
		merged, changed := chat.MergeRoom(before, r, s.policy)
		if changed {
			s.rooms[i] = merged
			s.reindex(r.ID)
			// An older server LastMessage is put back by reindex.
			changed = !chat.RoomsEqual(before, s.rooms[i])
		}
		if !changed {
			stats.Unchanged++
			s.metrics.MergedRoom("unchanged")
			continue
		}
		stats.Updated++
		s.metrics.MergedRoom("updated")
	}
	n := len(s.rooms)
	s.mu.Unlock()

	s.metrics.SetRooms(n)
	if stats.Changed() {
		s.bus.Emit(bus.KindRoomsChanged, stats)
	}
	return stats
}

// UpdateRoom shallow-patches one room.
func (s *Store) UpdateRoom(id string, p chat.RoomPatch) chat.Result {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("update for unknown room", zap.String("room_id", id))
		return chat.NotFound
	}
	before := s.rooms[i]
	patched, changed := chat.ApplyRoomPatch(before, p)
	if changed {
		s.rooms[i] = patched
		s.reindex(id)
		changed = !chat.RoomsEqual(before, s.rooms[i])
	}
	s.mu.Unlock()

	if !changed {
		return chat.Unchanged
	}
	s.bus.Emit(bus.KindRoomChanged, bus.RoomRef{RoomID: id})
	return chat.Applied
}

// DeleteRoom removes a room and its messages.
func (s *Store) DeleteRoom(id string) chat.Result {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return chat.NotFound
	}
	s.rooms = slices.Delete(s.rooms, i, i+1)
	delete(s.index, id)
	for j := i; j < len(s.rooms); j++ {
		s.index[s.rooms[j].ID] = j
	}
	delete(s.messages, id)
	n := len(s.rooms)
	s.mu.Unlock()

	s.metrics.SetRooms(n)
	s.bus.Emit(bus.KindRoomRemoved, bus.RoomRef{RoomID: id})
	return chat.Applied
}

// SetMessages replaces one room's message list after a full per-room fetch.
// The input is deduplicated by id (last occurrence wins) and sorted by CreatedAt.
func (s *Store) SetMessages(roomID string, msgs []chat.Message) {
	list := make([]chat.Message, 0, len(msgs))
	pos := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		m = chat.NormalizeMessage(m)
		m.ChatRoomID = roomID
		if i, ok := pos[m.ID]; ok {
			list[i] = m
			continue
		}
		pos[m.ID] = len(list)
		list = append(list, m)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	s.mu.Lock()
	s.messages[roomID] = list
	s.reindex(roomID)
	s.mu.Unlock()

	s.bus.Emit(bus.KindMessagesChanged, bus.RoomRef{RoomID: roomID})
}

// AddMessage inserts a message unless its id is already present. The list
// stays ordered by CreatedAt; messages with equal timestamps keep arrival
// order. LastMessage is refreshed only if the room is known.
func (s *Store) AddMessage(roomID string, m chat.Message) chat.Result {
	if m.ID == "" {
		return chat.Unchanged
	}
	m = chat.NormalizeMessage(m)
	m.ChatRoomID = roomID

	s.mu.Lock()
	list := s.messages[roomID]
	if slices.ContainsFunc(list, func(x chat.Message) bool { return x.ID == m.ID }) {
		s.mu.Unlock()
		s.metrics.DedupedMessage()
		return chat.Unchanged
	}
	at := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(m.CreatedAt)
	})
	s.messages[roomID] = slices.Insert(list, at, m)
	s.reindex(roomID)
	s.mu.Unlock()

	s.bus.Emit(bus.KindMessagesChanged, bus.RoomRef{RoomID: roomID})
	return chat.Applied
}

// UpdateMessage shallow-patches one message in place.
func (s *Store) UpdateMessage(roomID, msgID string, p chat.MessagePatch) chat.Result {
	s.mu.Lock()
	res := chat.NotFound
	list := s.messages[roomID]
	if j := slices.IndexFunc(list, func(x chat.Message) bool { return x.ID == msgID }); j >= 0 {
		res = chat.Unchanged
		if patched, changed := chat.ApplyMessagePatch(list[j], p); changed {
			list[j] = patched
			res = chat.Applied
		}
	}
	if i, ok := s.index[roomID]; ok {
		if lm := s.rooms[i].LastMessage; lm != nil && lm.ID == msgID {
			if res == chat.NotFound {
				res = chat.Unchanged
			}
			if patched, changed := chat.ApplyMessagePatch(*lm, p); changed {
				s.rooms[i].LastMessage = &patched
				res = chat.Applied
			}
		}
	}
	if res == chat.Applied {
		s.reindex(roomID)
	}
	s.mu.Unlock()

	if res == chat.Applied {
		s.bus.Emit(bus.KindMessagesChanged, bus.RoomRef{RoomID: roomID})
	}
	return res
}

// MarkMessagesRead records userID as a reader of every listed message in
// the room and sets IsRead. The room's LastMessage copy is updated too when
// its id is listed. Reader sets only grow.
func (s *Store) MarkMessagesRead(roomID string, ids []string, userID string) chat.Result {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	mark := func(m *chat.Message) bool {
		if _, ok := want[m.ID]; !ok {
			return false
		}
		changed := m.AddReader(userID)
		if !m.IsRead {
			m.IsRead = true
			changed = true
		}
		return changed
	}

	s.mu.Lock()
	list, haveMsgs := s.messages[roomID]
	i, haveRoom := s.index[roomID]
	if !haveMsgs && !haveRoom {
		s.mu.Unlock()
		return chat.NotFound
	}
	changed := false
	for j := range list {
		if mark(&list[j]) {
			changed = true
		}
	}
	if haveRoom && s.rooms[i].LastMessage != nil {
		lm := s.rooms[i].LastMessage.Clone()
		if mark(&lm) {
			s.rooms[i].LastMessage = &lm
			changed = true
		}
	}
	if changed {
		s.reindex(roomID)
	}
	s.mu.Unlock()

	if !changed {
		return chat.Unchanged
	}
	s.bus.Emit(bus.KindMessagesChanged, bus.RoomRef{RoomID: roomID})
	return chat.Applied
}

// Reset drops all rooms and messages. Called at logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.rooms = nil
	s.index = make(map[string]int)
	s.messages = make(map[string][]chat.Message)
	s.mu.Unlock()

	s.metrics.SetRooms(0)
	s.bus.Emit(bus.KindStoreReset, nil)
}

// reindex recomputes the room's LastMessage from its message list. The
// newest known message wins unless the current LastMessage (e.g. supplied
// by the server for a room whose messages were never fetched) is strictly
// newer than anything in the list. Caller holds s.mu.
func (s *Store) reindex(roomID string) {
	i, ok := s.index[roomID]
	if !ok {
		return
	}
	list := s.messages[roomID]
	if len(list) == 0 {
		return
	}
	room := &s.rooms[i]
	newest := list[len(list)-1]
	if room.LastMessage != nil && newest.CreatedAt.Before(room.LastMessage.CreatedAt) {
		return
	}
	if room.LastMessage == nil || !chat.MessagesEqual(*room.LastMessage, newest) {
		lm := newest.Clone()
		room.LastMessage = &lm
	}
	if newest.CreatedAt.After(room.UpdatedAt) {
		room.UpdatedAt = newest.CreatedAt
	}
}
