package chat

import (
	"slices"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMergeRoomFieldLevel(t *testing.T) {
	existing := ChatRoom{
		ID:           "b",
		Type:         Group,
		Name:         "Ops",
		Participants: []Participant{{UserID: "u1", Role: "admin"}},
		Avatar:       "ops.png",
		UpdatedAt:    t0,
	}
	incoming := ChatRoom{ID: "b", Name: "Ops Team", UpdatedAt: t0.Add(time.Minute)}

	got, changed := MergeRoom(existing, incoming, LastWriterWins)
	if !changed {
		t.Fatal("MergeRoom() changed = false, want true")
	}
	if got.Name != "Ops Team" {
		t.Errorf("Name = %q, want Ops Team", got.Name)
	}
	if got.Avatar != "ops.png" || got.Type != Group || len(got.Participants) != 1 {
		t.Errorf("untouched fields not preserved: %+v", got)
	}
	if !got.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, t0.Add(time.Minute))
	}
}

func TestMergeRoomIdempotent(t *testing.T) {
	existing := ChatRoom{ID: "a", Name: "A", UpdatedAt: t0}
	incoming := ChatRoom{ID: "a", Name: "A2", Avatar: "x", UpdatedAt: t0}

	once, _ := MergeRoom(existing, incoming, LastWriterWins)
	twice, changed := MergeRoom(once, incoming, LastWriterWins)
	if changed {
		t.Error("second merge reported a change")
	}
	if !RoomsEqual(once, twice) {
		t.Errorf("merge not idempotent: %+v vs %+v", once, twice)
	}
}

func TestMergeRoomPolicies(t *testing.T) {
	existing := ChatRoom{ID: "a", Name: "fresh", UpdatedAt: t0.Add(time.Hour)}
	stale := ChatRoom{ID: "a", Name: "stale", UpdatedAt: t0}

	tests := []struct {
		name     string
		policy   MergePolicy
		wantName string
	}{
		{"last writer wins overwrites", LastWriterWins, "stale"},
		{"newer wins ignores older snapshot", NewerWins, "fresh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := MergeRoom(existing, stale, tt.policy)
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if !got.UpdatedAt.Equal(existing.UpdatedAt) {
				t.Errorf("UpdatedAt moved backwards to %v", got.UpdatedAt)
			}
		})
	}
}

func TestMergeRoomDoesNotAlias(t *testing.T) {
	incoming := ChatRoom{ID: "a", Participants: []Participant{{UserID: "u1"}}}
	got, _ := MergeRoom(ChatRoom{ID: "a"}, incoming, LastWriterWins)
	incoming.Participants[0].UserID = "mutated"
	if got.Participants[0].UserID != "u1" {
		t.Error("merged room shares participant storage with incoming")
	}
}

func TestParseMergePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergePolicy
		wantErr bool
	}{
		{"", LastWriterWins, false},
		{"last_writer_wins", LastWriterWins, false},
		{"newer_wins", NewerWins, false},
		{"bogus", LastWriterWins, true},
	}
	for _, tt := range tests {
		got, err := ParseMergePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMergePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMergePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyRoomPatch(t *testing.T) {
	room := ChatRoom{ID: "a", Name: "A", Avatar: "a.png", UpdatedAt: t0}
	name := "Renamed"

	got, changed := ApplyRoomPatch(room, RoomPatch{Name: &name})
	if !changed || got.Name != "Renamed" || got.Avatar != "a.png" {
		t.Errorf("ApplyRoomPatch() = %+v, changed=%v", got, changed)
	}

	_, changed = ApplyRoomPatch(got, RoomPatch{Name: &name})
	if changed {
		t.Error("re-applying the same patch reported a change")
	}

	older := t0.Add(-time.Hour)
	got, _ = ApplyRoomPatch(got, RoomPatch{UpdatedAt: &older})
	if !got.UpdatedAt.Equal(t0) {
		t.Errorf("UpdatedAt = %v, want unchanged %v", got.UpdatedAt, t0)
	}
}

func TestApplyMessagePatchUnionsReaders(t *testing.T) {
	m := Message{ID: "m1", ReadBy: []string{"alice"}}
	got, changed := ApplyMessagePatch(m, MessagePatch{ReadBy: []string{"carol", "alice", "bob"}})
	if !changed {
		t.Fatal("changed = false, want true")
	}
	want := []string{"alice", "bob", "carol"}
	if !slices.Equal(got.ReadBy, want) {
		t.Errorf("ReadBy = %v, want %v", got.ReadBy, want)
	}
	if len(m.ReadBy) != 1 {
		t.Error("patch mutated the input message")
	}
}

func TestAddReaderSetSemantics(t *testing.T) {
	var m Message
	if !m.AddReader("u2") || !m.AddReader("u1") {
		t.Fatal("AddReader() on new user returned false")
	}
	if m.AddReader("u1") {
		t.Error("AddReader() on existing user returned true")
	}
	if m.AddReader("") {
		t.Error("AddReader() accepted empty user")
	}
	if !slices.Equal(m.ReadBy, []string{"u1", "u2"}) {
		t.Errorf("ReadBy = %v", m.ReadBy)
	}
	if !m.HasReader("u2") || m.HasReader("u3") {
		t.Error("HasReader() mismatch")
	}
}

func TestNormalizeMessage(t *testing.T) {
	got := NormalizeMessage(Message{ID: "m", ReadBy: []string{"b", "a", "b"}})
	if !slices.Equal(got.ReadBy, []string{"a", "b"}) {
		t.Errorf("ReadBy = %v, want [a b]", got.ReadBy)
	}
	if NormalizeMessage(Message{ReadBy: []string{}}).ReadBy != nil {
		t.Error("empty ReadBy should normalize to nil")
	}
}
