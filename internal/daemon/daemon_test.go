package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/roomsync/internal/api"
	"github.com/matheus3301/roomsync/internal/cache"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// fakeBackend serves the REST endpoints and the event stream.
type fakeBackend struct {
	srv      *httptest.Server
	receipts atomic.Int32
	frames   []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/rooms", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]chat.ChatRoom{
			{ID: "a", Type: chat.Direct, UpdatedAt: t0},
			{ID: "b", Type: chat.Group, Name: "Team", UpdatedAt: t0.Add(-time.Hour)},
		})
	})
	mux.HandleFunc("GET /api/v1/rooms/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]chat.Message{
			{ID: "m1", ChatRoomID: r.PathValue("id"), CreatedAt: t0.Add(-time.Minute), SenderID: "them", Content: "hi"},
		})
	})
	mux.HandleFunc("POST /api/v1/rooms/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		fb.receipts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for _, f := range fb.frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) baseURL() string { return fb.srv.URL + "/api/v1" }

func (fb *fakeBackend) streamURL() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/api/v1/events"
}

// shortTempDir keeps Unix socket paths under the macOS 104-char limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "rs-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	fb := newFakeBackend(t)
	fb.frames = []string{
		`{"kind":"message.created","payload":{"id":"m9","chat_room_id":"b","created_at":"2026-05-04T10:30:00Z","sender_id":"them","content":"pushed"}}`,
	}
	tmpDir := shortTempDir(t)
	cfgPath := writeConfig(t, tmpDir, fmt.Sprintf(`
[server]
base_url = %q
stream_url = %q
user_id = "me"

[metrics]
listen = "127.0.0.1:0"

[log]
level = "error"
`, fb.baseURL(), fb.streamURL()))

	p := Params{
		SessionName: "test",
		Dir:         filepath.Join(tmpDir, "s"),
		SocketPath:  filepath.Join(tmpDir, "d.sock"),
		ConfigPath:  cfgPath,
	}
	var ms *MetricsServer
	app := fx.New(Module(p), fx.NopLogger, fx.Populate(&ms))
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}

	client, err := api.Dial(p.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	// Empty cache: the coordinator fetches in the background.
	waitFor(t, "initial sync", func() bool {
		st, err := client.GetSyncStatus(ctx, &api.GetSyncStatusRequest{})
		return err == nil && st.State == string(status.Ready) && st.Rooms == 2
	})

	// The streamed message lands in room b and moves it to the top.
	waitFor(t, "streamed message", func() bool {
		resp, err := client.ListRooms(ctx, &api.ListRoomsRequest{})
		return err == nil && len(resp.Rooms) == 2 && resp.Rooms[0].ID == "b" &&
			resp.Rooms[0].LastMessage != nil && resp.Rooms[0].LastMessage.ID == "m9"
	})

	msgs, err := client.ListMessages(ctx, &api.ListMessagesRequest{RoomID: "a", Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hi" {
		t.Fatalf("messages = %+v", msgs.Messages)
	}

	read, err := client.MarkRead(ctx, &api.MarkReadRequest{RoomID: "a", MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatal(err)
	}
	if read.Result != chat.Applied.String() {
		t.Errorf("MarkRead result = %s, want applied", read.Result)
	}
	waitFor(t, "read receipt delivery", func() bool { return fb.receipts.Load() == 1 })

	resp, err := http.Get("http://" + ms.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "roomsync_rooms 2") {
		t.Errorf("metrics missing room gauge:\n%s", body)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	// Lock released and the room list persisted on shutdown.
	if _, held, _ := lock.Read(p.Dir); held {
		t.Error("lock file left behind after stop")
	}
	db, err := store.Open(p.cacheDBPath())
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New(db, nil)
	defer func() { _ = c.Close() }()
	rooms := c.Load(context.Background())
	if len(rooms) != 2 || rooms[0].LastMessage == nil || rooms[0].LastMessage.ID != "m9" {
		t.Errorf("persisted rooms = %+v", rooms)
	}
}

func TestDaemonDegradedWithPebbleBackend(t *testing.T) {
	tmpDir := shortTempDir(t)
	cfgPath := writeConfig(t, tmpDir, `
[server]
base_url = "http://127.0.0.1:1/api/v1"
stream_url = ""
retry_max_elapsed = "10ms"

[cache]
backend = "pebble"

[log]
level = "error"
`)
	p := Params{
		SessionName: "peb",
		Dir:         filepath.Join(tmpDir, "s"),
		SocketPath:  filepath.Join(tmpDir, "d.sock"),
		ConfigPath:  cfgPath,
	}
	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = app.Stop(ctx) }()

	client, err := api.Dial(p.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	waitFor(t, "degraded status", func() bool {
		st, err := client.GetSyncStatus(ctx, &api.GetSyncStatusRequest{})
		return err == nil && st.State == string(status.Degraded)
	})
	if _, err := os.Stat(p.pebbleDir()); err != nil {
		t.Errorf("pebble cache not created: %v", err)
	}
}

func TestSecondDaemonRejected(t *testing.T) {
	tmpDir := shortTempDir(t)
	dir := filepath.Join(tmpDir, "s")
	lk, err := lock.Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	cfgPath := writeConfig(t, tmpDir, "[log]\nlevel = \"error\"\n")
	app := fx.New(Module(Params{SessionName: "dup", Dir: dir, ConfigPath: cfgPath}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("second daemon started while the session lock was held")
	}
}

// TestNewServerUsesSocketOverride verifies NewServer takes Params rather
// than a bare string, which fx cannot resolve.
func TestNewServerUsesSocketOverride(t *testing.T) {
	tmpDir := shortTempDir(t)
	socketPath := filepath.Join(tmpDir, "d.sock")

	srv, err := NewServer(
		Params{SessionName: "fxtest", SocketPath: socketPath},
		zap.NewNop(),
		api.NewRoomService(nil, nil, "fxtest", ""),
		api.NewMessageService(nil, nil, nil, ""),
		api.NewSyncService(nil, nil, nil, nil, "fxtest", ""),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	srv.Stop(context.Background())
	if _, statErr := os.Stat(socketPath); !os.IsNotExist(statErr) {
		t.Errorf("socket not removed on stop: %v", statErr)
	}
}
