package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/roomsync/internal/config"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".roomsync", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestSessionPaths(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join("sessions", "test", "daemon.sock")},
		{"lock", LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		{"sqlite cache", CacheDBPath("test"), filepath.Join("sessions", "test", "cache.db")},
		{"pebble cache", PebbleDir("test"), filepath.Join("sessions", "test", "cache.pebble")},
		{"log", LogPath("test"), filepath.Join("sessions", "test", "logs", "roomsyncd.log")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasSuffix(tt.got, tt.want) {
				t.Errorf("path = %q, want suffix %q", tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(SessionEnv, "")

	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultSessionName)
	}

	cfg := config.Default()
	cfg.DefaultSession = "work"
	if err := config.Save(ConfigPath(), &cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want work from config", got)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q, want flag", got)
	}

	t.Setenv(SessionEnv, "env")
	if got := Resolve(""); got != "env" {
		t.Errorf("Resolve() = %q, want env from $%s", got, SessionEnv)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) with env = %q, want flag", got)
	}
}
