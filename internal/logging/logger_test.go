package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONWithSessionFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "roomsyncd.log")
	logger, err := New(path, "work", "debug")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hydrated from cache")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"hydrated from cache"`, `"session":"work"`, `"pid":`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "x.log"), "main", "loud"); err == nil {
		t.Error("New() expected error for unknown level")
	}
}
