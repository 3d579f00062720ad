package session

import (
	"os"

	"github.com/matheus3301/roomsync/internal/config"
)

const (
	DefaultSessionName = "main"
	// SessionEnv selects the session when no --session flag is given.
	SessionEnv = "ROOMSYNC_SESSION"
)

// Resolve picks the active session: the --session flag, then
// $ROOMSYNC_SESSION, then default_session from config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(SessionEnv); env != "" {
		return env
	}
	if cfg, err := config.LoadOrDefault(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
