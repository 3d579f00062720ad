package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/store"
	"go.uber.org/zap"
)

// Fixed keys of the persisted layout.
const (
	RoomsKey     = "chat_rooms_cache"
	LastSavedKey = "chat_rooms_last_saved"
)

// Backend is durable key-value storage with atomic batches.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, b *store.Batch) error
	Close() error
}

// Cache persists the room list snapshot used for cold start. It holds no
// messages; those are fetched per room on open.
type Cache struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache over the given backend.
func New(backend Backend, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{backend: backend, logger: logger, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Save atomically replaces the stored room list and stamps the last-saved time.
func (c *Cache) Save(ctx context.Context, rooms []chat.ChatRoom) error {
	now := c.now().UTC()
	entries := make([]chat.CacheEntry, len(rooms))
	for i, r := range rooms {
		entries[i] = chat.CacheEntry{Room: r, CachedAt: now, Version: chat.CacheSchemaVersion}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode rooms: %w", err)
	}

	b := store.NewBatch().
		Put(RoomsKey, payload).
		Put(LastSavedKey, []byte(now.Format(time.RFC3339Nano)))
	if err := c.backend.Write(ctx, b); err != nil {
		return fmt.Errorf("save rooms: %w", err)
	}
	return nil
}

// Load returns the cached rooms, most recently active first. A missing,
// unreadable or corrupt snapshot yields an empty list.
func (c *Cache) Load(ctx context.Context) []chat.ChatRoom {
	entries, err := c.entries(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("room cache unreadable, treating as empty", zap.Error(err))
		}
		return []chat.ChatRoom{}
	}
	rooms := make([]chat.ChatRoom, 0, len(entries))
	for _, e := range entries {
		rooms = append(rooms, e.Room)
	}
	slices.SortStableFunc(rooms, func(a, b chat.ChatRoom) int {
		return cmp.Compare(b.UpdatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	})
	return rooms
}

// IsFresh reports whether the last save happened less than maxAge ago.
func (c *Cache) IsFresh(ctx context.Context, maxAge time.Duration) bool {
	saved, ok := c.LastSaved(ctx)
	if !ok {
		return false
	}
	return c.now().Sub(saved) < maxAge
}

// LastSaved returns the time of the last successful Save.
func (c *Cache) LastSaved(ctx context.Context) (time.Time, bool) {
	raw, err := c.backend.Get(ctx, LastSavedKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("read last-saved timestamp", zap.Error(err))
		}
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		c.logger.Warn("corrupt last-saved timestamp", zap.ByteString("value", raw), zap.Error(err))
		return time.Time{}, false
	}
	return ts, true
}

// HasData reports whether at least one room is cached.
func (c *Cache) HasData(ctx context.Context) bool {
	entries, err := c.entries(ctx)
	return err == nil && len(entries) > 0
}

// DeleteRoom drops one room from the snapshot. The last-saved time is kept.
func (c *Cache) DeleteRoom(ctx context.Context, id string) error {
	entries, err := c.entries(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	kept := slices.DeleteFunc(entries, func(e chat.CacheEntry) bool { return e.Room.ID == id })
	payload, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode rooms: %w", err)
	}
	if err := c.backend.Write(ctx, store.NewBatch().Put(RoomsKey, payload)); err != nil {
		return fmt.Errorf("delete room %q: %w", id, err)
	}
	return nil
}

// Clear removes all cached data.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Write(ctx, store.NewBatch().Delete(RoomsKey).Delete(LastSavedKey)); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) entries(ctx context.Context) ([]chat.CacheEntry, error) {
	raw, err := c.backend.Get(ctx, RoomsKey)
	if err != nil {
		return nil, err
	}
	var entries []chat.CacheEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return entries, nil
}
