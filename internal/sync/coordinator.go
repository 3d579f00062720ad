// Package sync sequences the three update sources of the state store: the
// cold-start cache, the bulk server fetch and the real-time event stream.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/cache"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/state"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/transport"
	"go.uber.org/zap"
)

// ErrLoggedOut is returned by operations attempted after Logout.
var ErrLoggedOut = errors.New("session logged out")

// Config tunes the coordinator.
type Config struct {
	// MaxAge is how long a cached room list counts as fresh.
	MaxAge time.Duration
	// RefreshWhenFresh runs a background refresh even when the cache is fresh.
	RefreshWhenFresh bool
	// MessagePageSize is the limit passed to per-room message fetches.
	MessagePageSize int
}

// Coordinator owns the sequencing between cache, fetch and store.
type Coordinator struct {
	store   *state.Store
	cache   *cache.Cache
	fetcher transport.Fetcher
	bus     *bus.Bus
	machine *status.Machine
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     Config

	refreshMu gosync.Mutex
	persistMu gosync.Mutex
	// sessionMu is held for writing by Logout and for reading by real-time
	// applies, so no apply straddles a logout.
	sessionMu gosync.RWMutex
	persistCh chan struct{}
	wg        gosync.WaitGroup
	cancel    context.CancelFunc
}

// NewCoordinator creates a coordinator. metrics and logger may be nil.
func NewCoordinator(st *state.Store, c *cache.Cache, f transport.Fetcher, b *bus.Bus, m *status.Machine, mt *metrics.Metrics, logger *zap.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = 50
	}
	return &Coordinator{
		store:     st,
		cache:     c,
		fetcher:   f,
		bus:       b,
		machine:   m,
		metrics:   mt,
		logger:    logger,
		cfg:       cfg,
		persistCh: make(chan struct{}, 1),
	}
}

// Start hydrates the store from the cache and returns. A refresh from the
// server then runs in the background when the cache is stale or empty, or
// always when RefreshWhenFresh is set. Its outcome is published as
// sync.refreshed or sync.refresh_failed.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.hydrate(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.persistLoop(ctx)
	}()

	stale := !c.cache.HasData(ctx) || !c.cache.IsFresh(ctx, c.cfg.MaxAge)
	if !stale {
		c.transition(status.Ready)
		if !c.cfg.RefreshWhenFresh {
			return
		}
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("refresh failed, serving cached rooms", zap.Bool("stale", stale), zap.Error(err))
		}
	}()
}

// Stop cancels background work and waits for it to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) hydrate(ctx context.Context) {
	rooms := c.cache.Load(ctx)
	c.store.SetRooms(rooms)
	c.transition(status.Hydrated)
	c.bus.Emit(bus.KindHydrated, len(rooms))
	c.logger.Info("hydrated from cache", zap.Int("rooms", len(rooms)))
}

// Refresh fetches the room list, merges it into the store and persists the
// result. On fetch failure the store is left exactly as it was.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.loggedOut() {
		return ErrLoggedOut
	}
	c.transition(status.Syncing)

	rooms, err := c.fetcher.FetchRooms(ctx)
	c.metrics.Fetch("rooms", err)
	if err != nil {
		c.transition(status.Degraded)
		c.bus.Emit(bus.KindRefreshFailed, err.Error())
		return fmt.Errorf("refresh rooms: %w", err)
	}

	stats := c.store.MergeRooms(rooms)
	c.logger.Info("rooms refreshed",
		zap.Int("fetched", len(rooms)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged))

	if err := c.PersistRooms(ctx); err != nil {
		c.logger.Warn("persist after refresh failed", zap.Error(err))
	}
	c.transition(status.Ready)
	c.bus.Emit(bus.KindRefreshed, stats)
	return nil
}

// OpenRoom fetches one page of the room's messages and replaces its
// message list.
func (c *Coordinator) OpenRoom(ctx context.Context, roomID string) error {
	if c.loggedOut() {
		return ErrLoggedOut
	}
	msgs, err := c.fetcher.FetchMessages(ctx, roomID, c.cfg.MessagePageSize)
	c.metrics.Fetch("messages", err)
	if err != nil {
		return fmt.Errorf("open room %q: %w", roomID, err)
	}
	if !c.active(func() { c.store.SetMessages(roomID, msgs) }) {
		return ErrLoggedOut
	}
	return nil
}

// PersistRooms writes the current room list to the cache. Writes are
// serialized; a failure leaves the in-memory state untouched. After Logout
// it writes nothing and returns ErrLoggedOut.
func (c *Coordinator) PersistRooms(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if c.loggedOut() {
		return ErrLoggedOut
	}
	err := c.cache.Save(ctx, c.store.Rooms())
	c.metrics.CacheWrite(err)
	return err
}

// RequestPersist schedules a background PersistRooms. Requests made while
// one is pending collapse into it.
func (c *Coordinator) RequestPersist() {
	select {
	case c.persistCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) persistLoop(ctx context.Context) {
	for {
		select {
		case <-c.persistCh:
			if err := c.PersistRooms(ctx); err != nil && !errors.Is(err, ErrLoggedOut) {
				c.logger.Warn("persist rooms failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Logout clears the persisted snapshot and empties the store.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	// Drop any pending write so it cannot resurrect the snapshot.
	select {
	case <-c.persistCh:
	default:
	}

	err := c.cache.Clear(ctx)
	c.store.Reset()
	c.transition(status.LoggedOut)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// active runs fn unless the session is logged out and reports whether it ran.
func (c *Coordinator) active(fn func()) bool {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	if c.loggedOut() {
		return false
	}
	fn()
	return true
}

func (c *Coordinator) loggedOut() bool {
	return c.machine != nil && c.machine.Current() == status.LoggedOut
}

// Status returns the current sync state.
func (c *Coordinator) Status() status.State {
	if c.machine == nil {
		return ""
	}
	return c.machine.Current()
}

// LastSaved reports when the room list was last persisted.
func (c *Coordinator) LastSaved(ctx context.Context) (time.Time, bool) {
	return c.cache.LastSaved(ctx)
}

func (c *Coordinator) transition(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}
