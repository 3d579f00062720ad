package sync

import (
	"context"
	gosync "sync"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/cache"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/state"
	"github.com/matheus3301/roomsync/internal/transport"
	"go.uber.org/zap"
)

// Engine applies real-time events to the store as they arrive. It
// subscribes to "rt." events on the bus without loss (publishers wait when
// it falls behind) and never waits on fetches.
type Engine struct {
	store   *state.Store
	cache   *cache.Cache
	coord   *Coordinator
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	wg      gosync.WaitGroup
}

// NewEngine creates a new sync engine.
func NewEngine(st *state.Store, c *cache.Cache, coord *Coordinator, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   st,
		cache:   c,
		coord:   coord,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Start subscribes to real-time events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	rt, unsubRT := e.bus.SubscribeBlocking("rt.", 256)
	up, unsubUp := e.bus.Subscribe(bus.KindStreamUp, 4)

	go func() {
		defer close(e.done)
		defer unsubRT()
		defer unsubUp()
		connected := false
		for {
			select {
			case evt := <-rt:
				e.Apply(ctx, evt)
			case <-up:
				// Events missed while disconnected only come back with a
				// full fetch.
				if connected {
					e.wg.Add(1)
					go func() {
						defer e.wg.Done()
						e.catchUp(ctx)
					}()
				}
				connected = true
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.wg.Wait()
	}
}

func (e *Engine) catchUp(ctx context.Context) {
	if e.coord == nil {
		return
	}
	if err := e.coord.Refresh(ctx); err != nil {
		e.logger.Warn("refresh after reconnect failed", zap.Error(err))
	}
}

// Apply applies one real-time event to the store and reports the outcome.
// Events arriving after Logout are discarded.
func (e *Engine) Apply(ctx context.Context, evt bus.Event) chat.Result {
	if e.coord == nil {
		return e.apply(ctx, evt)
	}
	res := chat.Unchanged
	if !e.coord.active(func() { res = e.apply(ctx, evt) }) {
		e.logger.Debug("event after logout discarded", zap.String("kind", evt.Kind))
	}
	return res
}

func (e *Engine) apply(ctx context.Context, evt bus.Event) chat.Result {
	var (
		res     chat.Result
		roomID  string
		persist bool
	)
	switch p := evt.Payload.(type) {
	case chat.Message:
		if evt.Kind != bus.KindMessageCreated {
			return chat.Unchanged
		}
		roomID = p.ChatRoomID
		res = e.store.AddMessage(p.ChatRoomID, p)
		// The room list snapshot carries LastMessage.
		_, known := e.store.Room(p.ChatRoomID)
		persist = res == chat.Applied && known
	case transport.MessageRead:
		roomID = p.RoomID
		res = e.store.MarkMessagesRead(p.RoomID, p.MessageIDs, p.UserID)
		persist = res == chat.Applied
	case transport.RoomUpdated:
		roomID = p.ID
		res = e.store.UpdateRoom(p.ID, p.RoomPatch)
		if res == chat.NotFound {
			if stats := e.store.MergeRooms([]chat.ChatRoom{p.Room()}); stats.Changed() {
				res = chat.Applied
			}
		}
		persist = res == chat.Applied
	case transport.RoomDeleted:
		roomID = p.RoomID
		res = e.store.DeleteRoom(p.RoomID)
		if err := e.cache.DeleteRoom(ctx, p.RoomID); err != nil {
			e.logger.Warn("drop room from cache", zap.String("room_id", p.RoomID), zap.Error(err))
		}
	default:
		e.logger.Debug("ignoring event", zap.String("kind", evt.Kind))
		return chat.Unchanged
	}

	e.metrics.AppliedEvent(evt.Kind, res.String())
	if res == chat.NotFound {
		e.logger.Debug("event for unknown target", zap.String("kind", evt.Kind), zap.String("room_id", roomID))
	}
	if persist && e.coord != nil {
		e.coord.RequestPersist()
	}
	return res
}
