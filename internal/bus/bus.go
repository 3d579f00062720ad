package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped uint64
}

type subscription struct {
	namespace string
	ch        chan Event
	block     bool
	done      chan struct{}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// evt.Kind. A full subscriber misses the event, except blocking subscribers,
// which Publish waits on until they take it or unsubscribe.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	var (
		missed  uint64
		waiting []*subscription
	)
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			if sub.block {
				waiting = append(waiting, sub)
			} else {
				missed++
			}
		}
	}
	b.mu.RUnlock()

	// Waiting happens outside the lock: a blocking subscriber may itself
	// publish while handling the event.
	for _, sub := range waiting {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		}
	}

	if missed > 0 {
		b.mu.Lock()
		b.dropped += missed
		b.mu.Unlock()
	}
}

// Emit publishes an event of the given kind stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, false)
}

// SubscribeBlocking is like Subscribe, but publishers wait for buffer space
// instead of dropping events. The subscriber must keep draining the channel
// or unsubscribe.
func (b *Bus) SubscribeBlocking(namespace string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(namespace, bufSize, true)
}

func (b *Bus) subscribe(namespace string, bufSize int, block bool) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
		block:     block,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
