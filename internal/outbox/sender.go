// Package outbox confirms read receipts with the server after they have
// already been applied to the local store.
package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/transport"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is how many times a receipt is tried before it is dropped.
const DefaultMaxAttempts = 5

// Receipt is one pending read confirmation for a room.
type Receipt struct {
	ID         string
	RoomID     string
	MessageIDs []string
	Attempts   int
	LastError  string
}

// Ack is the payload of receipt.ack events.
type Ack struct {
	ID         string
	RoomID     string
	MessageIDs []string
}

// Failure is the payload of receipt.failed events.
type Failure struct {
	ID       string
	RoomID   string
	Attempts int
	Error    string
}

// Sender drains the receipt queue and confirms reads via the transport.
// Local read state is never rolled back on failure.
type Sender struct {
	mu          sync.Mutex
	queue       []Receipt
	sender      transport.ReceiptSender
	bus         *bus.Bus
	metrics     *metrics.Metrics
	logger      *zap.Logger
	maxAttempts int
	interval    time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSender creates a new receipt sender.
func NewSender(sender transport.ReceiptSender, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		sender:      sender,
		bus:         b,
		metrics:     m,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		interval:    500 * time.Millisecond,
	}
}

// Enqueue queues a read confirmation. Ids for a room that is already
// queued are folded into the pending receipt. Returns the receipt id.
func (s *Sender) Enqueue(roomID string, messageIDs []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(Receipt{RoomID: roomID, MessageIDs: messageIDs})
}

func (s *Sender) enqueueLocked(r Receipt) string {
	for i := range s.queue {
		q := &s.queue[i]
		if q.RoomID != r.RoomID {
			continue
		}
		q.MessageIDs = union(q.MessageIDs, r.MessageIDs)
		q.Attempts = max(q.Attempts, r.Attempts)
		return q.ID
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.MessageIDs = union(nil, r.MessageIDs)
	s.queue = append(s.queue, r)
	return r.ID
}

// Pending returns a copy of the queued receipts.
func (s *Sender) Pending() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Receipt, len(s.queue))
	for i, r := range s.queue {
		r.MessageIDs = slices.Clone(r.MessageIDs)
		out[i] = r
	}
	return out
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop. Queued receipts are dropped.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for i, r := range batch {
		if ctx.Err() != nil {
			s.requeue(batch[i:])
			return
		}
		err := s.sender.SendReadReceipt(ctx, r.RoomID, r.MessageIDs)
		s.metrics.Receipt(err)
		if err == nil {
			s.logger.Debug("read receipt confirmed", zap.String("room_id", r.RoomID), zap.Int("messages", len(r.MessageIDs)))
			s.bus.Emit(bus.KindReceiptAck, Ack{ID: r.ID, RoomID: r.RoomID, MessageIDs: r.MessageIDs})
			continue
		}

		r.Attempts++
		r.LastError = err.Error()
		if r.Attempts >= s.maxAttempts {
			s.logger.Error("giving up on read receipt", zap.Error(err), zap.String("room_id", r.RoomID), zap.Int("attempts", r.Attempts))
			s.bus.Emit(bus.KindReceiptFailed, Failure{ID: r.ID, RoomID: r.RoomID, Attempts: r.Attempts, Error: r.LastError})
			continue
		}
		s.logger.Warn("read receipt failed, will retry", zap.Error(err), zap.String("room_id", r.RoomID), zap.Int("attempts", r.Attempts))
		s.requeue([]Receipt{r})
	}
}

func (s *Sender) requeue(rs []Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		s.enqueueLocked(r)
	}
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
