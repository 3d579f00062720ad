package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/roomsync/internal/bus"
	"go.uber.org/zap"
)

// WSStream reads real-time events from a websocket endpoint and publishes
// them on the bus, reconnecting with exponential backoff.
type WSStream struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger

	// newBackOff is swapped in tests to keep reconnects fast.
	newBackOff func() backoff.BackOff
}

// NewWSStream creates a stream for the given ws:// or wss:// URL.
func NewWSStream(url, token string, logger *zap.Logger) *WSStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSStream{
		url:    url,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run keeps the stream connected until ctx is cancelled. Every decoded
// frame is published as an rt.* event; undecodable frames are logged and
// skipped.
func (s *WSStream) Run(ctx context.Context, b *bus.Bus) error {
	bo := backoff.WithContext(s.newBackOff(), ctx)
	for {
		err := s.session(ctx, b, bo)
		if ctx.Err() != nil {
			return nil
		}
		b.Emit(bus.KindStreamDown, err.Error())

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("event stream: %w", err)
		}
		s.logger.Warn("event stream disconnected", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *WSStream) session(ctx context.Context, b *bus.Bus, bo backoff.BackOff) error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	bo.Reset()
	s.logger.Info("event stream connected", zap.String("url", s.url))
	b.Emit(bus.KindStreamUp, nil)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return fmt.Errorf("closed by server")
			}
			return fmt.Errorf("read: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		evt, err := Decode(env)
		if err != nil {
			s.logger.Warn("dropping undecodable event", zap.String("kind", env.Kind), zap.Error(err))
			continue
		}
		b.Publish(evt)
	}
}
