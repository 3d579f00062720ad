package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPConfig configures the REST client.
type HTTPConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// HTTPClient talks to the chat backend's REST API.
type HTTPClient struct {
	base   *url.URL
	token  string
	http   *http.Client
	cb     *gobreaker.CircuitBreaker
	retry  time.Duration
	logger *zap.Logger
}

// NewHTTPClient builds a client for cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		// Zero would mean retry forever.
		cfg.RetryMaxElapsed = 10 * time.Second
	}

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	st := gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			// Client errors say nothing about backend health.
			return err == nil || (errors.As(err, &se) && se.Code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &HTTPClient{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Transport: tr, Timeout: cfg.Timeout},
		cb:     gobreaker.NewCircuitBreaker(st),
		retry:  cfg.RetryMaxElapsed,
		logger: logger,
	}, nil
}

// FetchRooms implements RoomFetcher.
func (c *HTTPClient) FetchRooms(ctx context.Context) ([]chat.ChatRoom, error) {
	var rooms []chat.ChatRoom
	if err := c.do(ctx, http.MethodGet, "rooms", nil, nil, &rooms); err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	return rooms, nil
}

// FetchMessages implements MessageFetcher.
func (c *HTTPClient) FetchMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, "rooms/"+url.PathEscape(roomID)+"/messages", q, nil, &msgs); err != nil {
		return nil, fmt.Errorf("fetch messages for %q: %w", roomID, err)
	}
	return msgs, nil
}

// SendReadReceipt implements ReceiptSender.
func (c *HTTPClient) SendReadReceipt(ctx context.Context, roomID string, messageIDs []string) error {
	body := map[string][]string{"message_ids": messageIDs}
	if err := c.do(ctx, http.MethodPost, "rooms/"+url.PathEscape(roomID)+"/read", nil, body, nil); err != nil {
		return fmt.Errorf("send read receipt for %q: %w", roomID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	target := c.base.JoinPath(path)
	target.RawQuery = query.Encode()

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			se := &StatusError{Code: resp.StatusCode, Body: string(snippet)}
			if resp.StatusCode >= 500 {
				return se
			}
			return backoff.Permanent(se)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = c.retry
		return nil, backoff.Retry(attempt, backoff.WithContext(b, ctx))
	})
	if err != nil {
		c.logger.Debug("backend request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	return err
}
