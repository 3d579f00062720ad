package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/roomsync/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer serves /metrics. A nil *MetricsServer is disabled.
type MetricsServer struct {
	srv    *http.Server
	addr   string
	ln     net.Listener
	logger *zap.Logger
}

// NewMetricsServer returns nil when listen is empty.
func NewMetricsServer(listen string, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &MetricsServer{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr:   listen,
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *MetricsServer) Start() error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.ln = ln
	s.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *MetricsServer) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
