package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/roomsync/internal/api"
	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/cache"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/logging"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/outbox"
	"github.com/matheus3301/roomsync/internal/session"
	"github.com/matheus3301/roomsync/internal/state"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/store"
	intsync "github.com/matheus3301/roomsync/internal/sync"
	"github.com/matheus3301/roomsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Dir         string // optional override for testing; empty = session.Dir
	SocketPath  string // optional override for testing; empty = <dir>/daemon.sock
	ConfigPath  string // optional override; empty = session.ConfigPath
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	if p.Dir != "" {
		return filepath.Join(p.Dir, "daemon.sock")
	}
	return session.SocketPath(p.SessionName)
}

func (p Params) logPath() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "logs", "roomsyncd.log")
	}
	return session.LogPath(p.SessionName)
}

func (p Params) cacheDBPath() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "cache.db")
	}
	return session.CacheDBPath(p.SessionName)
}

func (p Params) pebbleDir() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "cache.pebble")
	}
	return session.PebbleDir(p.SessionName)
}

func (p Params) configPath() string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return session.ConfigPath()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideStateMachine,
			provideLock,
			provideBackend,
			provideCache,
			provideStore,
			provideHTTPClient,
			provideStream,
			provideCoordinator,
			provideSyncEngine,
			provideSender,
			provideRoomService,
			provideMessageService,
			provideSyncService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.LoadOrDefault(p.configPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(p.logPath(), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("instance", l.Holder().Instance))
	return l, nil
}

// provideBackend opens the configured cache backend. It depends on the lock
// so the files are only touched by the lock holder.
func provideBackend(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (cache.Backend, error) {
	if cfg.Cache.Backend == config.BackendPebble {
		dir := p.pebbleDir()
		kv, err := store.OpenPebble(dir)
		if err != nil {
			return nil, err
		}
		logger.Info("cache initialized", zap.String("backend", "pebble"), zap.String("path", dir))
		return kv, nil
	}

	dbPath := p.cacheDBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache schema migrated", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("cache schema up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("backend", "sqlite"), zap.String("path", dbPath))
	return db, nil
}

func provideCache(backend cache.Backend, logger *zap.Logger) *cache.Cache {
	return cache.New(backend, logger.Named("cache"))
}

func provideStore(cfg *config.Config, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *state.Store {
	return state.New(
		state.WithPolicy(cfg.Policy()),
		state.WithBus(b),
		state.WithMetrics(m),
		state.WithLogger(logger.Named("state")),
	)
}

func provideHTTPClient(cfg *config.Config, logger *zap.Logger) (*transport.HTTPClient, error) {
	return transport.NewHTTPClient(transport.HTTPConfig{
		BaseURL:         cfg.Server.BaseURL,
		Token:           cfg.Server.Token,
		Timeout:         cfg.Server.Timeout,
		RetryMaxElapsed: cfg.Server.RetryMaxElapsed,
		BreakerFailures: cfg.Server.BreakerFailures,
		BreakerCooldown: cfg.Server.BreakerCooldown,
	}, logger.Named("http"))
}

// provideStream returns nil when no stream URL is configured.
func provideStream(cfg *config.Config, logger *zap.Logger) *transport.WSStream {
	if cfg.Server.StreamURL == "" {
		return nil
	}
	return transport.NewWSStream(cfg.Server.StreamURL, cfg.Server.Token, logger.Named("stream"))
}

func provideCoordinator(cfg *config.Config, st *state.Store, c *cache.Cache, client *transport.HTTPClient, b *bus.Bus, m *status.Machine, mt *metrics.Metrics, logger *zap.Logger) *intsync.Coordinator {
	return intsync.NewCoordinator(st, c, client, b, m, mt, logger.Named("sync"), intsync.Config{
		MaxAge:           cfg.Cache.MaxAge,
		RefreshWhenFresh: cfg.Sync.RefreshWhenFresh,
		MessagePageSize:  cfg.Sync.MessagePageSize,
	})
}

func provideSyncEngine(st *state.Store, c *cache.Cache, coord *intsync.Coordinator, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(st, c, coord, b, m, logger.Named("engine"))
}

func provideSender(client *transport.HTTPClient, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(client, b, m, logger.Named("outbox"))
}

func provideRoomService(p Params, cfg *config.Config, st *state.Store, b *bus.Bus) *api.RoomService {
	return api.NewRoomService(st, b, p.SessionName, cfg.Server.UserID)
}

func provideMessageService(cfg *config.Config, st *state.Store, coord *intsync.Coordinator, sender *outbox.Sender) *api.MessageService {
	return api.NewMessageService(st, coord, sender, cfg.Server.UserID)
}

func provideSyncService(p Params, coord *intsync.Coordinator, m *status.Machine, st *state.Store, sender *outbox.Sender, lk *lock.Lock) *api.SyncService {
	return api.NewSyncService(coord, m, st, sender, p.SessionName, lk.Holder().Instance)
}

func provideMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	return NewMetricsServer(cfg.Metrics.Listen, m, logger)
}

type lifecycleDeps struct {
	fx.In

	Server      *Server
	Metrics     *MetricsServer
	Lock        *lock.Lock
	Cache       *cache.Cache
	Coordinator *intsync.Coordinator
	Engine      *intsync.Engine
	Sender      *outbox.Sender
	Stream      *transport.WSStream
	Bus         *bus.Bus
	Machine     *status.Machine
	Logger      *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())
	streamDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.Metrics.Start(); err != nil {
				return err
			}

			// Engine first so no real-time event is missed after hydration.
			d.Engine.Start(runCtx)
			d.Coordinator.Start(runCtx)
			d.Sender.Start(runCtx)

			go func() {
				defer close(streamDone)
				if d.Stream == nil {
					d.Logger.Warn("no stream_url configured, real-time updates disabled")
					return
				}
				if err := d.Stream.Run(runCtx, d.Bus); err != nil {
					d.Logger.Error("event stream stopped", zap.Error(err))
				}
			}()

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-streamDone
			d.Sender.Stop()
			d.Engine.Stop()
			d.Coordinator.Stop()
			if d.Machine.Current() != status.LoggedOut {
				if err := d.Coordinator.PersistRooms(ctx); err != nil {
					d.Logger.Warn("final persist failed", zap.Error(err))
				}
			}
			d.Server.Stop(ctx)
			if err := d.Metrics.Stop(ctx); err != nil {
				d.Logger.Warn("error stopping metrics server", zap.Error(err))
			}
			if err := d.Cache.Close(); err != nil {
				d.Logger.Warn("error closing cache", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
