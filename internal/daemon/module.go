package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adaspace/chatcore/internal/bus"
	"github.com/adaspace/chatcore/internal/config"
	"github.com/adaspace/chatcore/internal/identity"
	"github.com/adaspace/chatcore/internal/lock"
	"github.com/adaspace/chatcore/internal/logging"
	"github.com/adaspace/chatcore/internal/outbox"
	"github.com/adaspace/chatcore/internal/session"
	"github.com/adaspace/chatcore/internal/store"
	intsync "github.com/adaspace/chatcore/internal/sync"
	"github.com/adaspace/chatcore/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideDB,
			provideStore,
			provideIdentity,
			provideSession,
			provideCoordinator,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideDB(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("path", dbPath))
	return db, nil
}

func provideStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(db, b, logger)
}

func provideIdentity(p Params, b *bus.Bus) *identity.Provider {
	return identity.NewProvider(session.AccountPath(p.Profile), b)
}

func provideSession(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Session {
	factory := transport.NewPahoFactory(cfg.Broker, logger)
	return transport.NewSession(factory, b, logger)
}

func provideCoordinator(s *store.Store, sess *transport.Session, p *identity.Provider, b *bus.Bus, logger *zap.Logger) *intsync.Coordinator {
	return intsync.New(s, sess, p, b, logger)
}

func provideSender(s *store.Store, sess *transport.Session, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(s, sess, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, coordinator *intsync.Coordinator, sender *outbox.Sender, sess *transport.Session, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := coordinator.Start(context.Background()); err != nil {
				return err
			}
			sender.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			coordinator.Stop()
			sess.Disconnect()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
