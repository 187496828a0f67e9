package daemon

import (
	"context"

	"github.com/matheus3301/minichat/internal/api"
	"github.com/matheus3301/minichat/internal/backoff"
	"github.com/matheus3301/minichat/internal/bus"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/config"
	"github.com/matheus3301/minichat/internal/conversation"
	"github.com/matheus3301/minichat/internal/llm"
	"github.com/matheus3301/minichat/internal/lock"
	"github.com/matheus3301/minichat/internal/logging"
	"github.com/matheus3301/minichat/internal/proxy"
	"github.com/matheus3301/minichat/internal/session"
	"github.com/matheus3301/minichat/internal/status"
	"github.com/matheus3301/minichat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // nil = config.Default()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideReporter,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDB,
			providePersister,
			provideConversationStore,
			provideProxy,
			provideCompleter,
			provideController,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideReporter(p Params, cfg *config.Config, logger *zap.Logger) *Reporter {
	return NewReporter(cfg.SentryDSN, p.SessionName, logger)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideDB takes the lock so the database is only opened by its owner.
func provideDB(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed() {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("to", result.To))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.To))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func providePersister(db *store.DB, logger *zap.Logger) conversation.Persister {
	return store.NewAppStateStore(db, logger.Named("store"))
}

func provideConversationStore(persister conversation.Persister, b *bus.Bus, reporter *Reporter, logger *zap.Logger) *conversation.Store {
	st := conversation.NewStore(persister,
		conversation.WithBus(b),
		conversation.WithLogger(logger.Named("conversation")),
		conversation.WithPersistErrorFunc(reporter.Capture),
	)
	if err := st.Init(context.Background()); err != nil {
		logger.Warn("starting with a fresh conversation list", zap.Error(err))
		reporter.Capture(err)
	}
	return st
}

func provideProxy(cfg *config.Config, logger *zap.Logger) (*proxy.Proxy, error) {
	px := proxy.New(proxy.Config{
		Addr:       cfg.Proxy.Addr,
		BackendURL: cfg.Backend.URL,
		RateLimit: proxy.RateLimitConfig{
			RequestsPerSecond: cfg.Proxy.RateLimitRPS,
			Burst:             cfg.Proxy.RateLimitBurst,
		},
	}, nil, logger.Named("proxy"))
	if err := px.Listen(); err != nil {
		return nil, err
	}
	return px, nil
}

func provideCompleter(px *proxy.Proxy) llm.Completer {
	return llm.NewHTTPCompleter(px.URL(), nil)
}

func provideController(cfg *config.Config, st *conversation.Store, machine *status.Machine, completer llm.Completer, b *bus.Bus, reporter *Reporter, logger *zap.Logger) *chat.Controller {
	return chat.NewController(st, machine, completer, b, logger.Named("chat"), chat.Options{
		Request: llm.Options{
			AttemptTimeout: cfg.Request.AttemptTimeout(),
			MaxRetries:     cfg.Request.MaxRetries,
			Backoff:        backoff.Policy{Base: cfg.Request.BaseBackoff()},
		},
		SuccessRevert: cfg.Request.SuccessRevert(),
		FailureRevert: cfg.Request.FailureRevert(),
		ReportError:   reporter.Capture,
	})
}

func provideService(p Params, px *proxy.Proxy, st *conversation.Store, ctrl *chat.Controller, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, px.URL(), st, ctrl, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, svc *api.Service, px *proxy.Proxy, ctrl *chat.Controller, db *store.DB, lk *lock.Lock, reporter *Reporter, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			px.Serve()
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Cancel first so a blocked Send RPC lets GracefulStop finish.
			ctrl.Close()
			svc.Shutdown()
			srv.Stop(ctx)
			if err := px.Shutdown(ctx); err != nil {
				logger.Warn("error stopping proxy", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			reporter.Flush()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
