package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/merchantdesk/chatsync/internal/bus"
	"github.com/merchantdesk/chatsync/internal/config"
	"github.com/merchantdesk/chatsync/internal/conn"
	"github.com/merchantdesk/chatsync/internal/engine"
	"github.com/merchantdesk/chatsync/internal/identity"
	"github.com/merchantdesk/chatsync/internal/lock"
	"github.com/merchantdesk/chatsync/internal/logging"
	"github.com/merchantdesk/chatsync/internal/rest"
	"github.com/merchantdesk/chatsync/internal/session"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideSessionConfig,
			provideIdentity,
			provideREST,
			provideCore,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *conn.Machine {
	return conn.NewMachine(b)
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

func provideSessionConfig(p Params) (*config.Session, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.SessionConfigPath(p.SessionName)
	}
	return config.LoadSession(path)
}

func provideIdentity(cfg *config.Session) (identity.Identity, identity.Credentials, error) {
	return identity.FromConfig(cfg)
}

// provideREST builds the REST collaborator when the session names an API
// endpoint. Nil is a valid result: the realtime stream alone keeps the index
// current and mark-read stays local.
func provideREST(cfg *config.Session) *rest.Client {
	if cfg.Server.APIURL == "" {
		return nil
	}
	return rest.NewClient(cfg.Server.APIURL, cfg.Auth.Token)
}

// provideCore wires the engine and the connection manager together. The two
// reference each other (frames flow manager -> engine, commands flow
// engine -> manager), so they are built in one place with the handler
// closing over the engine.
func provideCore(cfg *config.Session, id identity.Identity, restc *rest.Client, machine *conn.Machine, b *bus.Bus, logger *zap.Logger) (*engine.Engine, *conn.Manager) {
	var eng *engine.Engine
	handler := conn.HandlerFunc(func(evt any) { eng.HandleFrame(evt) })

	opts := conn.Options{}
	if cfg.ReconnectDelayMs > 0 {
		opts.ReconnectDelay = time.Duration(cfg.ReconnectDelayMs) * time.Millisecond
	}
	mgr := conn.NewManager(cfg.Server.WSURL, machine, handler, logger, opts)

	var api engine.API
	if restc != nil {
		api = restc
	}
	eng = engine.New(id, mgr, api, b, logger)
	return eng, mgr
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *conn.Manager, id identity.Identity, creds identity.Credentials, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()
			return mgr.Connect(context.Background(), id, creds)
		},
		OnStop: func(ctx context.Context) error {
			mgr.Teardown()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
