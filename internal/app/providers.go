package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/livepresence/internal/auth"
	"github.com/nfrund/livepresence/internal/chat"
	"github.com/nfrund/livepresence/internal/config"
	"github.com/nfrund/livepresence/internal/database"
	"github.com/nfrund/livepresence/internal/directory"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/logging"
	"github.com/nfrund/livepresence/internal/presence"
	"github.com/nfrund/livepresence/internal/protocol"
	"github.com/nfrund/livepresence/internal/pubsub"
	"github.com/nfrund/livepresence/internal/server"
	"github.com/nfrund/livepresence/internal/websocket"
	"github.com/samber/do/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"
)

// Names of the two websocket bridges in the injector.
const (
	PresenceBridge = "websocket.presence"
	ChatBridge     = "websocket.chat"
)

// startupTimeout bounds connecting to Postgres and Redis.
const startupTimeout = 30 * time.Second

// tracing owns the tracer provider so the injector can flush it on shutdown.
type tracing struct {
	enabled bool
	tracer  trace.Tracer
	cleanup func()
}

func (t *tracing) Shutdown() {
	t.cleanup()
}

// register wires every service into the injector. Services are built lazily
// on first Invoke.
func register(i do.Injector) {
	do.Provide(i, provideLogger)
	do.Provide(i, provideTracing)
	do.Provide(i, provideBus)
	do.Provide(i, provideAuth)
	do.Provide(i, provideDirectory)
	do.Provide(i, provideLastSeenStore)
	do.ProvideNamed(i, PresenceBridge, providePresenceBridge)
	do.ProvideNamed(i, ChatBridge, provideChatBridge)
	do.Provide(i, provideRegistry)
	do.Provide(i, provideRouter)
	do.Provide(i, providePresenceSubscriber)
	do.Provide(i, provideChatSubscriber)
	do.Provide(i, provideServer)
}

func provideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return logging.NewWith(cfg.LogFormat, cfg.LogLevel), nil
}

func provideTracing(i do.Injector) (*tracing, error) {
	tcfg := pubsub.LoadTracingConfigFromEnv()
	tracer, cleanup, err := pubsub.SetupOTel(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	return &tracing{enabled: tcfg.Enabled, tracer: tracer, cleanup: cleanup}, nil
}

func provideBus(i do.Injector) (*pubsub.WatermillBridge, error) {
	logger := do.MustInvoke[*slog.Logger](i)
	tr, err := do.Invoke[*tracing](i)
	if err != nil {
		return nil, err
	}

	opts := []pubsub.BridgeOption{pubsub.WithLogger(logger)}
	if tr.enabled {
		opts = append(opts, pubsub.WithTracer(tr.tracer))
	}
	return pubsub.NewWatermillBridge(opts...), nil
}

func provideAuth(i do.Injector) (*auth.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry), nil
}

// directoryUsers returns the DIRECTORY_USERS seed.
func directoryUsers(cfg *config.Config) ([]domain.User, error) {
	entries, err := config.ParseDirectoryUsers(cfg.DirectoryUsers)
	if err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e config.DirectoryEntry, _ int) domain.User {
		return domain.User{ID: e.ID, Username: e.Name}
	}), nil
}

// seeder is implemented by every directory backend.
type seeder interface {
	domain.UserDirectory
	Upsert(ctx context.Context, u domain.User) error
}

// provideDirectory uses Postgres when DATABASE_URL is set and an in-memory
// directory otherwise. The DIRECTORY_USERS seed goes into either.
func provideDirectory(i do.Injector) (domain.UserDirectory, error) {
	cfg := do.MustInvoke[*config.Config](i)
	users, err := directoryUsers(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	var dir seeder
	if cfg.DatabaseURL == "" {
		dir = directory.NewMemory()
	} else {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := directory.NewPostgres(pool)
		// Migration and seeding may outlast the per-statement default.
		ctx = database.WithExecTimeout(ctx, startupTimeout)
		if err := pg.Migrate(ctx); err != nil {
			pg.Shutdown()
			return nil, err
		}
		dir = pg
	}

	for _, u := range users {
		if err := dir.Upsert(ctx, u); err != nil {
			if pg, ok := dir.(*directory.Postgres); ok {
				pg.Shutdown()
			}
			return nil, err
		}
	}
	return dir, nil
}

// provideLastSeenStore mirrors last-seen times into Redis when REDIS_URL is
// set and keeps them in memory otherwise.
func provideLastSeenStore(i do.Injector) (presence.LastSeenStore, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.RedisURL == "" {
		return presence.NewMemoryLastSeenStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	client, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return presence.NewRedisLastSeenStore(client, ""), nil
}

func newBridge(i do.Injector, channel domain.Channel, frames ...string) (*websocket.Bridge, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	bus, err := do.Invoke[*pubsub.WatermillBridge](i)
	if err != nil {
		return nil, err
	}
	return websocket.NewBridge(channel, bus,
		websocket.WithAllowedFrames(frames...),
		websocket.WithOriginPatterns(cfg.WSAllowedOrigins...),
		websocket.WithSendBuffer(cfg.WSSendBuffer),
		websocket.WithLogger(logger),
	), nil
}

func providePresenceBridge(i do.Injector) (*websocket.Bridge, error) {
	return newBridge(i, domain.ChannelPresence, protocol.TypeGetOnlineUsers)
}

func provideChatBridge(i do.Injector) (*websocket.Bridge, error) {
	return newBridge(i, domain.ChannelChat, protocol.TypeSendMessage)
}

func provideRegistry(i do.Injector) (*presence.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	store, err := do.Invoke[presence.LastSeenStore](i)
	if err != nil {
		return nil, err
	}
	bridge, err := do.InvokeNamed[*websocket.Bridge](i, PresenceBridge)
	if err != nil {
		return nil, err
	}

	return presence.NewRegistry(
		presence.WithGracePeriod(cfg.PresenceGracePeriod),
		presence.WithSweepInterval(cfg.PresenceSweepInterval),
		presence.WithLastSeenStore(store),
		presence.WithEvictHandler(presence.EvictVia(bridge, logger)),
		presence.WithLogger(logger),
	), nil
}

func provideRouter(i do.Injector) (*chat.Router, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	dir, err := do.Invoke[domain.UserDirectory](i)
	if err != nil {
		return nil, err
	}
	bridge, err := do.InvokeNamed[*websocket.Bridge](i, ChatBridge)
	if err != nil {
		return nil, err
	}

	return chat.NewRouter(dir, bridge,
		chat.WithLimiter(chat.NewSenderLimiter(cfg.ChatRateLimit, cfg.ChatRateBurst)),
		chat.WithLogger(logger),
	), nil
}

func providePresenceSubscriber(i do.Injector) (*presence.Subscriber, error) {
	reg, err := do.Invoke[*presence.Registry](i)
	if err != nil {
		return nil, err
	}
	bridge, err := do.InvokeNamed[*websocket.Bridge](i, PresenceBridge)
	if err != nil {
		return nil, err
	}
	return presence.NewSubscriber(reg, bridge, do.MustInvoke[*slog.Logger](i)), nil
}

func provideChatSubscriber(i do.Injector) (*chat.Subscriber, error) {
	router, err := do.Invoke[*chat.Router](i)
	if err != nil {
		return nil, err
	}
	bridge, err := do.InvokeNamed[*websocket.Bridge](i, ChatBridge)
	if err != nil {
		return nil, err
	}
	return chat.NewSubscriber(router, bridge, do.MustInvoke[*slog.Logger](i)), nil
}

func provideServer(i do.Injector) (*server.Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	verifier, err := do.Invoke[*auth.Service](i)
	if err != nil {
		return nil, err
	}
	reg, err := do.Invoke[*presence.Registry](i)
	if err != nil {
		return nil, err
	}
	presenceBridge, err := do.InvokeNamed[*websocket.Bridge](i, PresenceBridge)
	if err != nil {
		return nil, err
	}
	chatBridge, err := do.InvokeNamed[*websocket.Bridge](i, ChatBridge)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Dependencies{
		Config:         cfg,
		Verifier:       verifier,
		Registry:       reg,
		PresenceBridge: presenceBridge,
		ChatBridge:     chatBridge,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	srv.RegisterRoutes()
	return srv, nil
}
