package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/edgecall/internal/config"
	"github.com/prudhvinik1/edgecall/internal/database"
	"github.com/prudhvinik1/edgecall/internal/handlers"
	"github.com/prudhvinik1/edgecall/internal/relay"
	"github.com/prudhvinik1/edgecall/internal/repositories"
	"github.com/prudhvinik1/edgecall/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
)

const (
	// DevTokenExpiry only applies to tokens minted by the CLI.
	DevTokenExpiry  = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

// Module composes the server: storage, services, relay adapter and the HTTP
// boundary, plus the lifecycle hooks that start and stop them.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("edgecall",
		fx.Supply(cfg),
		fx.Provide(
			provideClock,
			providePostgres,
			provideRedis,
			provideCallRepository,
			provideMembershipRepository,
			provideBlockRepository,
			providePresenceRepository,
			services.NewMetrics,
			services.NewConnectionRegistry,
			providePresence,
			services.NewNotifier,
			providePendingCalls,
			provideLiveKit,
			provideCallService,
			provideWebhookService,
			provideAuth,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideClock() clock.Clock {
	return clock.New()
}

func providePostgres(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.RunMigrations {
		result, err := database.Migrate(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info().Uint("version", result.Version).Bool("changed", result.Changed).Msg("Migrations applied")
	}

	pool, err := database.NewPostgresPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

func provideRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	client, err := database.NewRedisClient(context.Background(), cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

func provideCallRepository(pool *pgxpool.Pool) repositories.CallRepository {
	return repositories.NewPostgresCallRepository(pool)
}

func provideMembershipRepository(pool *pgxpool.Pool) repositories.MembershipRepository {
	return repositories.NewPostgresMembershipRepository(pool)
}

func provideBlockRepository(pool *pgxpool.Pool) repositories.BlockRepository {
	return repositories.NewPostgresBlockRepository(pool)
}

func providePresenceRepository(client *redis.Client) repositories.PresenceRepository {
	return repositories.NewRedisPresenceRepository(client)
}

func providePresence(registry *services.ConnectionRegistry, lastSeen repositories.PresenceRepository, clk clock.Clock, cfg *config.Config) *services.PresenceService {
	return services.NewPresenceService(registry, lastSeen, clk, cfg.PresenceGrace)
}

func providePendingCalls(clk clock.Clock, cfg *config.Config, metrics *services.Metrics) *services.PendingCalls {
	return services.NewPendingCalls(clk, cfg.PendingCallTTL, cfg.PendingSweepInterval, metrics)
}

func provideLiveKit(cfg *config.Config) *relay.LiveKit {
	return relay.NewLiveKit(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.MediaTokenTTL)
}

func provideCallService(
	calls repositories.CallRepository,
	members repositories.MembershipRepository,
	notifier *services.Notifier,
	pending *services.PendingCalls,
	lk *relay.LiveKit,
	clk clock.Clock,
	metrics *services.Metrics,
) *services.CallService {
	return services.NewCallService(calls, members, notifier, pending, lk, clk, metrics)
}

func provideWebhookService(calls *services.CallService, clk clock.Clock, cfg *config.Config, metrics *services.Metrics) *services.WebhookService {
	return services.NewWebhookService(calls, clk, cfg.WebhookDedupeTTL, metrics)
}

func provideAuth(cfg *config.Config) *services.AuthService {
	return services.NewAuthService(cfg.JWTSecret, DevTokenExpiry)
}

type handlerParams struct {
	fx.In

	Config   *config.Config
	Auth     *services.AuthService
	Registry *services.ConnectionRegistry
	Presence *services.PresenceService
	Notifier *services.Notifier
	Calls    *services.CallService
	Webhooks *services.WebhookService
	Media    *relay.LiveKit
	Clock    clock.Clock
}

func provideHandler(p handlerParams) *handlers.Handler {
	return handlers.NewHandler(handlers.Deps{
		Auth:        p.Auth,
		Registry:    p.Registry,
		Presence:    p.Presence,
		Notifier:    p.Notifier,
		Calls:       p.Calls,
		Webhooks:    p.Webhooks,
		Media:       p.Media,
		Clock:       p.Clock,
		InternalKey: p.Config.InternalAPIKey,
	})
}

func provideServer(cfg *config.Config, h *handlers.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *http.Server, pending *services.PendingCalls) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}

			pending.Start(context.Background())

			go func() {
				log.Info().Str("addr", srv.Addr).Msg("Starting server")
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("Server error")
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Shutting down server...")
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			err := srv.Shutdown(ctx)
			pending.Stop()
			log.Info().Msg("Server stopped gracefully")
			return err
		},
	})
}
