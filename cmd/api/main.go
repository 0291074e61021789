package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/mail-ticket-service/internal/api/http"
	"github.com/spec-kit/mail-ticket-service/internal/api/http/handlers"
	"github.com/spec-kit/mail-ticket-service/internal/auth"
	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/events"
	"github.com/spec-kit/mail-ticket-service/internal/ingest"
	"github.com/spec-kit/mail-ticket-service/internal/mailbox"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
	"github.com/spec-kit/mail-ticket-service/internal/persistence"
	"github.com/spec-kit/mail-ticket-service/internal/repository"
	"github.com/spec-kit/mail-ticket-service/internal/repository/sqlite"
	"github.com/spec-kit/mail-ticket-service/internal/service"
	"github.com/spec-kit/mail-ticket-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ticket store", zap.Error(err))
	}
	defer store.Close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	notifications := service.NewNotificationService(redis.Client, logger.Named("notify"), metrics, cfg.Notification)
	notifier := worker.NewNotificationWorker(notifications, cfg.Notification.QueueSize, logger.Named("notify"), metrics)
	notifier.Subscribe(dispatcher)

	tickets := service.NewTicketService(store,
		service.WithLogger(logger),
		service.WithDispatcher(dispatcher),
		service.WithMetrics(metrics),
		service.WithExpiryPolicy(service.NewExpiryPolicy(cfg.Lifecycle)),
	)
	users := repository.NewUserDirectory(store.Users())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return notifier.Run(ctx) })

	if cfg.Lifecycle.SweepEnabled {
		sweeper := worker.NewExpirySweeper(tickets, cfg.Lifecycle, logger.Named("sweep"), metrics)
		group.Go(func() error { return sweeper.Run(ctx) })
	}

	if cfg.Mailbox.Enabled {
		connector := mailbox.NewConnector(cfg.Mailbox, logger.Named("mailbox"), mailbox.WithMetrics(metrics))
		consumer := ingest.NewConsumer(connector, tickets, users, cfg.Ingest,
			ingest.WithClaimer(ingest.NewRedisClaims(redis.Client, cfg.Ingest.ClaimTTL)),
			ingest.WithLogger(logger.Named("ingest")),
			ingest.WithMetrics(metrics),
		)
		group.Go(func() error { return connector.Run(ctx) })
		group.Go(func() error { return consumer.Run(ctx) })
		defer connector.Close() //nolint:errcheck
	}

	if cfg.App.HTTPEnabled {
		app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
		httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
		httptransport.RegisterRoutes(app, httptransport.RouteConfig{
			Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{"store": store, "redis": redis}),
			Metrics:        handlers.NewMetricsHandler(metrics),
			Tickets:        handlers.NewTicketsHandler(tickets, users),
			AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)),
		})

		group.Go(func() error {
			logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
			return app.Listen(cfg.App.Addr())
		})
		group.Go(func() error {
			<-ctx.Done()
			return app.ShutdownWithTimeout(10 * time.Second)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return
	}
	logger.Info("shutting down")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.Store.Driver == config.StoreDriverSQLite {
		logger.Info("using sqlite ticket store", zap.String("path", cfg.Store.SQLitePath))
		s, err := sqlite.NewStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, logger); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return repository.NewPostgresStore(pg.Pool), nil
}
