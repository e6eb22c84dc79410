package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/eaglebank/ledger/internal/broker"
	"github.com/eaglebank/ledger/internal/command"
	"github.com/eaglebank/ledger/internal/config"
	"github.com/eaglebank/ledger/internal/dispatch"
	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/handler"
	"github.com/eaglebank/ledger/internal/metrics"
	"github.com/eaglebank/ledger/internal/outbox"
	"github.com/eaglebank/ledger/internal/query"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/migrations"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/models"
	sharedredis "github.com/eaglebank/ledger/shared/redis"
)

const (
	serviceName  = "account-service"
	viewCacheTTL = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout, serviceName)

	if err := run(cfg, logger); err != nil {
		logger.Error("account service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Write store
	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL, migrations.FS, logger); err != nil {
		return err
	}

	// Redis: view cache and stream transport
	var rdb *sharedredis.Client
	if cfg.CacheEnabled || cfg.Broker == broker.Redis {
		rdb, err = sharedredis.NewClient(ctx, sharedredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var cache *sharedredis.ViewCache[models.AccountView]
	if cfg.CacheEnabled {
		cache = sharedredis.NewViewCache[models.AccountView](rdb.Client, viewCacheTTL, logger)
	}

	bus, err := broker.Open(cfg.Broker, redisOrNil(rdb), cfg.NATSURL, serviceName, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	// --- CQRS wiring ---
	collector := metrics.NewCollector()

	readRepo := repository.NewAccountReadRepository(db, cache, logger)
	outboxRepo := repository.NewOutboxRepository(db)

	dispatcher := dispatch.New(logger, collector)
	dispatcher.SubscribeAll(readRepo.ProjectEvent)
	dispatcher.SubscribeAll(func(_ context.Context, e domain.Event) error {
		logger.Debug("domain event committed", "event", e.EventName(), "account_id", e.AggregateID(), "event_id", e.EventID())
		return nil
	})

	relay := outbox.NewRelay(outboxRepo, bus.Publisher, logger, collector, outbox.Config{
		Interval:  cfg.OutboxRelayInterval,
		BatchSize: cfg.OutboxBatchSize,
		Retention: cfg.OutboxRetention,
	})

	uowOpts := []repository.UnitOfWorkOption{repository.WithDispatcher(dispatcher)}
	if cfg.OutboxRelayEnabled {
		uowOpts = append(uowOpts, repository.WithOutboxNotify(relay.Notify))
	}
	uow := repository.NewUnitOfWork(db, logger, uowOpts...)

	commandSvc := command.NewAccountCommandService(uow, logger, collector, cfg.CommandMaxAttempts)
	querySvc := query.NewAccountQueryService(readRepo, logger)
	consumer := command.NewTransactionConsumer(uow, logger, collector, cfg.CommandMaxAttempts)

	subscriber, err := bus.Subscriber(events.SubscriberConfig{
		Group:         cfg.ConsumerGroup,
		Consumer:      cfg.ConsumerName,
		Stream:        events.TransactionEventsStream,
		Handler:       consumer.Handle,
		ClaimIdle:     cfg.ConsumerClaimIdle,
		MaxDeliveries: cfg.ConsumerMaxDeliveries,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	handler.NewAccountHandler(commandSvc, querySvc).
		RegisterRoutes(router, middleware.AuthMiddleware([]byte(cfg.JWTSecret)))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("account service starting", "port", cfg.Port, "broker", cfg.Broker, "database", db.Driver())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(subscriber.Start(gctx))
	})
	if cfg.OutboxRelayEnabled {
		g.Go(func() error {
			return ignoreCanceled(relay.Run(gctx))
		})
	}

	return g.Wait()
}

func redisOrNil(c *sharedredis.Client) *goredis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
