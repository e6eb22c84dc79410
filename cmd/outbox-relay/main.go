// Command outbox-relay publishes committed outbox rows for deployments that run
// the account service with OUTBOX_RELAY_ENABLED=false.
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

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/eaglebank/ledger/internal/broker"
	"github.com/eaglebank/ledger/internal/config"
	"github.com/eaglebank/ledger/internal/metrics"
	"github.com/eaglebank/ledger/internal/outbox"
	"github.com/eaglebank/ledger/internal/repository"
	sharedredis "github.com/eaglebank/ledger/shared/redis"
)

const serviceName = "outbox-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout, serviceName)

	if err := run(cfg, logger); err != nil {
		logger.Error("outbox relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *goredis.Client
	if cfg.Broker == broker.Redis {
		client, err := sharedredis.NewClient(ctx, sharedredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client.Client
	}

	bus, err := broker.Open(cfg.Broker, rdb, cfg.NATSURL, serviceName, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	collector := metrics.NewCollector()
	relay := outbox.NewRelay(repository.NewOutboxRepository(db), bus.Publisher, logger, collector, outbox.Config{
		Interval:  cfg.OutboxRelayInterval,
		BatchSize: cfg.OutboxBatchSize,
		Retention: cfg.OutboxRetention,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("outbox relay starting", "port", cfg.Port, "broker", cfg.Broker, "database", db.Driver())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := relay.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}
