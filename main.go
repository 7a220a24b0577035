package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"stock-trading-backend/api"
	"stock-trading-backend/cache"
	"stock-trading-backend/config"
	"stock-trading-backend/events"
	"stock-trading-backend/relay"
	"stock-trading-backend/store"
	"stock-trading-backend/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.Tracing.ServiceName, cfg.LogLevel)
	// Balances, prices and event payloads go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	db, err := openStore(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database ready", "driver", db.Driver())

	var st store.Store = db
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, balance reads fall back to the database", "error", err)
		}
		st = cache.NewStore(db, cache.NewRedisBackend(rdb), cfg.Redis.TTL, logger)
		logger.Info("balance cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.Enabled() {
		mq := events.NewRabbitMQ(cfg.RabbitMQ.URL(), logger)
		if err := mq.Connect(ctx); err != nil {
			logger.Warn("RabbitMQ unavailable, will retry on publish", "error", err)
		}
		publisher = mq
	}
	defer publisher.Close()

	var notifier relay.Notifier
	if cfg.Relay.Enabled() {
		notifier = relay.NewClient(cfg.Relay, logger)
		logger.Info("order relay enabled", "url", cfg.Relay.URL)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Options{
			Store:        st,
			Events:       publisher,
			Relay:        notifier,
			Logger:       logger,
			ServiceName:  cfg.Tracing.ServiceName,
			ServiceToken: cfg.Relay.AuthToken,
			CORSOrigins:  cfg.CORS,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	events.Announce(ctx, publisher, logger, events.ServiceStarted, cfg.Tracing.ServiceName,
		events.Event{"addr": srv.Addr, "db_driver": db.Driver()})
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		events.Announce(ctx, publisher, logger, events.ServiceStopped, cfg.Tracing.ServiceName,
			events.Event{"reason": err.Error()})
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	events.Announce(ctx, publisher, logger, events.ServiceStopped, cfg.Tracing.ServiceName,
		events.Event{"reason": "signal"})
	logger.Info("stock trading backend stopped")
	return nil
}

// openStore waits for the database to accept connections.
func openStore(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*store.SQLStore, error) {
	const maxRetries = 10
	var err error
	for i := 0; i < maxRetries; i++ {
		var db *store.SQLStore
		if db, err = store.Open(ctx, cfg.Driver, cfg.DSN); err == nil {
			return db, nil
		}
		logger.Warn("waiting for database", "attempt", i+1, "max", maxRetries, "error", err)
		time.Sleep(3 * time.Second)
	}
	return nil, err
}
