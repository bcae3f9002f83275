package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/sagapay/backend/api/routes"
	"github.com/sagapay/backend/internal/idempotency"
	"github.com/sagapay/backend/internal/orders"
	"github.com/sagapay/backend/internal/payments"
	"github.com/sagapay/backend/pkg/bus"
	"github.com/sagapay/backend/pkg/config"
	"github.com/sagapay/backend/pkg/db"
	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/metrics"
	"github.com/sagapay/backend/pkg/migrate"
	"github.com/sagapay/backend/pkg/pubsub"
	"github.com/sagapay/backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "migrations", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	busMetrics := metrics.NewBusMetrics(registry)
	sagaMetrics := metrics.NewSagaMetrics(registry)

	var (
		guard        idempotency.Guard
		extraPingers []db.Pinger
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		guard, err = idempotency.NewRedisGuard(redisClient, cfg.Redis.ProcessedTTL)
		requireResource(ctx, logg, "idempotency guard", err)
		extraPingers = append(extraPingers, redisClient)
	} else {
		guard, err = idempotency.NewDBGuard(dbClient.DB())
		requireResource(ctx, logg, "idempotency guard", err)
	}

	var transport bus.Bus
	switch cfg.Bus.Transport {
	case config.BusTransportPubSub:
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		requireResource(ctx, logg, "pubsub", err)
		transport, err = bus.NewPubSub(psClient, logg, busMetrics)
		requireResource(ctx, logg, "bus", err)
		extraPingers = append(extraPingers, psClient)
	default:
		transport = bus.NewMemory(bus.MemoryOptions{
			BufferSize:  cfg.Bus.BufferSize,
			Workers:     cfg.Bus.Workers,
			MaxAttempts: cfg.Bus.MaxAttempts,
			Logger:      logg,
			Metrics:     busMetrics,
		})
	}

	retryPub := bus.NewRetryPublisher(transport, cfg.Bus.PublishAttempts, cfg.Bus.PublishBackoff, logg)

	if cfg.Saga.SeedBalances {
		err = payments.SeedBalances(ctx, dbClient.DB(), logg)
		requireResource(ctx, logg, "seed balances", err)
	}

	waiters := orders.NewWaiters()
	orderRepo := orders.NewRepository(dbClient.DB())
	orderService := orders.NewService(orderRepo, retryPub, waiters, logg, sagaMetrics, cfg.Saga.AwaitTimeout)

	orders.NewReconciler(orderRepo, dbClient, guard, retryPub, waiters, logg).Register(transport)
	payments.NewProcessor(
		payments.NewRepository(dbClient.DB()),
		dbClient,
		guard,
		retryPub,
		logg,
		sagaMetrics,
	).Register(transport)

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	busDone := make(chan error, 1)
	go func() {
		busDone <- transport.Run(busCtx)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, orderService, registry, extraPingers...),
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	startCtx := logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"transport": cfg.Bus.Transport,
	})
	logg.Info(startCtx, "api server started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	stopBus()
	if err := <-busDone; err != nil && !errors.Is(err, context.Canceled) {
		closeErr = multierr.Append(closeErr, err)
	}
	closeErr = multierr.Append(closeErr, transport.Close())

	if closeErr != nil {
		logg.Error(ctx, "shutdown finished with errors", closeErr)
		os.Exit(1)
	}
	logg.Info(ctx, "shutdown complete")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
