package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/sagapay/backend/internal/idempotency"
	"github.com/sagapay/backend/internal/orders"
	"github.com/sagapay/backend/internal/payments"
	"github.com/sagapay/backend/pkg/bus"
	"github.com/sagapay/backend/pkg/config"
	"github.com/sagapay/backend/pkg/db"
	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/metrics"
	"github.com/sagapay/backend/pkg/pubsub"
	"github.com/sagapay/backend/pkg/redis"
)

// The worker is a consumer-only node: it runs the payment processor and the
// order reconciler over Pub/Sub without serving the order API. Deploy it when
// the consumers need to scale independently of the HTTP tier.
func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	if cfg.Bus.Transport != config.BusTransportPubSub {
		logg.Error(ctx, "worker requires the pubsub bus transport", nil)
		os.Exit(1)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	busMetrics := metrics.NewBusMetrics(registry)
	sagaMetrics := metrics.NewSagaMetrics(registry)

	var guard idempotency.Guard
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
	} else {
		guard, err = idempotency.NewDBGuard(dbClient.DB())
		requireResource(ctx, logg, "idempotency guard", err)
	}

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	transport, err := bus.NewPubSub(psClient, logg, busMetrics)
	requireResource(ctx, logg, "bus", err)

	retryPub := bus.NewRetryPublisher(transport, cfg.Bus.PublishAttempts, cfg.Bus.PublishBackoff, logg)

	orderRepo := orders.NewRepository(dbClient.DB())
	orders.NewReconciler(orderRepo, dbClient, guard, retryPub, orders.NewWaiters(), logg).Register(transport)
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

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	probeServer := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux}
	go func() {
		if err := probeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "probe server stopped unexpectedly", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")

	stopBus()
	var closeErr error
	if err := <-busDone; err != nil && !errors.Is(err, context.Canceled) {
		closeErr = multierr.Append(closeErr, err)
	}
	closeErr = multierr.Append(closeErr, probeServer.Close())
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
