package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/pulseboard/pulseboard-backend/internal/consumer"
	"github.com/pulseboard/pulseboard-backend/internal/dlqmonitor"
	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	"github.com/pulseboard/pulseboard-backend/pkg/db"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/pkg/migrate"
	"github.com/pulseboard/pulseboard-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	brokerClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(registry)

	repo := events.NewRepository(dbClient.DB())

	consumerService, err := consumer.NewService(
		brokerClient, repo, m, logg,
		cfg.Consumer.MaxRetries, cfg.Consumer.BackoffBase,
	)
	if err != nil {
		logg.Error(ctx, "failed to create consumer", err)
		os.Exit(1)
	}

	monitor, err := dlqmonitor.NewMonitor(brokerClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to create dead-letter monitor", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.App.MetricsPort,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"max_retries": cfg.Consumer.MaxRetries,
	})
	logg.Info(logCtx, "starting worker")

	errCh := make(chan error, 2)
	go func() {
		errCh <- consumerService.Run(ctx)
	}()
	go func() {
		errCh <- monitor.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(logCtx, "subscription loop stopped unexpectedly", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	closeErr := multierr.Combine(
		metricsServer.Shutdown(shutdownCtx),
		brokerClient.Close(),
		dbClient.Close(),
	)
	if closeErr != nil {
		logg.Error(logCtx, "error closing resources", closeErr)
		os.Exit(1)
	}
	logg.Info(logCtx, "worker shut down cleanly")
}
