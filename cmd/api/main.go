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
	"go.uber.org/multierr"

	"github.com/pulseboard/pulseboard-backend/api/routes"
	"github.com/pulseboard/pulseboard-backend/internal/analytics"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	"github.com/pulseboard/pulseboard-backend/pkg/db"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/pkg/migrate"
	"github.com/pulseboard/pulseboard-backend/pkg/pubsub"
	"github.com/pulseboard/pulseboard-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}

	brokerClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(registry)

	gate, err := ingest.NewGate(brokerClient, cfg.Ingest.MaxBatchSize, m, logg)
	if err != nil {
		logg.Error(ctx, "failed to create ingestion gate", err)
		os.Exit(1)
	}

	analyticsService, err := analytics.NewService(dbClient.DB())
	if err != nil {
		logg.Error(ctx, "failed to create analytics service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg, m, registry,
			dbClient, redisClient, brokerClient,
			gate, analyticsService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "server shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
		}
	}

	closeErr := multierr.Combine(
		brokerClient.Close(),
		redisClient.Close(),
		dbClient.Close(),
	)
	if closeErr != nil {
		logg.Error(logCtx, "error closing resources", closeErr)
		os.Exit(1)
	}
	logg.Info(logCtx, "api server shut down cleanly")
}
