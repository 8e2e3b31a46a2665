package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulseboard/pulseboard-backend/api/controllers"
	"github.com/pulseboard/pulseboard-backend/api/middleware"
	"github.com/pulseboard/pulseboard-backend/internal/analytics"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	"github.com/pulseboard/pulseboard-backend/pkg/db"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	m *metrics.PipelineMetrics,
	registry *prometheus.Registry,
	dbP db.Pinger,
	redisClient *redis.Client,
	brokerClient broker.Client,
	gate *ingest.Gate,
	analyticsService analytics.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, m),
		middleware.CORS(),
	)

	ingestPolicy := middleware.NewRateLimitPolicy(
		"ingest",
		cfg.RateLimit.IngestWindow,
		cfg.RateLimit.IngestLimit,
	)

	// Typed nils must stay nil interfaces so downstream nil checks work.
	var redisPinger interface {
		Ping(context.Context) error
	}
	var limiterStore interface {
		IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	}
	if redisClient != nil {
		redisPinger = redisClient
		limiterStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger, brokerClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys, logg))

		r.With(middleware.RateLimit(ingestPolicy, limiterStore, logg)).
			Post("/events", controllers.IngestEvents(gate, logg))

		r.Route("/stats", func(r chi.Router) {
			r.Get("/dau", controllers.StatsDAU(analyticsService, logg))
			r.Get("/top-events", controllers.StatsTopEvents(analyticsService, logg))
			r.Get("/retention", controllers.StatsRetention(analyticsService, logg))
		})
	})

	return r
}
