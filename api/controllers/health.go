package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard-backend/api/responses"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

const envHeader = "X-Pulseboard-Env"

type pinger interface {
	Ping(ctx context.Context) error
}

type connChecker interface {
	Connected() bool
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness of the API's dependencies. Nil collaborators
// are skipped so partial wiring in tests stays usable.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger, brokerC connChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		w.Header().Set(envHeader, cfg.App.Env)

		checks := map[string]string{}
		healthy := true

		if dbP != nil {
			checks["db"] = "ok"
			if err := dbP.Ping(ctx); err != nil {
				checks["db"] = err.Error()
				healthy = false
			}
		}
		if redisP != nil {
			checks["redis"] = "ok"
			if err := redisP.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}
		if brokerC != nil {
			checks["broker"] = "ok"
			if !brokerC.Connected() {
				checks["broker"] = "not connected"
				healthy = false
			}
		}

		if !healthy {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency not ready").WithDetails(checks))
			return
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
