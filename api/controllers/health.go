package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/sagapay/backend/api/responses"
	"github.com/sagapay/backend/pkg/config"
	"github.com/sagapay/backend/pkg/db"
	pkgerrors "github.com/sagapay/backend/pkg/errors"
	"github.com/sagapay/backend/pkg/logger"
)

const readyCheckTimeout = 3 * time.Second

// Healthz is the liveness probe.
func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-SagaPay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// Readyz verifies the datasources behind the API are reachable.
func Readyz(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, extra ...db.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		checks := append([]db.Pinger{dbP}, extra...)
		for _, pinger := range checks {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dependency not ready"))
				return
			}
		}

		w.Header().Set("X-SagaPay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
