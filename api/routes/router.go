package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sagapay/backend/api/controllers"
	ordercontrollers "github.com/sagapay/backend/api/controllers/orders"
	"github.com/sagapay/backend/api/middleware"
	"github.com/sagapay/backend/internal/orders"
	"github.com/sagapay/backend/pkg/config"
	"github.com/sagapay/backend/pkg/db"
	"github.com/sagapay/backend/pkg/logger"
)

// NewRouter assembles the HTTP surface: the order endpoints plus the probes
// and the Prometheus scrape target.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	ordersSvc orders.Service,
	registry *prometheus.Registry,
	extraPingers ...db.Pinger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", controllers.Healthz(cfg))
	r.Get("/readyz", controllers.Readyz(cfg, logg, dbP, extraPingers...))

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/order", func(r chi.Router) {
		r.Post("/create", ordercontrollers.Create(ordersSvc, logg))
		r.Get("/all", ordercontrollers.List(ordersSvc, logg))
		r.Get("/fetch", ordercontrollers.Fetch(ordersSvc, logg))
	})

	return r
}
