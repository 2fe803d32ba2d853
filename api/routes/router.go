package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchantsim/acp-backend/api/controllers"
	checkoutcontrollers "github.com/merchantsim/acp-backend/api/controllers/checkout"
	"github.com/merchantsim/acp-backend/api/middleware"
	checkoutsvc "github.com/merchantsim/acp-backend/internal/checkout"
	"github.com/merchantsim/acp-backend/internal/idempotency"
	"github.com/merchantsim/acp-backend/pkg/config"
	"github.com/merchantsim/acp-backend/pkg/logger"
	"github.com/merchantsim/acp-backend/pkg/metrics"
)

// Deps carries everything the router needs from the composition root.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Service  checkoutsvc.Service
	Ledger   *idempotency.Ledger
	Registry *prometheus.Registry
}

// NewRouter mounts the checkout protocol surface plus health and metrics.
// The protected group runs header validation before the idempotency layer,
// so a rejected envelope is never recorded or replayed.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.RequestID(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	httpMetrics := metrics.NewHTTPMetrics(registry)
	r.Use(httpMetrics.Middleware())

	r.Get("/health/live", controllers.HealthLive(deps.Config))
	r.Get("/health/ready", controllers.HealthReady(deps.Config))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(protected chi.Router) {
		protected.Use(middleware.Protocol(deps.Config.Checkout, deps.Logger))
		protected.Use(middleware.Idempotency(deps.Ledger, deps.Logger))

		protected.Post("/checkout_sessions", checkoutcontrollers.Create(deps.Service, deps.Logger))
		protected.Get("/checkout_sessions/{sessionID}", checkoutcontrollers.Get(deps.Service, deps.Logger))
		protected.Post("/checkout_sessions/{sessionID}", checkoutcontrollers.Update(deps.Service, deps.Logger))
		protected.Post("/checkout_sessions/{sessionID}/complete", checkoutcontrollers.Complete(deps.Service, deps.Logger))
		protected.Post("/checkouts/{sessionID}/cancel", checkoutcontrollers.Cancel(deps.Service, deps.Logger))
	})

	return r
}
