package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fulfillment-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/fulfillment-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/fulfillment-backend/api/controllers/webhooks"
	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	pkgAuth "github.com/angelmondragon/fulfillment-backend/pkg/auth"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

// Dependencies are the handlers' collaborators. Nil entries leave the
// matching routes answering 500 instead of panicking.
type Dependencies struct {
	DB          db.Pinger
	Redis       controllers.RedisPinger
	Gatherer    prometheus.Gatherer
	Webhooks    webhookcontrollers.StripeWebhookService
	Refunds     ordercontrollers.RefundService
	OrderReader ordercontrollers.OrderReader
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(pkgAuth.RoleAdmin, logg))
		r.Get("/orders", ordercontrollers.AdminOrderList(deps.OrderReader, logg))
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminOrderDetail(deps.OrderReader, logg))
			r.Post("/refunds", ordercontrollers.AdminRefund(deps.Refunds, logg))
		})
	})

	return r
}
