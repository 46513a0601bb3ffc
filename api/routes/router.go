package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pro-cess/subscriptions-backend/api/controllers"
	subscriptioncontrollers "github.com/pro-cess/subscriptions-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/pro-cess/subscriptions-backend/api/controllers/webhooks"
	"github.com/pro-cess/subscriptions-backend/api/middleware"
	"github.com/pro-cess/subscriptions-backend/internal/licensesync"
	subscriptionsvc "github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	stripewebhook "github.com/pro-cess/subscriptions-backend/internal/webhooks/stripe"
	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/db"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
	"github.com/pro-cess/subscriptions-backend/pkg/redis"
	"github.com/pro-cess/subscriptions-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
	subscriptionService subscriptionsvc.Service,
	licenseSync *licensesync.Consumer,
	stripeWebhookService *stripewebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	// Processor deliveries authenticate by signature, not bearer token.
	r.Post("/process-subscriptions/v1/webhook", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.CustomerSubscriptionList(subscriptionService, logg))
			r.Post("/{subscriptionId}/cancel", subscriptioncontrollers.CustomerSubscriptionCancel(subscriptionService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.AdminSubscriptionList(subscriptionService, logg))
			r.Get("/{subscriptionId}", subscriptioncontrollers.AdminSubscriptionGet(subscriptionService, logg))
			r.Post("/{subscriptionId}/cancel", subscriptioncontrollers.AdminSubscriptionCancel(subscriptionService, logg))
			r.Delete("/{subscriptionId}", subscriptioncontrollers.AdminSubscriptionPurge(subscriptionService, logg))
			r.Put("/{subscriptionId}/status", subscriptioncontrollers.AdminSubscriptionSetStatus(subscriptionService, logg))
			r.Post("/{subscriptionId}/trial-addon", subscriptioncontrollers.AdminSubscriptionTrialAddon(licenseSync, logg))
			r.Post("/{subscriptionId}/convert-trial", subscriptioncontrollers.AdminSubscriptionConvertTrial(licenseSync, logg))
			r.Post("/{subscriptionId}/extend-license", subscriptioncontrollers.AdminSubscriptionExtendLicense(licenseSync, logg))
			r.Post("/{subscriptionId}/revoke-license", subscriptioncontrollers.AdminSubscriptionRevokeLicense(licenseSync, logg))
		})

		r.Post("/orders/{orderId}/process", subscriptioncontrollers.AdminOrderProcess(subscriptionService, logg))
	})

	return r
}
