package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/pro-cess/subscriptions-backend/api/routes"
	"github.com/pro-cess/subscriptions-backend/internal/events"
	"github.com/pro-cess/subscriptions-backend/internal/licensesync"
	"github.com/pro-cess/subscriptions-backend/internal/notifications"
	"github.com/pro-cess/subscriptions-backend/internal/orders"
	"github.com/pro-cess/subscriptions-backend/internal/products"
	"github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	stripewebhook "github.com/pro-cess/subscriptions-backend/internal/webhooks/stripe"
	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/db"
	"github.com/pro-cess/subscriptions-backend/pkg/licenseapi"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
	"github.com/pro-cess/subscriptions-backend/pkg/migrate"
	"github.com/pro-cess/subscriptions-backend/pkg/redis"
	"github.com/pro-cess/subscriptions-backend/pkg/stripe"
)

const webhookIdempotencyTTL = 24 * time.Hour

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var stripeClient *stripe.Client
	var gateway subscriptions.ProcessorGateway
	if cfg.Stripe.APIKey != "" {
		stripeClient, err = stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap stripe", err)
			os.Exit(1)
		}
		gateway = subscriptions.NewStripeGateway(stripeClient)
	} else {
		logg.Warn(context.Background(), "stripe api key not configured, subscriptions run in local-only mode")
	}

	bus, err := events.NewBus(logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create event bus", err)
		os.Exit(1)
	}

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	productRepo := products.NewRepository(dbClient.DB())

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionRepo,
		OrderRepo:         orderRepo,
		ProductRepo:       productRepo,
		Gateway:           gateway,
		Bus:               bus,
		Logger:            logg,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	licenseSync, err := licensesync.NewConsumer(licensesync.ConsumerParams{
		Gateway:  licenseapi.NewClient(cfg.LicenseAPI),
		Subs:     subscriptionRepo,
		Orders:   orderRepo,
		Products: productRepo,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create license sync consumer", err)
		os.Exit(1)
	}
	licenseSync.Register(bus)

	notifier, err := notifications.NewConsumer(notifications.ConsumerParams{
		Mailer: notifications.NewLogMailer(logg, cfg.Mail),
		Orders: orderRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications consumer", err)
		os.Exit(1)
	}
	notifier.Register(bus)

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Subscriptions: subscriptionService,
		Guard:         webhookGuard,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, stripeClient, subscriptionService, licenseSync, webhookService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
