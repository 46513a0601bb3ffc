package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pro-cess/subscriptions-backend/internal/cron"
	"github.com/pro-cess/subscriptions-backend/internal/events"
	"github.com/pro-cess/subscriptions-backend/internal/licensesync"
	"github.com/pro-cess/subscriptions-backend/internal/notifications"
	"github.com/pro-cess/subscriptions-backend/internal/orders"
	"github.com/pro-cess/subscriptions-backend/internal/products"
	"github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/db"
	"github.com/pro-cess/subscriptions-backend/pkg/licenseapi"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
	"github.com/pro-cess/subscriptions-backend/pkg/metrics"
	"github.com/pro-cess/subscriptions-backend/pkg/migrate"
	"github.com/pro-cess/subscriptions-backend/pkg/redis"
	"github.com/pro-cess/subscriptions-backend/pkg/stripe"
)

const lockKeyFormat = "cron-worker:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	var gateway subscriptions.ProcessorGateway
	if cfg.Stripe.APIKey != "" {
		stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap stripe", err)
			os.Exit(1)
		}
		gateway = subscriptions.NewStripeGateway(stripeClient)
	} else {
		logg.Warn(context.Background(), "stripe api key not configured, sweep runs in local-only mode")
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

	sweepJob := cron.NewSubscriptionSweepJob(subscriptionService, logg, cfg.Sweep)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
