package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

func fatal(logg *logger.Logger, msg string, err error) {
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("jobs", "", "comma separated job names to run (default all)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(logg, "failed to load config", err)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fatal(logg, "failed to bootstrap database", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		fatal(logg, "failed to run dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		fatal(logg, "failed to bootstrap redis", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	conn := dbClient.DB()

	settingsService, err := settings.NewService(settings.ServiceParams{
		Repo:            settings.NewRepository(conn),
		Logger:          logg,
		DefaultCurrency: cfg.Checkout.Currency,
	})
	if err != nil {
		fatal(logg, "failed to create settings service", err)
	}
	catalogRepo := catalog.NewRepository(conn)
	catalogService, err := catalog.NewService(catalog.ServiceParams{Repo: catalogRepo, Tx: dbClient, Logger: logg})
	if err != nil {
		fatal(logg, "failed to create catalog service", err)
	}
	cartService, err := cart.NewService(cart.ServiceParams{
		Repo:     cart.NewRepository(conn),
		Tx:       dbClient,
		Catalog:  catalogService,
		Settings: settingsService,
		Logger:   logg,
	})
	if err != nil {
		fatal(logg, "failed to create cart service", err)
	}
	notificationsService, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		fatal(logg, "failed to create notifications service", err)
	}

	ordersRepo := orders.NewRepository(conn)
	paymentsRepo := payments.NewRepository(conn)
	ledger := webhooks.NewLedger(conn)

	guard, err := webhooks.NewInFlightGuard(redisClient, cfg.Webhooks.InFlightTTL)
	if err != nil {
		fatal(logg, "failed to create webhook guard", err)
	}
	reconciler, err := webhooks.NewReconciler(webhooks.ReconcilerParams{
		Ledger:    ledger,
		Guard:     guard,
		Tx:        dbClient,
		Orders:    ordersRepo,
		Donations: donations.NewRepository(conn),
		Catalog:   catalogRepo,
		Payments:  paymentsRepo,
		Cart:      cartService,
		Notifier:  notificationsService,
		Logger:    logg,
	})
	if err != nil {
		fatal(logg, "failed to create webhook reconciler", err)
	}
	// The worker never opens checkout sessions, so no gateway is registered.
	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		Payments: paymentsRepo,
		Tx:       dbClient,
		Cart:     cartService,
		Gateways: payments.NewRegistry(),
		Applier:  reconciler,
		Notifier: notificationsService,
		Logger:   logg,
	})
	if err != nil {
		fatal(logg, "failed to create orders service", err)
	}

	jobs, err := buildJobs(cfg, logg, ordersService, cartService, notificationsService, ledger)
	if err != nil {
		fatal(logg, "failed to create cron jobs", err)
	}
	if *only != "" {
		if jobs, err = jobs.Select(strings.Split(*only, ",")...); err != nil {
			fatal(logg, "invalid job selection", err)
		}
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		fatal(logg, "failed to create cron lock", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		fatal(logg, "failed to create cron service", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": "cron-worker"})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil && !errors.Is(err, cron.ErrLocked) {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(
	cfg *config.Config,
	logg *logger.Logger,
	ordersService orders.Service,
	cartService cart.Service,
	notificationsService notifications.Service,
	ledger *webhooks.Ledger,
) (*cron.Registry, error) {
	expiry, err := cron.NewPendingOrderExpiryJob(cron.PendingOrderExpiryParams{
		Logger: logg,
		Orders: ordersService,
		TTL:    cfg.Cron.PendingOrderTTL,
	})
	if err != nil {
		return nil, err
	}
	carts, err := cron.NewGuestCartPurgeJob(cron.GuestCartPurgeParams{
		Logger: logg,
		Carts:  cartService,
		TTL:    cfg.Cron.GuestCartTTL,
	})
	if err != nil {
		return nil, err
	}
	notes, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupParams{
		Logger:        logg,
		Notifications: notificationsService,
		Retention:     cfg.Cron.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	report, err := cron.NewWebhookLedgerReportJob(cron.WebhookLedgerReportParams{
		Logger:     logg,
		Ledger:     ledger,
		StaleAfter: cfg.Webhooks.StuckAfter,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expiry, carts, notes, report), nil
}
