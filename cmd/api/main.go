package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/storefront-backend/api"
	"github.com/angelmondragon/storefront-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/auth"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	paypalwebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/paypal"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/paypal"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

func fatal(logg *logger.Logger, msg string, err error) {
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(logg, "failed to load config", err)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	webhookMetrics := metrics.NewWebhookMetrics(reg)

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

	// Gateways: Stripe is required, PayPal is optional behind a feature flag.
	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		fatal(logg, "failed to create stripe client", err)
	}
	stripeGateway, err := payments.NewStripeGateway(stripeClient, logg)
	if err != nil {
		fatal(logg, "failed to create stripe gateway", err)
	}
	stripeDecoder, err := stripewebhook.NewDecoder(stripeClient)
	if err != nil {
		fatal(logg, "failed to create stripe webhook decoder", err)
	}

	gateways := []payments.Gateway{stripeGateway}
	var paypalDecoder *paypalwebhook.Decoder
	if cfg.FeatureFlags.EnablePayPal {
		paypalClient, err := paypal.NewClient(ctx, cfg.PayPal, logg)
		if err != nil {
			fatal(logg, "failed to create paypal client", err)
		}
		paypalGateway, err := payments.NewPayPalGateway(paypalClient, cfg.App.BrandName, logg)
		if err != nil {
			fatal(logg, "failed to create paypal gateway", err)
		}
		gateways = append(gateways, paypalGateway)
		if paypalDecoder, err = paypalwebhook.NewDecoder(paypalClient, paypalGateway); err != nil {
			fatal(logg, "failed to create paypal webhook decoder", err)
		}
	}
	registry := payments.NewRegistry(gateways...)

	ordersRepo := orders.NewRepository(conn)
	donationsRepo := donations.NewRepository(conn)
	paymentsRepo := payments.NewRepository(conn)

	guard, err := webhooks.NewInFlightGuard(redisClient, cfg.Webhooks.InFlightTTL)
	if err != nil {
		fatal(logg, "failed to create webhook guard", err)
	}
	reconciler, err := webhooks.NewReconciler(webhooks.ReconcilerParams{
		Ledger:    webhooks.NewLedger(conn),
		Guard:     guard,
		Tx:        dbClient,
		Orders:    ordersRepo,
		Donations: donationsRepo,
		Catalog:   catalogRepo,
		Payments:  paymentsRepo,
		Cart:      cartService,
		Notifier:  notificationsService,
		Metrics:   webhookMetrics,
		Logger:    logg,
	})
	if err != nil {
		fatal(logg, "failed to create webhook reconciler", err)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		Payments: paymentsRepo,
		Tx:       dbClient,
		Cart:     cartService,
		Gateways: registry,
		Applier:  reconciler,
		Notifier: notificationsService,
		ReturnURLs: orders.ReturnURLs{
			Success: cfg.App.URL(cfg.Checkout.SuccessPath),
			Cancel:  cfg.App.URL(cfg.Checkout.CancelPath),
		},
		Logger: logg,
	})
	if err != nil {
		fatal(logg, "failed to create orders service", err)
	}

	donationsService, err := donations.NewService(donations.ServiceParams{
		Repo:     donationsRepo,
		Tx:       dbClient,
		Gateways: registry,
		Applier:  reconciler,
		ReturnURLs: donations.ReturnURLs{
			Success: cfg.App.URL(cfg.Checkout.DonationSuccessPath),
			Cancel:  cfg.App.URL(cfg.Checkout.DonationCancelPath),
		},
		DefaultCurrency: cfg.Checkout.Currency,
		Logger:          logg,
	})
	if err != nil {
		fatal(logg, "failed to create donations service", err)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		Users:          users.NewRepository(conn),
		Cart:           cartService,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		AdminEmails:    cfg.App.AdminEmails,
		Logger:         logg,
	})
	if err != nil {
		fatal(logg, "failed to create auth service", err)
	}

	router := routes.NewRouter(routes.Deps{
		Config:        cfg,
		Logger:        logg,
		Gatherer:      reg,
		HTTPMetrics:   metrics.NewHTTPMetrics(reg),
		Ready:         map[string]controllers.Pinger{"database": dbClient, "redis": redisClient},
		Store:         redisClient,
		Auth:          authService,
		Catalog:       catalogService,
		Cart:          cartService,
		Orders:        ordersService,
		Donations:     donationsService,
		Settings:      settingsService,
		Notifications: notificationsService,
		Webhooks: webhookcontrollers.Deps{
			Handler: reconciler,
			Metrics: webhookMetrics,
			Logger:  logg,
			MaxBody: cfg.Webhooks.MaxBodyKB * 1024,
		},
		StripeDecoder: stripeDecoder,
		PayPalDecoder: paypalDecoder,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"gateways": len(gateways),
	})
	logg.Info(runCtx, "starting api server")

	if err := api.NewServer(addr, router, logg).Run(ctx); err != nil {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
