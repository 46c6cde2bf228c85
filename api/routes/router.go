package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/auth"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	paypalwebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/paypal"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Store backs idempotency replay and the login rate limiter.
type Store interface {
	pkgredis.KeyValueStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the HTTP surface needs. Nil services answer 500 on
// their routes; a nil PayPal decoder leaves the PayPal webhook unmounted.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
	Ready       map[string]controllers.Pinger
	Store       Store

	Auth          auth.Service
	Catalog       catalog.Service
	Cart          cart.Service
	Orders        orders.Service
	Donations     donations.Service
	Settings      settings.Service
	Notifications notifications.Service

	Webhooks      webhookcontrollers.Deps
	StripeDecoder *stripewebhook.Decoder
	PayPalDecoder *paypalwebhook.Decoder
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Logging(logg, d.HTTPMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, d.Ready, logg))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	store := d.Store
	idempotent := middleware.Idempotency(store, cfg.Checkout.IdempotencyTTL, logg)
	loginPolicy := middleware.LoginPolicy(cfg.AuthRateLimit)
	registerPolicy := loginPolicy
	registerPolicy.Name = "register"

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			if d.StripeDecoder != nil {
				r.Post("/stripe", webhookcontrollers.StripeWebhook(d.StripeDecoder, d.Webhooks))
			}
			if d.PayPalDecoder != nil {
				r.Post("/paypal", webhookcontrollers.PayPalWebhook(d.PayPalDecoder, d.Webhooks))
			}
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.RateLimit(registerPolicy, store, logg)).Post("/register", controllers.AuthRegister(d.Auth, logg))
			r.With(middleware.RateLimit(loginPolicy, store, logg)).Post("/login", controllers.AuthLogin(d.Auth, logg))
		})

		// Storefront routes serve guests (X-Session-Id) and customers alike.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))

			r.Get("/products", controllers.ListProducts(d.Catalog, logg))
			r.Get("/products/{productId}", controllers.GetProduct(d.Catalog, logg))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.GetCart(d.Cart, logg))
				r.Post("/items", controllers.AddCartItem(d.Cart, logg))
				r.Patch("/items/{itemId}", controllers.UpdateCartItem(d.Cart, logg))
				r.Delete("/items/{itemId}", controllers.RemoveCartItem(d.Cart, logg))
			})

			r.With(idempotent).Post("/checkout", controllers.Checkout(d.Orders, logg))
			r.Get("/checkout/return", controllers.CheckoutReturn(d.Orders, logg))

			r.Route("/donations", func(r chi.Router) {
				r.With(idempotent).Post("/", controllers.CreateDonation(d.Donations, logg))
				r.Get("/return", controllers.DonationReturn(d.Donations, logg))
				r.Get("/{donationId}", controllers.GetDonation(d.Donations, logg))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Get("/orders", controllers.ListMyOrders(d.Orders, logg))
			r.Get("/orders/{orderId}", controllers.GetMyOrder(d.Orders, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.AdminListOrders(d.Orders, logg))
				r.Get("/{orderId}", controllers.AdminGetOrder(d.Orders, logg))
				r.Patch("/{orderId}/status", controllers.AdminUpdateOrderStatus(d.Orders, logg))
			})
			r.Post("/products", controllers.AdminCreateProduct(d.Catalog, logg))
			r.Patch("/variants/{variantId}/stock", controllers.AdminUpdateVariantStock(d.Catalog, logg))
			r.Get("/settings/{key}", controllers.AdminGetSetting(d.Settings, logg))
			r.Put("/settings/{key}", controllers.AdminUpdateSetting(d.Settings, logg))

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(d.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(d.Notifications, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(d.Notifications, logg))
			})
		})
	})

	return r
}
