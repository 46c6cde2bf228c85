package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/redis/redistest"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubCart struct {
	cart.Service
	owners []cart.Owner
}

func (s *stubCart) Summary(_ context.Context, owner cart.Owner) (*cart.Summary, error) {
	s.owners = append(s.owners, owner)
	return &cart.Summary{Lines: []cart.Line{}, Currency: "usd"}, nil
}

type stubNotifications struct {
	notifications.Service
}

func (stubNotifications) List(context.Context, notifications.ListParams) (*notifications.ListResult, error) {
	return &notifications.ListResult{}, nil
}

type noopHandler struct{ calls int }

func (h *noopHandler) Handle(context.Context, webhooks.Event) (webhooks.Result, error) {
	h.calls++
	return webhooks.Result{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:           config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT:           config.JWTConfig{Secret: "secret", Issuer: "storefront", ExpirationMinutes: 60},
		AuthRateLimit: config.AuthRateLimitConfig{LoginWindow: time.Minute, LoginIPLimit: 20, LoginEmailLimit: 5},
		Checkout:      config.CheckoutConfig{IdempotencyTTL: time.Hour},
	}
}

type testRouter struct {
	http.Handler
	cart    *stubCart
	webhook *noopHandler
}

func newTestRouter(t *testing.T, cfg *config.Config, ready map[string]controllers.Pinger) testRouter {
	t.Helper()
	reg := prometheus.NewRegistry()
	decoder, err := stripewebhook.NewDecoder(pkgstripe.NewWebhookVerifier("whsec_test"))
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	stub := &stubCart{}
	handler := &noopHandler{}
	router := NewRouter(Deps{
		Config:        cfg,
		Logger:        logger.Nop(),
		Gatherer:      reg,
		HTTPMetrics:   metrics.NewHTTPMetrics(reg),
		Ready:         ready,
		Store:         redistest.NewMemory(),
		Cart:          stub,
		Notifications: stubNotifications{},
		Webhooks:      webhookcontrollers.Deps{Handler: handler, Metrics: metrics.NewWebhookMetrics(reg)},
		StripeDecoder: decoder,
	})
	return testRouter{Handler: router, cart: stub, webhook: handler}
}

func buildToken(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, testConfig(), map[string]controllers.Pinger{"db": stubPinger{}})
	if resp := serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil)); resp.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", resp.Code)
	}
	if resp := serve(router, httptest.NewRequest(http.MethodGet, "/health/ready", nil)); resp.Code != http.StatusOK {
		t.Fatalf("ready: expected 200 got %d", resp.Code)
	}

	down := newTestRouter(t, testConfig(), map[string]controllers.Pinger{"redis": stubPinger{err: errors.New("down")}})
	if resp := serve(down, httptest.NewRequest(http.MethodGet, "/health/ready", nil)); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready: expected 503 got %d", resp.Code)
	}
}

func TestMetricsEndpointExposesHTTPMetrics(t *testing.T) {
	router := newTestRouter(t, testConfig(), nil)
	serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	resp := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `route="/health/live"`) {
		t.Fatalf("expected route label in metrics output")
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, nil)

	anon := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/admin/notifications", nil))
	if anon.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous got %d", anon.Code)
	}

	customer := httptest.NewRequest(http.MethodGet, "/api/v1/admin/notifications", nil)
	customer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	if resp := serve(router, customer); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodGet, "/api/v1/admin/notifications", nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleAdmin))
	if resp := serve(router, admin); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
}

func TestCartRoutesResolveOwner(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, nil)

	if resp := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without owner got %d", resp.Code)
	}

	guest := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	guest.Header.Set("X-Session-Id", "guest-1")
	if resp := serve(router, guest); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for guest got %d", resp.Code)
	}

	customer := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	customer.Header.Set("X-Session-Id", "guest-1")
	customer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	if resp := serve(router, customer); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for customer got %d", resp.Code)
	}

	if len(router.cart.owners) != 2 {
		t.Fatalf("expected 2 summaries got %d", len(router.cart.owners))
	}
	if !router.cart.owners[0].IsGuest() || router.cart.owners[0].SessionID != "guest-1" {
		t.Fatalf("expected guest owner got %+v", router.cart.owners[0])
	}
	if router.cart.owners[1].UserID == nil {
		t.Fatalf("token must win over the session header")
	}
}

func TestCheckoutRequiresIdempotencyKey(t *testing.T) {
	router := newTestRouter(t, testConfig(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{"gateway":"stripe"}`))
	req.Header.Set("X-Session-Id", "guest-1")
	if resp := serve(router, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key got %d", resp.Code)
	}
}

func TestWebhookRoutes(t *testing.T) {
	router := newTestRouter(t, testConfig(), nil)

	unsigned := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	if resp := serve(router, unsigned); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsigned delivery got %d", resp.Code)
	}
	if router.webhook.calls != 0 {
		t.Fatalf("unsigned delivery must not reach the reconciler")
	}

	paypal := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paypal", strings.NewReader(`{}`))
	if resp := serve(router, paypal); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when paypal is not configured got %d", resp.Code)
	}
}
