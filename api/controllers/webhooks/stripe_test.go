package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const testSecret = "whsec_test"

type fakeHandler struct {
	events []webhooks.Event
	result webhooks.Result
	err    error
}

func (f *fakeHandler) Handle(_ context.Context, evt webhooks.Event) (webhooks.Result, error) {
	f.events = append(f.events, evt)
	return f.result, f.err
}

func buildSignedEvent(t *testing.T, secret string) ([]byte, string) {
	t.Helper()
	orderID := uuid.New()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString()[:8],
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2020-08-27",
		"data": map[string]any{"object": map[string]any{
			"id":                  "cs_test",
			"object":              "checkout.session",
			"payment_status":      "paid",
			"amount_total":        2500,
			"currency":            "usd",
			"client_reference_id": orderID.String(),
			"metadata":            map[string]string{"type": "order", "order_id": orderID.String()},
		}},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: time.Now()})
	return payload, signed.Header
}

func newStripeHandler(t *testing.T, handler *fakeHandler, maxBody int64) http.HandlerFunc {
	t.Helper()
	decoder, err := stripewebhook.NewDecoder(pkgstripe.NewWebhookVerifier(testSecret))
	if err != nil {
		t.Fatalf("decoder setup: %v", err)
	}
	return StripeWebhook(decoder, Deps{Handler: handler, MaxBody: maxBody})
}

func post(h http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAcknowledgesVerifiedEvent(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	handler := &fakeHandler{result: webhooks.Result{Status: webhooks.ResultApplied}}

	rec := post(newStripeHandler(t, handler, 0), payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(handler.events) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(handler.events))
	}
	if handler.events[0].Kind != webhooks.KindOrderPaid {
		t.Fatalf("expected order_paid, got %s", handler.events[0].Kind)
	}
	if !strings.Contains(rec.Body.String(), "applied") {
		t.Fatalf("expected applied ack, got %s", rec.Body.String())
	}
}

func TestStripeWebhookRejectsInvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, testSecret)
	_, foreign := buildSignedEvent(t, "whsec_other")
	handler := &fakeHandler{}
	h := newStripeHandler(t, handler, 0)

	for name, header := range map[string]string{"missing": "", "garbage": "t=1,v1=invalid", "foreign secret": foreign} {
		rec := post(h, payload, header)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if len(handler.events) != 0 {
		t.Fatalf("handler must not run for unverified deliveries")
	}
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	handler := &fakeHandler{}

	rec := post(newStripeHandler(t, handler, 64), payload, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(handler.events) != 0 {
		t.Fatalf("handler must not run for oversized bodies")
	}
}

func TestStripeWebhookPropagatesRetryableErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"in flight", pkgerrors.New(pkgerrors.CodeDependency, "webhook event is already being processed"), http.StatusServiceUnavailable},
		{"apply failed", pkgerrors.New(pkgerrors.CodeDependency, "apply payment event"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, header := buildSignedEvent(t, testSecret)
			rec := post(newStripeHandler(t, &fakeHandler{err: tc.err}, 0), payload, header)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestStripeWebhookWithoutHandler(t *testing.T) {
	payload, header := buildSignedEvent(t, testSecret)
	rec := post(StripeWebhook(nil, Deps{}), payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
