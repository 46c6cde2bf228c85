package stripewebhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

const testSecret = "whsec_test"

func sessionEvent(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString()[:8],
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestDecodeCheckoutSessionCompleted(t *testing.T) {
	orderID := uuid.New()
	payload := sessionEvent(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"payment_status":      "paid",
		"status":              "complete",
		"amount_total":        5000,
		"currency":            "usd",
		"payment_intent":      "pi_123",
		"client_reference_id": orderID.String(),
		"metadata":            map[string]string{"type": "order", "order_id": orderID.String()},
	})
	decoder, err := NewDecoder(pkgstripe.NewWebhookVerifier(testSecret))
	require.NoError(t, err)

	evt, err := decoder.Decode(payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentGatewayStripe, evt.Gateway)
	assert.Equal(t, webhooks.KindOrderPaid, evt.Kind)
	assert.Equal(t, orderID, evt.Target.OrderID)
	assert.Equal(t, "cs_test_1", evt.Target.SessionID)
	assert.Equal(t, "pi_123", evt.Target.PaymentIntentID)
	assert.Equal(t, int64(5000), evt.Target.AmountCents)
	assert.Equal(t, payload, evt.Payload)
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	payload := sessionEvent(t, "checkout.session.completed", map[string]any{"id": "cs_1"})
	decoder, err := NewDecoder(pkgstripe.NewWebhookVerifier(testSecret))
	require.NoError(t, err)

	_, err = decoder.Decode(payload, sign(payload, "whsec_other"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeVerification))

	_, err = decoder.Decode(payload, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeVerification))

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	_, err = decoder.Decode(tampered, sign(payload, testSecret))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeVerification))
}

func TestParseRoutesDonations(t *testing.T) {
	donationID := uuid.New()
	raw, _ := json.Marshal(&stripe.CheckoutSession{
		ID:            "cs_d",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		Metadata:      map[string]string{"type": "donation", "donation_id": donationID.String()},
	})
	evt, err := Parse(stripe.Event{ID: "evt_d", Type: stripe.EventTypeCheckoutSessionCompleted, Data: &stripe.EventData{Raw: raw}}, raw)
	require.NoError(t, err)
	assert.Equal(t, webhooks.KindDonationPaid, evt.Kind)
	assert.Equal(t, donationID, evt.Target.DonationID)
	assert.Equal(t, uuid.Nil, evt.Target.OrderID)
}

func TestParseSessionOutcomes(t *testing.T) {
	orderID := uuid.New()
	md := map[string]string{"type": "order", "order_id": orderID.String()}
	cases := []struct {
		name      string
		eventType stripe.EventType
		session   stripe.CheckoutSession
		want      webhooks.Kind
	}{
		{"unpaid completion waits for async payment", stripe.EventTypeCheckoutSessionCompleted,
			stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Metadata: md}, webhooks.KindUnknown},
		{"async success", stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
			stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid, Metadata: md}, webhooks.KindOrderPaid},
		{"async failure", stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
			stripe.CheckoutSession{ID: "cs_1", PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid, Metadata: md}, webhooks.KindPaymentFailed},
		{"expired", stripe.EventTypeCheckoutSessionExpired,
			stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusExpired, Metadata: md}, webhooks.KindPaymentFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, _ := json.Marshal(&tc.session)
			evt, err := Parse(stripe.Event{ID: "evt_1", Type: tc.eventType, Data: &stripe.EventData{Raw: raw}}, raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, evt.Kind)
			assert.Equal(t, orderID, evt.Target.OrderID)
		})
	}
}

func TestParseChargeRefunded(t *testing.T) {
	raw := []byte(`{"id":"ch_1","object":"charge","amount_refunded":1500,"currency":"usd","payment_intent":"pi_9"}`)
	evt, err := Parse(stripe.Event{ID: "evt_r", Type: stripe.EventTypeChargeRefunded, Data: &stripe.EventData{Raw: raw}}, raw)
	require.NoError(t, err)
	assert.Equal(t, webhooks.KindRefunded, evt.Kind)
	assert.Equal(t, "pi_9", evt.Target.PaymentIntentID)
	assert.Equal(t, int64(1500), evt.Target.AmountCents)
}

func TestParseUnknownAndMalformed(t *testing.T) {
	evt, err := Parse(stripe.Event{ID: "evt_x", Type: "customer.created", Data: &stripe.EventData{Raw: []byte(`{}`)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, webhooks.KindUnknown, evt.Kind)

	_, err = Parse(stripe.Event{ID: "evt_y", Type: stripe.EventTypeCheckoutSessionCompleted, Data: &stripe.EventData{Raw: []byte(`[`)}}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Parse(stripe.Event{Type: stripe.EventTypeCheckoutSessionCompleted}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
