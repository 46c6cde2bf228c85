package paypalwebhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/paypal"
)

type signatureVerifier interface {
	VerifyWebhookSignature(ctx context.Context, headers paypal.WebhookHeaders, rawEvent []byte) (bool, error)
}

// orderCapturer captures an approved order and reports the result. The PayPal
// payments adapter implements it through Verify.
type orderCapturer interface {
	Verify(ctx context.Context, token string) (payments.Outcome, error)
}

// Decoder verifies PayPal deliveries through the verify-webhook-signature API
// and maps them onto webhooks.Event.
type Decoder struct {
	verifier signatureVerifier
	capturer orderCapturer
}

// NewDecoder builds a decoder. When capturer is nil, CHECKOUT.ORDER.APPROVED
// is acknowledged without capturing and the browser return captures instead.
func NewDecoder(verifier signatureVerifier, capturer orderCapturer) (*Decoder, error) {
	if verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paypal signature verifier required")
	}
	return &Decoder{verifier: verifier, capturer: capturer}, nil
}

func (d *Decoder) Decode(ctx context.Context, header http.Header, payload []byte) (webhooks.Event, error) {
	headers := paypal.HeadersFrom(header)
	if !headers.Complete() {
		return webhooks.Event{}, pkgerrors.New(pkgerrors.CodeVerification, "paypal transmission headers missing")
	}
	ok, err := d.verifier.VerifyWebhookSignature(ctx, headers, payload)
	if err != nil {
		return webhooks.Event{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify paypal signature")
	}
	if !ok {
		return webhooks.Event{}, pkgerrors.New(pkgerrors.CodeVerification, "paypal signature rejected")
	}

	var raw paypal.WebhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return webhooks.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paypal event")
	}
	if raw.EventType == paypal.EventCheckoutOrderApproved && d.capturer != nil {
		return d.capture(ctx, raw, payload)
	}
	return Parse(raw, payload)
}

// capture settles an approved order so buyers who never return to the shop
// are still charged. Capturing is idempotent on PayPal's side.
func (d *Decoder) capture(ctx context.Context, raw paypal.WebhookEvent, payload []byte) (webhooks.Event, error) {
	var order paypal.Order
	if err := decodeResource(raw, &order); err != nil {
		return webhooks.Event{}, err
	}
	if order.ID == "" {
		return webhooks.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id missing")
	}
	outcome, err := d.capturer.Verify(ctx, order.ID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return unknown(raw, payload), nil
		}
		return webhooks.Event{}, err
	}
	return webhooks.EventFromOutcome(raw.ID, raw.EventType, payload, outcome), nil
}

// Parse maps a verified PayPal notification. Event types the storefront does
// not act on come back as KindUnknown.
func Parse(raw paypal.WebhookEvent, payload []byte) (webhooks.Event, error) {
	if raw.ID == "" {
		return webhooks.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "paypal event id missing")
	}
	switch raw.EventType {
	case paypal.EventPaymentCaptureComplete, paypal.EventPaymentCaptureDenied, paypal.EventPaymentCaptureRefunded:
		var capture paypal.Capture
		if err := decodeResource(raw, &capture); err != nil {
			return webhooks.Event{}, err
		}
		outcome := payments.OutcomeFromCapture(&capture)
		switch raw.EventType {
		case paypal.EventPaymentCaptureDenied:
			outcome.Status = enums.PaymentStatusFailed
		case paypal.EventPaymentCaptureRefunded:
			// The resource is the refund; its up link names the capture
			// stored on the order as payment_intent_id.
			outcome.Status = enums.PaymentStatusRefunded
			outcome.PaymentIntentID = capture.UpCaptureID()
		}
		return webhooks.EventFromOutcome(raw.ID, raw.EventType, payload, outcome), nil
	default:
		return unknown(raw, payload), nil
	}
}

func unknown(raw paypal.WebhookEvent, payload []byte) webhooks.Event {
	return webhooks.Event{
		Gateway: enums.PaymentGatewayPayPal,
		EventID: raw.ID,
		Type:    raw.EventType,
		Kind:    webhooks.KindUnknown,
		Payload: payload,
	}
}

func decodeResource(raw paypal.WebhookEvent, into any) error {
	if len(raw.Resource) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "paypal event resource required")
	}
	if err := json.Unmarshal(raw.Resource, into); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paypal event resource")
	}
	return nil
}
