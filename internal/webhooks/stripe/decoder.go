package stripewebhook

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type signatureVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// Decoder verifies Stripe deliveries and maps them onto webhooks.Event.
type Decoder struct {
	verifier signatureVerifier
}

func NewDecoder(verifier signatureVerifier) (*Decoder, error) {
	if verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe signature verifier required")
	}
	return &Decoder{verifier: verifier}, nil
}

// Decode fails closed: nothing is parsed unless the signature header checks out.
func (d *Decoder) Decode(payload []byte, signature string) (webhooks.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return webhooks.Event{}, pkgerrors.New(pkgerrors.CodeVerification, "stripe signature missing")
	}
	event, err := d.verifier.ConstructEvent(payload, signature)
	if err != nil {
		return webhooks.Event{}, pkgerrors.Wrap(pkgerrors.CodeVerification, err, "verify stripe signature")
	}
	return Parse(event, payload)
}

// Parse maps a verified Stripe event. Types the storefront does not act on
// come back as KindUnknown.
func Parse(event stripe.Event, payload []byte) (webhooks.Event, error) {
	if event.ID == "" {
		return webhooks.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id missing")
	}
	out := webhooks.Event{
		Gateway: enums.PaymentGatewayStripe,
		EventID: event.ID,
		Type:    string(event.Type),
		Kind:    webhooks.KindUnknown,
		Payload: payload,
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		var sess stripe.CheckoutSession
		if err := decodeObject(event, &sess); err != nil {
			return webhooks.Event{}, err
		}
		outcome := payments.OutcomeFromCheckoutSession(&sess)
		if event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed {
			outcome.Status = enums.PaymentStatusFailed
		}
		return webhooks.EventFromOutcome(event.ID, out.Type, payload, outcome), nil

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := decodeObject(event, &charge); err != nil {
			return webhooks.Event{}, err
		}
		out.Kind = webhooks.KindRefunded
		out.Target = webhooks.Target{
			AmountCents: charge.AmountRefunded,
			Currency:    strings.ToLower(string(charge.Currency)),
		}
		if charge.PaymentIntent != nil {
			out.Target.PaymentIntentID = charge.PaymentIntent.ID
		}
		if ref, ok := payments.ReferenceFromMetadata(charge.Metadata); ok {
			if ref.Kind == payments.KindDonation {
				out.Target.DonationID = ref.ID
			} else {
				out.Target.OrderID = ref.ID
			}
		}
	}
	return out, nil
}

func decodeObject(event stripe.Event, into any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if err := json.Unmarshal(event.Data.Raw, into); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event object")
	}
	return nil
}
