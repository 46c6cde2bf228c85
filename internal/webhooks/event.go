// Package webhooks reconciles asynchronous gateway notifications with orders,
// donations and stock. Gateway specific decoding lives in the stripe and
// paypal subpackages; everything here works on the normalized Event.
package webhooks

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Kind is what a verified event means for the storefront.
type Kind string

const (
	KindOrderPaid     Kind = "order_paid"
	KindDonationPaid  Kind = "donation_paid"
	KindPaymentFailed Kind = "payment_failed"
	KindRefunded      Kind = "refunded"
	KindUnknown       Kind = "unknown"
)

// Target identifies the row an event applies to. OrderID and DonationID are
// mutually exclusive; SessionID is the fallback used to find an order when the
// gateway did not echo our metadata back.
type Target struct {
	OrderID         uuid.UUID
	DonationID      uuid.UUID
	SessionID       string
	PaymentIntentID string
	Currency        string
	AmountCents     int64
}

func (t Target) IsDonation() bool {
	return t.DonationID != uuid.Nil
}

// Event is a verified gateway notification parsed at the boundary.
type Event struct {
	Gateway enums.PaymentGateway
	EventID string
	Type    string
	Kind    Kind
	Target  Target
	Payload []byte
}

func (e Event) Validate() error {
	if !e.Gateway.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown webhook gateway")
	}
	if e.EventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event id required")
	}
	if e.Target.OrderID != uuid.Nil && e.Target.DonationID != uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event targets both an order and a donation")
	}
	return nil
}

// TargetFromOutcome copies an adapter outcome into a Target.
func TargetFromOutcome(o payments.Outcome) Target {
	t := Target{
		SessionID:       o.SessionID,
		PaymentIntentID: o.PaymentIntentID,
		Currency:        o.Currency,
		AmountCents:     o.AmountCents,
	}
	switch o.Kind {
	case payments.KindDonation:
		t.DonationID = o.ReferenceID
	case payments.KindOrder:
		t.OrderID = o.ReferenceID
	}
	return t
}

// KindFromOutcome classifies an outcome. Pending outcomes carry nothing to
// apply and come back as KindUnknown.
func KindFromOutcome(o payments.Outcome) Kind {
	switch o.Status {
	case enums.PaymentStatusCompleted:
		if o.Kind == payments.KindDonation {
			return KindDonationPaid
		}
		return KindOrderPaid
	case enums.PaymentStatusFailed:
		return KindPaymentFailed
	case enums.PaymentStatusRefunded:
		return KindRefunded
	default:
		return KindUnknown
	}
}

// EventFromOutcome builds an Event for a gateway notification whose resource
// was mapped through one of the payments adapters.
func EventFromOutcome(eventID, eventType string, payload []byte, o payments.Outcome) Event {
	return Event{
		Gateway: o.Gateway,
		EventID: eventID,
		Type:    eventType,
		Kind:    KindFromOutcome(o),
		Target:  TargetFromOutcome(o),
		Payload: payload,
	}
}
