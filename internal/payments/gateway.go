package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Kind tells a gateway session (and every webhook for it) what it pays for.
type Kind string

const (
	KindOrder    Kind = "order"
	KindDonation Kind = "donation"
)

func (k Kind) IsValid() bool {
	return k == KindOrder || k == KindDonation
}

type LineItem struct {
	Name            string
	SKU             string
	Quantity        int
	UnitAmountCents int64
}

// SessionRequest describes a hosted checkout to open on a gateway.
type SessionRequest struct {
	Kind           Kind
	ReferenceID    uuid.UUID
	Currency       string
	Items          []LineItem
	ShippingCents  int64
	TotalCents     int64
	CustomerEmail  string
	Description    string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// ItemsTotal sums the line items without shipping.
func (r SessionRequest) ItemsTotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += int64(item.Quantity) * item.UnitAmountCents
	}
	return total
}

func (r SessionRequest) Validate() error {
	switch {
	case !r.Kind.IsValid():
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported payment kind %q", r.Kind)
	case r.ReferenceID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	case r.Currency == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	case len(r.Items) == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	case r.TotalCents <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "total must be positive")
	case r.ItemsTotal()+r.ShippingCents != r.TotalCents:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "line items (%d) and shipping (%d) do not add up to total %d",
			r.ItemsTotal(), r.ShippingCents, r.TotalCents)
	}
	return nil
}

// Session is the hosted page the buyer is redirected to.
type Session struct {
	Gateway     enums.PaymentGateway
	ID          string
	RedirectURL string
}

// Outcome is a gateway verification result in the storefront vocabulary.
type Outcome struct {
	Gateway         enums.PaymentGateway
	Status          enums.PaymentStatus
	SessionID       string
	PaymentIntentID string
	Kind            Kind
	ReferenceID     uuid.UUID
	AmountCents     int64
	Currency        string
}

func (o Outcome) Completed() bool {
	return o.Status == enums.PaymentStatusCompleted
}

// Gateway is a hosted checkout provider.
type Gateway interface {
	Name() enums.PaymentGateway
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	// Verify resolves the token handed back on the browser return (Stripe
	// session id, PayPal order id), capturing the payment where the gateway
	// requires it.
	Verify(ctx context.Context, token string) (Outcome, error)
}

// Registry selects a gateway adapter by name.
type Registry struct {
	gateways map[enums.PaymentGateway]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[enums.PaymentGateway]Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name enums.PaymentGateway) (Gateway, error) {
	if r != nil {
		if g, ok := r.gateways[name]; ok {
			return g, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment gateway %q is not available", name))
}

// Names lists the configured gateways.
func (r *Registry) Names() []enums.PaymentGateway {
	if r == nil {
		return nil
	}
	out := make([]enums.PaymentGateway, 0, len(r.gateways))
	for _, name := range []enums.PaymentGateway{enums.PaymentGatewayStripe, enums.PaymentGatewayPayPal} {
		if _, ok := r.gateways[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
