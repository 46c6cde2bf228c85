package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	shippingLineName = "Shipping"
	// sessionPlaceholder is substituted by Stripe on redirect.
	sessionPlaceholder = "{CHECKOUT_SESSION_ID}"
)

// stripeAPI is the part of pkg/stripe.Client the adapter calls.
type stripeAPI interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
}

// StripeGateway opens hosted Checkout Sessions.
type StripeGateway struct {
	api  stripeAPI
	logg *logger.Logger
}

func NewStripeGateway(api stripeAPI, logg *logger.Logger) (*StripeGateway, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client required")
	}
	return &StripeGateway{api: api, logg: logg}, nil
}

func (g *StripeGateway) Name() enums.PaymentGateway {
	return enums.PaymentGatewayStripe
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}
	params := checkoutSessionParams(req)
	sess, err := g.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return Session{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}
	if sess == nil || sess.ID == "" || sess.URL == "" {
		return Session{}, pkgerrors.New(pkgerrors.CodeDependency, "stripe returned an incomplete checkout session")
	}
	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"stripe_session_id": sess.ID,
		"payment_kind":      string(req.Kind),
		"reference_id":      req.ReferenceID.String(),
	}), "stripe checkout session created")
	return Session{Gateway: enums.PaymentGatewayStripe, ID: sess.ID, RedirectURL: sess.URL}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, token string) (Outcome, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe session id is required")
	}
	sess, err := g.api.GetCheckoutSession(ctx, token)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe checkout session")
	}
	if sess == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "stripe checkout session not found")
	}
	return OutcomeFromCheckoutSession(sess), nil
}

func checkoutSessionParams(req SessionRequest) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(req.Currency)
	ref := Reference{Kind: req.Kind, ID: req.ReferenceID}
	md := StripeMetadata(ref)

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items)+1)
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)}
		if item.SKU != "" {
			product.Description = stripe.String(item.SKU)
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.UnitAmountCents),
				ProductData: product,
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	if req.ShippingCents > 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(req.ShippingCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(shippingLineName)},
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(withSessionToken(req.SuccessURL)),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ReferenceID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: md,
		},
	}
	if req.Description != "" {
		params.PaymentIntentData.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for key, value := range md {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params
}

// withSessionToken appends token={CHECKOUT_SESSION_ID} so the return path
// receives the same token shape PayPal appends on its own.
func withSessionToken(successURL string) string {
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "token=" + sessionPlaceholder
}

// OutcomeFromCheckoutSession maps a Checkout Session onto the storefront
// payment vocabulary. It is shared by the return path and webhook parsing.
func OutcomeFromCheckoutSession(sess *stripe.CheckoutSession) Outcome {
	out := Outcome{
		Gateway:     enums.PaymentGatewayStripe,
		Status:      stripeSessionStatus(sess),
		SessionID:   sess.ID,
		AmountCents: sess.AmountTotal,
		Currency:    strings.ToLower(string(sess.Currency)),
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	if ref, ok := ReferenceFromMetadata(sess.Metadata); ok {
		out.Kind, out.ReferenceID = ref.Kind, ref.ID
		return out
	}
	// client_reference_id only stands in for an order id when the metadata
	// does not name another kind.
	if kind := metadataKind(sess.Metadata); kind != "" && kind != KindOrder {
		return out
	}
	if id, err := uuid.Parse(sess.ClientReferenceID); err == nil {
		out.Kind, out.ReferenceID = KindOrder, id
	}
	return out
}

func stripeSessionStatus(sess *stripe.CheckoutSession) enums.PaymentStatus {
	if sess.Status == stripe.CheckoutSessionStatusExpired {
		return enums.PaymentStatusFailed
	}
	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return enums.PaymentStatusCompleted
	default:
		return enums.PaymentStatusPending
	}
}
