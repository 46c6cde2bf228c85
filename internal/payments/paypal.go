package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/paypal"
)

const errAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

type paypalAPI interface {
	CreateOrder(ctx context.Context, requestID string, body paypal.CreateOrderRequest) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID, requestID string) (*paypal.Order, error)
}

// PayPalGateway opens v2 orders and captures them on return.
type PayPalGateway struct {
	api       paypalAPI
	brandName string
	logg      *logger.Logger
}

func NewPayPalGateway(api paypalAPI, brandName string, logg *logger.Logger) (*PayPalGateway, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paypal client required")
	}
	return &PayPalGateway{api: api, brandName: brandName, logg: logg}, nil
}

func (g *PayPalGateway) Name() enums.PaymentGateway {
	return enums.PaymentGatewayPayPal
}

func (g *PayPalGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}
	ref := Reference{Kind: req.Kind, ID: req.ReferenceID}
	items := make([]paypal.Item, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, paypal.NewItem(item.Name, item.SKU, req.Currency, item.Quantity, item.UnitAmountCents))
	}
	unit := paypal.NewPurchaseUnit(req.ReferenceID.String(), CustomID(ref), req.Currency, items, req.ItemsTotal(), req.ShippingCents)
	unit.Description = req.Description

	order, err := g.api.CreateOrder(ctx, req.IdempotencyKey, paypal.CreateOrderRequest{
		PurchaseUnits: []paypal.PurchaseUnit{unit},
		ApplicationContext: paypal.ApplicationContext{
			BrandName:    g.brandName,
			ReturnURL:    req.SuccessURL,
			CancelURL:    req.CancelURL,
			UserAction:   "PAY_NOW",
			ShippingPref: "GET_FROM_FILE",
		},
	})
	if err != nil {
		return Session{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create paypal order")
	}
	approve := order.ApproveURL()
	if order.ID == "" || approve == "" {
		return Session{}, pkgerrors.New(pkgerrors.CodeDependency, "paypal returned an order without approval link")
	}
	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"paypal_order_id": order.ID,
		"payment_kind":    string(req.Kind),
		"reference_id":    req.ReferenceID.String(),
	}), "paypal order created")
	return Session{Gateway: enums.PaymentGatewayPayPal, ID: order.ID, RedirectURL: approve}, nil
}

// Verify captures an approved order. Orders that were already captured (by a
// previous return or by the buyer refreshing) are read back instead.
func (g *PayPalGateway) Verify(ctx context.Context, token string) (Outcome, error) {
	orderID := strings.TrimSpace(token)
	if orderID == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}
	order, err := g.api.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, paypalError(err, "fetch paypal order")
	}
	if order.Status == paypal.OrderStatusApproved {
		captured, err := g.api.CaptureOrder(ctx, orderID, "capture-"+orderID)
		var apiErr *paypal.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.Name == errAlreadyCaptured:
			if captured, err = g.api.GetOrder(ctx, orderID); err != nil {
				return Outcome{}, paypalError(err, "reload captured paypal order")
			}
		case err != nil:
			return Outcome{}, paypalError(err, "capture paypal order")
		}
		order = captured
	}
	return OutcomeFromPayPalOrder(order), nil
}

func paypalError(err error, msg string) error {
	var apiErr *paypal.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "paypal order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

// OutcomeFromPayPalOrder maps a v2 order (and its first capture) onto the
// storefront payment vocabulary.
func OutcomeFromPayPalOrder(order *paypal.Order) Outcome {
	out := Outcome{
		Gateway:   enums.PaymentGatewayPayPal,
		SessionID: order.ID,
		Status:    paypalOrderStatus(order),
	}
	if ref, ok := ParseCustomID(order.CustomID()); ok {
		out.Kind, out.ReferenceID = ref.Kind, ref.ID
	}
	if capture := order.FirstCapture(); capture != nil {
		out.PaymentIntentID = capture.ID
		applyMoney(&out, capture.Amount)
	} else if len(order.PurchaseUnits) > 0 {
		applyMoney(&out, &order.PurchaseUnits[0].Amount.Money)
	}
	return out
}

// OutcomeFromCapture maps a PAYMENT.CAPTURE.* webhook resource.
func OutcomeFromCapture(capture *paypal.Capture) Outcome {
	out := Outcome{
		Gateway:         enums.PaymentGatewayPayPal,
		Status:          PayPalCaptureStatus(capture.Status),
		PaymentIntentID: capture.ID,
	}
	if capture.SupplementaryData != nil {
		out.SessionID = capture.SupplementaryData.RelatedIDs.OrderID
	}
	if ref, ok := ParseCustomID(capture.CustomID); ok {
		out.Kind, out.ReferenceID = ref.Kind, ref.ID
	}
	applyMoney(&out, capture.Amount)
	return out
}

func applyMoney(out *Outcome, m *paypal.Money) {
	if m == nil {
		return
	}
	if cents, err := paypal.ParseAmount(m.Value); err == nil {
		out.AmountCents = cents
	}
	out.Currency = strings.ToLower(m.CurrencyCode)
}

func paypalOrderStatus(order *paypal.Order) enums.PaymentStatus {
	if capture := order.FirstCapture(); capture != nil {
		return PayPalCaptureStatus(capture.Status)
	}
	switch order.Status {
	case paypal.OrderStatusVoided:
		return enums.PaymentStatusFailed
	case paypal.OrderStatusCompleted:
		return enums.PaymentStatusCompleted
	default:
		return enums.PaymentStatusPending
	}
}

// PayPalCaptureStatus maps a capture status.
func PayPalCaptureStatus(status string) enums.PaymentStatus {
	switch strings.ToUpper(status) {
	case paypal.CaptureStatusCompleted:
		return enums.PaymentStatusCompleted
	case paypal.CaptureStatusDeclined, paypal.CaptureStatusFailed:
		return enums.PaymentStatusFailed
	case paypal.CaptureStatusRefunded:
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusPending
	}
}
