package orders

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const (
	maxNotesLength     = 1000
	expiryBatchSize    = 200
	checkoutDependency = "payment provider unavailable, please try again"
)

// Service materializes carts into orders and manages them afterwards.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	ConfirmReturn(ctx context.Context, orderID uuid.UUID, token string) (*OrderDTO, error)
	Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[OrderDTO], error)
	List(ctx context.Context, params ListParams) (*pagination.Page[OrderDTO], error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*OrderDTO, error)
	ExpirePending(ctx context.Context, olderThan time.Time) (int, error)
}

// CheckoutInput is what the buyer submits. ClientTotalCents is only compared
// against the server total for logging; it never influences the charge.
type CheckoutInput struct {
	Owner            cart.Owner
	Gateway          string
	Email            string
	Notes            string
	ClientTotalCents *int64
}

type ListParams struct {
	pagination.Params
	Status *enums.OrderStatus
}

// ReturnURLs are the browser pages gateways redirect to.
type ReturnURLs struct {
	Success string
	Cancel  string
}

type ServiceParams struct {
	Repo       Repository
	Payments   *payments.Repository
	Tx         txRunner
	Cart       cartReader
	Gateways   gatewayRegistry
	Applier    PaymentApplier
	Notifier   statusNotifier
	ReturnURLs ReturnURLs
	Logger     *logger.Logger
}

type service struct {
	repo     Repository
	payments *payments.Repository
	tx       txRunner
	cart     cartReader
	gateways gatewayRegistry
	applier  PaymentApplier
	notifier statusNotifier
	urls     ReturnURLs
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	case params.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Cart == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart service required")
	case params.Gateways == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway registry required")
	case params.Applier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment applier required")
	case params.Notifier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	}
	return &service{
		repo:     params.Repo,
		payments: params.Payments,
		tx:       params.Tx,
		cart:     params.Cart,
		gateways: params.Gateways,
		applier:  params.Applier,
		notifier: params.Notifier,
		urls:     params.ReturnURLs,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Checkout snapshots the owner's cart into a pending order and opens a hosted
// payment session for it. If the gateway refuses, the order is removed again.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if err := input.Owner.Validate(); err != nil {
		return nil, err
	}
	gatewayName, err := enums.ParsePaymentGateway(input.Gateway)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment method")
	}
	gateway, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(input.Notes)
	if len(notes) > maxNotesLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notes are too long")
	}

	summary, err := s.cart.Summary(ctx, input.Owner)
	if err != nil {
		return nil, err
	}
	if summary.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if unavailable := summary.Unavailable(); len(unavailable) > 0 {
		names := make([]string, 0, len(unavailable))
		for _, line := range unavailable {
			names = append(names, line.ProductName)
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "some items are no longer available").
			WithDetails(map[string]any{"products": names})
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"owner": input.Owner.String(), "gateway": string(gatewayName)})
	if input.ClientTotalCents != nil && *input.ClientTotalCents != summary.TotalCents {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"client_total_cents": *input.ClientTotalCents,
			"server_total_cents": summary.TotalCents,
		}), "checkout.client_total_mismatch")
	}

	order := buildOrder(input, summary, gatewayName, notes)
	payment := &models.Payment{
		Gateway:     gatewayName,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		Status:      enums.PaymentStatusPending,
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		payment.OrderID = order.ID
		return s.payments.WithTx(tx).Create(ctx, payment)
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	ctx = s.logg.WithField(ctx, "order_id", order.ID.String())

	session, err := gateway.CreateSession(ctx, s.sessionRequest(order, summary, input.Email))
	if err != nil {
		s.logg.Error(ctx, "checkout.session_failed", err)
		s.rollback(ctx, order.ID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, checkoutDependency)
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		if err := s.repo.WithTx(tx).SetPaymentID(ctx, order.ID, session.ID, now); err != nil {
			return err
		}
		return s.payments.WithTx(tx).SetGatewayPaymentID(ctx, payment.ID, session.ID, now)
	}); err != nil {
		// The session exists; reconciliation can still find the order through metadata.
		s.logg.Error(s.logg.WithField(ctx, "session_id", session.ID), "checkout.store_session_failed", err)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id":  session.ID,
		"total_cents": order.TotalCents,
	}), "checkout.session_created")

	return &CheckoutResult{
		OrderID:     order.ID,
		Gateway:     gatewayName,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		TotalCents:  order.TotalCents,
		Currency:    order.Currency,
	}, nil
}

func buildOrder(input CheckoutInput, summary *cart.Summary, gateway enums.PaymentGateway, notes string) *models.Order {
	userID, sessionID := input.Owner.Fields()
	order := &models.Order{
		UserID:        userID,
		SessionID:     sessionID,
		SubtotalCents: summary.SubtotalCents,
		ShippingCents: summary.ShippingCents,
		TotalCents:    summary.TotalCents,
		Currency:      strings.ToLower(summary.Currency),
		Status:        enums.OrderStatusPending,
		PaymentMethod: gateway,
		Items:         make([]models.OrderItem, 0, len(summary.Lines)),
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		order.CustomerEmail = &email
	}
	if notes != "" {
		order.Notes = &notes
	}
	for _, line := range summary.Lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			ProductName:    line.ProductName,
			SKU:            optional(line.SKU),
			ColorName:      optional(line.ColorName),
			ColorHex:       optional(line.ColorHex),
			SizeName:       optional(line.SizeName),
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: line.LineTotalCents,
		})
	}
	return order
}

func (s *service) sessionRequest(order *models.Order, summary *cart.Summary, email string) payments.SessionRequest {
	items := make([]payments.LineItem, 0, len(summary.Lines))
	for _, line := range summary.Lines {
		name := line.ProductName
		if variant := strings.TrimSpace(strings.Join(nonEmpty(line.ColorName, line.SizeName), " / ")); variant != "" {
			name += " (" + variant + ")"
		}
		items = append(items, payments.LineItem{
			Name:            name,
			SKU:             line.SKU,
			Quantity:        line.Quantity,
			UnitAmountCents: line.UnitPriceCents,
		})
	}
	return payments.SessionRequest{
		Kind:           payments.KindOrder,
		ReferenceID:    order.ID,
		Currency:       order.Currency,
		Items:          items,
		ShippingCents:  order.ShippingCents,
		TotalCents:     order.TotalCents,
		CustomerEmail:  strings.TrimSpace(email),
		Description:    "Order " + order.ID.String(),
		SuccessURL:     withQuery(s.urls.Success, "order_id", order.ID.String()),
		CancelURL:      withQuery(s.urls.Cancel, "order_id", order.ID.String()),
		IdempotencyKey: "order-" + order.ID.String(),
	}
}

func (s *service) rollback(ctx context.Context, orderID uuid.UUID) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.payments.WithTx(tx).DeleteForOrder(ctx, orderID); err != nil {
			return err
		}
		return s.repo.WithTx(tx).Delete(ctx, orderID)
	})
	if err != nil {
		s.logg.Error(ctx, "checkout.rollback_failed", err)
	}
}

// ConfirmReturn verifies the token the gateway handed back to the browser and
// feeds a settled outcome into reconciliation. The webhook for the same
// payment may win the race; the paid_at guard makes the loser a no-op.
func (s *service) ConfirmReturn(ctx context.Context, orderID uuid.UUID, token string) (*OrderDTO, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		dto := NewOrderDTO(order)
		return &dto, nil
	}
	token = strings.TrimSpace(token)
	if token == "" && order.PaymentID != nil {
		token = *order.PaymentID
	}
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment token is required")
	}

	gateway, err := s.gateways.Get(order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	outcome, err := gateway.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if outcome.ReferenceID != uuid.Nil && (outcome.Kind != payments.KindOrder || outcome.ReferenceID != order.ID) {
		return nil, pkgerrors.New(pkgerrors.CodeVerification, "payment does not belong to this order")
	}
	if order.PaymentID != nil && outcome.SessionID != "" && outcome.SessionID != *order.PaymentID {
		return nil, pkgerrors.New(pkgerrors.CodeVerification, "payment does not belong to this order")
	}
	outcome.Kind, outcome.ReferenceID = payments.KindOrder, order.ID

	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "payment_status": string(outcome.Status)})
	if outcome.Status != enums.PaymentStatusPending {
		if err := s.applier.ApplyOutcome(ctx, outcome); err != nil {
			return nil, err
		}
	}
	s.logg.Info(ctx, "checkout.return_confirmed")
	return s.Get(ctx, order.ID)
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dto := NewOrderDTO(order)
	return &dto, nil
}

// GetForUser hides orders of other customers behind NotFound.
func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID == nil || *order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	dto := NewOrderDTO(order)
	return &dto, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[OrderDTO], error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer required")
	}
	return s.list(ctx, params, &userID, nil)
}

func (s *service) List(ctx context.Context, params ListParams) (*pagination.Page[OrderDTO], error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	return s.list(ctx, params.Params, nil, params.Status)
}

func (s *service) list(ctx context.Context, params pagination.Params, userID *uuid.UUID, status *enums.OrderStatus) (*pagination.Page[OrderDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, listOrdersQuery{Limit: params.Limit, Cursor: cursor, UserID: userID, Status: status})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page := pagination.Build(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	out := pagination.Page[OrderDTO]{Items: make([]OrderDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, NewOrderDTO(&page.Items[i]))
	}
	return &out, nil
}

// UpdateStatus applies an admin transition and records an order_status notification.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*OrderDTO, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		from := order.Status
		if from == status {
			return nil
		}
		if !from.CanTransitionTo(status) {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot move order from %s to %s", from, status).
				WithDetails(map[string]any{"from": from, "to": status})
		}
		now := s.now()
		moved, err := repo.TransitionStatus(ctx, orderID, from, status, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}
		if status == enums.OrderStatusFailed {
			if _, err := s.payments.WithTx(tx).FailPending(ctx, orderID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail pending payments")
			}
		}
		order.Status = status
		return s.notifier.CreateOrderStatusNotification(ctx, tx, order, from)
	})
	if err != nil {
		return nil, asServiceError(err, "update order status")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "status": string(status)}), "orders.status_updated")
	return s.Get(ctx, orderID)
}

// ExpirePending fails unpaid orders created before olderThan together with
// their pending payment attempts. Orders paid in the meantime are skipped by
// the conditional update.
func (s *service) ExpirePending(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := s.repo.FindStalePending(ctx, olderThan, expiryBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale orders")
	}
	expired := 0
	for _, order := range stale {
		var failed bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			now := s.now()
			var err error
			failed, err = s.repo.WithTx(tx).FailPending(ctx, order.ID, now)
			if err != nil || !failed {
				return err
			}
			_, err = s.payments.WithTx(tx).FailPending(ctx, order.ID, now)
			return err
		})
		if err != nil {
			return expired, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order")
		}
		if failed {
			expired++
		}
	}
	return expired, nil
}

func asServiceError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// withQuery appends key=value to raw, keeping any existing query.
func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
