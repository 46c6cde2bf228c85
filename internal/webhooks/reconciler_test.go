package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/redis/redistest"
)

type fakeGateway struct {
	outcome payments.Outcome
}

func (g *fakeGateway) Name() enums.PaymentGateway { return enums.PaymentGatewayStripe }

func (g *fakeGateway) CreateSession(_ context.Context, req payments.SessionRequest) (payments.Session, error) {
	id := "cs_" + req.ReferenceID.String()
	return payments.Session{Gateway: enums.PaymentGatewayStripe, ID: id, RedirectURL: "https://pay.test/" + id}, nil
}

func (g *fakeGateway) Verify(context.Context, string) (payments.Outcome, error) {
	return g.outcome, nil
}

// flakyNotifier fails order notifications while failing is set.
type flakyNotifier struct {
	notifications.Service
	failing bool
}

func (n *flakyNotifier) CreateOrderNotification(ctx context.Context, tx *gorm.DB, order *models.Order, shortfalls []notifications.Shortfall) error {
	if n.failing {
		return errors.New("notification store unavailable")
	}
	return n.Service.CreateOrderNotification(ctx, tx, order, shortfalls)
}

type fixture struct {
	conn     *gorm.DB
	rec      *Reconciler
	orders   orders.Service
	cart     cart.Service
	gateway  *fakeGateway
	redis    *redistest.Memory
	registry *prometheus.Registry
	notifier *flakyNotifier

	tee    *models.Product
	teeRed *models.ProductVariant
	mug    *models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	logg := logger.Nop()

	catalogRepo := catalog.NewRepository(conn)
	catalogSvc, err := catalog.NewService(catalog.ServiceParams{Repo: catalogRepo, Tx: client, Logger: logg})
	require.NoError(t, err)
	settingsSvc, err := settings.NewService(settings.ServiceParams{Repo: settings.NewRepository(conn), Logger: logg, DefaultCurrency: "usd"})
	require.NoError(t, err)
	cartSvc, err := cart.NewService(cart.ServiceParams{Repo: cart.NewRepository(conn), Tx: client, Catalog: catalogSvc, Settings: settingsSvc, Logger: logg})
	require.NoError(t, err)
	baseNotifier, err := notifications.NewService(notifications.NewRepository(conn))
	require.NoError(t, err)
	notifier := &flakyNotifier{Service: baseNotifier}

	mem := redistest.NewMemory()
	guard, err := NewInFlightGuard(mem, time.Minute)
	require.NoError(t, err)
	registry := prometheus.NewRegistry()

	ordersRepo := orders.NewRepository(conn)
	paymentsRepo := payments.NewRepository(conn)
	rec, err := NewReconciler(ReconcilerParams{
		Ledger:    NewLedger(conn),
		Guard:     guard,
		Tx:        client,
		Orders:    ordersRepo,
		Donations: donations.NewRepository(conn),
		Catalog:   catalogRepo,
		Payments:  paymentsRepo,
		Cart:      cartSvc,
		Notifier:  notifier,
		Metrics:   metrics.NewWebhookMetrics(registry),
		Logger:    logg,
	})
	require.NoError(t, err)

	gateway := &fakeGateway{}
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       ordersRepo,
		Payments:   paymentsRepo,
		Tx:         client,
		Cart:       cartSvc,
		Gateways:   payments.NewRegistry(gateway),
		Applier:    rec,
		Notifier:   baseNotifier,
		ReturnURLs: orders.ReturnURLs{Success: "https://shop.test/ok", Cancel: "https://shop.test/cancel"},
		Logger:     logg,
	})
	require.NoError(t, err)

	tee := &models.Product{Name: "Tee", Slug: "tee", BasePriceCents: 2000, IsActive: true}
	require.NoError(t, conn.Create(tee).Error)
	red := &models.Color{Name: "Red", Hex: "#ff0000"}
	require.NoError(t, conn.Create(red).Error)
	teeRed := &models.ProductVariant{ProductID: tee.ID, ColorID: &red.ID, SKU: "TEE-RED", Stock: 5, PriceAdjustmentCents: 250}
	require.NoError(t, conn.Create(teeRed).Error)
	mug := &models.Product{Name: "Mug", Slug: "mug", BasePriceCents: 1000, Stock: 1, IsActive: true}
	require.NoError(t, conn.Create(mug).Error)

	return &fixture{
		conn:     conn,
		rec:      rec,
		orders:   ordersSvc,
		cart:     cartSvc,
		gateway:  gateway,
		redis:    mem,
		registry: registry,
		notifier: notifier,
		tee:      tee,
		teeRed:   teeRed,
		mug:      mug,
	}
}

// checkout puts qtyTee red tees and qtyMug mugs in a fresh guest cart and
// checks it out.
func (f *fixture) checkout(t *testing.T, session string, qtyTee, qtyMug int) *orders.CheckoutResult {
	t.Helper()
	ctx := context.Background()
	owner := cart.GuestOwner(session)
	if qtyTee > 0 {
		_, err := f.cart.AddItem(ctx, owner, cart.AddItemInput{ProductID: f.tee.ID, VariantID: &f.teeRed.ID, Quantity: qtyTee})
		require.NoError(t, err)
	}
	if qtyMug > 0 {
		_, err := f.cart.AddItem(ctx, owner, cart.AddItemInput{ProductID: f.mug.ID, Quantity: qtyMug})
		require.NoError(t, err)
	}
	res, err := f.orders.Checkout(ctx, orders.CheckoutInput{Owner: owner, Gateway: "stripe"})
	require.NoError(t, err)
	return res
}

func paidEvent(eventID string, res *orders.CheckoutResult) Event {
	return Event{
		Gateway: enums.PaymentGatewayStripe,
		EventID: eventID,
		Type:    "checkout.session.completed",
		Kind:    KindOrderPaid,
		Target: Target{
			OrderID:         res.OrderID,
			SessionID:       res.SessionID,
			PaymentIntentID: "pi_" + eventID,
			Currency:        "usd",
			AmountCents:     res.TotalCents,
		},
		Payload: []byte(`{"id":"` + eventID + `"}`),
	}
}

func (f *fixture) stock(t *testing.T) (variant, mug int) {
	t.Helper()
	var v models.ProductVariant
	require.NoError(t, f.conn.Take(&v, "id = ?", f.teeRed.ID).Error)
	var p models.Product
	require.NoError(t, f.conn.Take(&p, "id = ?", f.mug.ID).Error)
	return v.Stock, p.Stock
}

func (f *fixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.conn.Preload("Items").Take(&o, "id = ?", id).Error)
	return o
}

func (f *fixture) countNotifications(t *testing.T, typ enums.NotificationType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.Notification{}).Where("type = ?", typ).Count(&n).Error)
	return n
}

func (f *fixture) ledgerRow(t *testing.T, eventID string) models.WebhookEvent {
	t.Helper()
	var row models.WebhookEvent
	require.NoError(t, f.conn.Take(&row, "event_id = ?", eventID).Error)
	return row
}

func (f *fixture) webhookCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != "storefront_webhook_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "outcome") == outcome {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestPaidOrderScenarioWithShortProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 2, 1)

	// Another sale takes the last mug before the payment settles.
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", f.mug.ID).Update("stock", 0).Error)

	result, err := f.rec.Handle(ctx, paidEvent("evt_1", res))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result.Status)

	variantStock, mugStock := f.stock(t)
	assert.Equal(t, 3, variantStock)
	assert.Equal(t, 0, mugStock)

	order := f.order(t, res.OrderID)
	require.NotNil(t, order.PaidAt)
	assert.Equal(t, enums.OrderStatusProcessing, order.Status)
	require.NotNil(t, order.PaymentIntentID)
	assert.Equal(t, "pi_evt_1", *order.PaymentIntentID)
	for _, item := range order.Items {
		if item.ProductID == f.mug.ID {
			assert.Equal(t, 1, item.BackorderedQty)
		} else {
			assert.Zero(t, item.BackorderedQty)
		}
	}

	var carts int64
	require.NoError(t, f.conn.Model(&models.Cart{}).Count(&carts).Error)
	assert.Zero(t, carts)

	var notes []models.Notification
	require.NoError(t, f.conn.Find(&notes).Error)
	require.Len(t, notes, 1, "one admin notification per paid order")
	assert.Equal(t, enums.NotificationTypeOrderPaid, notes[0].Type)
	assert.EqualValues(t, 1, notes[0].Data["backordered_units"])
	assert.Contains(t, notes[0].Message, "backordered")

	var payment models.Payment
	require.NoError(t, f.conn.Take(&payment, "order_id = ?", res.OrderID).Error)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.Status)

	row := f.ledgerRow(t, "evt_1")
	assert.Equal(t, enums.WebhookEventStatusApplied, row.Status)
	assert.NotNil(t, row.ProcessedAt)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, 0, f.redis.Len())
	assert.Equal(t, 1.0, f.webhookCount(t, metrics.OutcomeSuccess))
}

func TestLoginBeforePaymentClearsMergedCustomerCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	res := f.checkout(t, "sess-a", 2, 0)

	// The guest signs in while the gateway redirect is still pending.
	require.NoError(t, f.cart.Merge(ctx, "sess-a", userID))
	summary, err := f.cart.Summary(ctx, cart.CustomerOwner(userID))
	require.NoError(t, err)
	require.Len(t, summary.Lines, 1)

	result, err := f.rec.Handle(ctx, paidEvent("evt_1", res))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result.Status)

	order := f.order(t, res.OrderID)
	require.NotNil(t, order.UserID)
	assert.Equal(t, userID, *order.UserID)

	summary, err = f.cart.Summary(ctx, cart.CustomerOwner(userID))
	require.NoError(t, err)
	assert.True(t, summary.IsEmpty())
	var carts int64
	require.NoError(t, f.conn.Model(&models.Cart{}).Count(&carts).Error)
	assert.Zero(t, carts)
}

func TestRedeliveredEventIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 2, 0)
	evt := paidEvent("evt_1", res)

	_, err := f.rec.Handle(ctx, evt)
	require.NoError(t, err)
	first := f.order(t, res.OrderID)

	again, err := f.rec.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, again.Status)

	variantStock, _ := f.stock(t)
	assert.Equal(t, 3, variantStock)
	second := f.order(t, res.OrderID)
	require.NotNil(t, second.PaidAt)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt))
	assert.EqualValues(t, 1, f.countNotifications(t, enums.NotificationTypeOrderPaid))
	assert.Equal(t, 1, f.ledgerRow(t, "evt_1").Attempts)
	assert.Equal(t, 1.0, f.webhookCount(t, metrics.OutcomeDuplicate))
}

func TestOrderGuardAcrossEventIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 2, 0)

	_, err := f.rec.Handle(ctx, paidEvent("evt_1", res))
	require.NoError(t, err)
	second, err := f.rec.Handle(ctx, paidEvent("evt_2", res))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, second.Status)
	assert.Equal(t, noteOrderAlreadyPaid, second.Note)

	variantStock, _ := f.stock(t)
	assert.Equal(t, 3, variantStock)
	row := f.ledgerRow(t, "evt_2")
	assert.Equal(t, enums.WebhookEventStatusApplied, row.Status)
	require.NotNil(t, row.Note)
	assert.Equal(t, noteOrderAlreadyPaid, *row.Note)

	var completed int64
	require.NoError(t, f.conn.Model(&models.Payment{}).Where("order_id = ? AND status = ?", res.OrderID, enums.PaymentStatusCompleted).Count(&completed).Error)
	assert.EqualValues(t, 1, completed)
}

func TestConcurrentDeliveriesDecrementOnce(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "sess-a", 2, 0)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.rec.Handle(context.Background(), paidEvent(fmt.Sprintf("evt_%d", i), res))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	variantStock, _ := f.stock(t)
	assert.Equal(t, 3, variantStock)
	assert.EqualValues(t, 1, f.countNotifications(t, enums.NotificationTypeOrderPaid))
}

func TestStockFloorSkipsShortLineWithoutAborting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 4, 1)
	require.NoError(t, f.conn.Model(&models.ProductVariant{}).Where("id = ?", f.teeRed.ID).Update("stock", 2).Error)

	_, err := f.rec.Handle(ctx, paidEvent("evt_1", res))
	require.NoError(t, err)

	variantStock, mugStock := f.stock(t)
	assert.Equal(t, 2, variantStock)
	assert.Equal(t, 0, mugStock)
	order := f.order(t, res.OrderID)
	assert.NotNil(t, order.PaidAt)
	for _, item := range order.Items {
		if item.VariantID != nil {
			assert.Equal(t, 4, item.BackorderedQty)
		} else {
			assert.Zero(t, item.BackorderedQty)
		}
	}
}

func TestDonationEventsNeverTouchOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 1, 0)
	donation := &models.Donation{DonorName: "Ada", DonorEmail: "ada@example.com", AmountCents: 2500, Currency: "usd", Status: enums.DonationStatusPending, Gateway: enums.PaymentGatewayStripe}
	require.NoError(t, f.conn.Create(donation).Error)

	result, err := f.rec.Handle(ctx, Event{
		Gateway: enums.PaymentGatewayStripe,
		EventID: "evt_don",
		Type:    "checkout.session.completed",
		Kind:    KindDonationPaid,
		Target:  Target{DonationID: donation.ID, SessionID: "cs_donation"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Note)

	var stored models.Donation
	require.NoError(t, f.conn.Take(&stored, "id = ?", donation.ID).Error)
	assert.Equal(t, enums.DonationStatusPaid, stored.Status)
	assert.NotNil(t, stored.PaidAt)
	assert.EqualValues(t, 1, f.countNotifications(t, enums.NotificationTypeDonationReceived))

	order := f.order(t, res.OrderID)
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	variantStock, _ := f.stock(t)
	assert.Equal(t, 5, variantStock)

	// An order event pointing at the donation id finds no order.
	orderEvt, err := f.rec.Handle(ctx, Event{
		Gateway: enums.PaymentGatewayStripe,
		EventID: "evt_ord",
		Type:    "checkout.session.completed",
		Kind:    KindOrderPaid,
		Target:  Target{OrderID: donation.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, noteOrderNotFound, orderEvt.Note)
	assert.EqualValues(t, 0, f.countNotifications(t, enums.NotificationTypeOrderPaid))
}

func TestFailedApplyRollsBackAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 2, 0)
	evt := paidEvent("evt_1", res)

	f.notifier.failing = true
	_, err := f.rec.Handle(ctx, evt)
	require.Error(t, err)
	assert.GreaterOrEqual(t, pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).HTTPStatus, 500)

	row := f.ledgerRow(t, "evt_1")
	assert.Equal(t, enums.WebhookEventStatusFailed, row.Status)
	require.NotNil(t, row.ProcessingError)
	assert.Contains(t, *row.ProcessingError, "notification store unavailable")
	assert.Nil(t, row.ProcessedAt)
	assert.Equal(t, 0, f.redis.Len())

	order := f.order(t, res.OrderID)
	assert.Nil(t, order.PaidAt)
	variantStock, _ := f.stock(t)
	assert.Equal(t, 5, variantStock)
	var carts int64
	require.NoError(t, f.conn.Model(&models.Cart{}).Count(&carts).Error)
	assert.EqualValues(t, 1, carts)

	f.notifier.failing = false
	result, err := f.rec.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result.Status)
	row = f.ledgerRow(t, "evt_1")
	assert.Equal(t, enums.WebhookEventStatusApplied, row.Status)
	assert.Nil(t, row.ProcessingError)
	assert.Equal(t, 2, row.Attempts)
	variantStock, _ = f.stock(t)
	assert.Equal(t, 3, variantStock)
}

func TestInFlightDeliveryIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 1, 0)

	held, err := f.rec.guard.Acquire(ctx, enums.PaymentGatewayStripe, "evt_1")
	require.NoError(t, err)
	require.True(t, held)

	_, err = f.rec.Handle(ctx, paidEvent("evt_1", res))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	meta := pkgerrors.MetadataFor(pkgerrors.CodeOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, meta.HTTPStatus)
	assert.True(t, meta.Retryable)
	var rows int64
	require.NoError(t, f.conn.Model(&models.WebhookEvent{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestUnknownEventIsIgnoredOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt := Event{Gateway: enums.PaymentGatewayPayPal, EventID: "WH-9", Type: "BILLING.PLAN.CREATED", Kind: KindUnknown, Payload: []byte(`{}`)}

	first, err := f.rec.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, first.Status)
	assert.Equal(t, enums.WebhookEventStatusIgnored, f.ledgerRow(t, "WH-9").Status)

	second, err := f.rec.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, second.Status)
}

func TestInvalidEventIsRejectedWithoutWrites(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Handle(context.Background(), Event{Gateway: "square", EventID: "x", Kind: KindOrderPaid})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.rec.Handle(context.Background(), Event{Gateway: enums.PaymentGatewayStripe, Kind: KindOrderPaid})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var rows int64
	require.NoError(t, f.conn.Model(&models.WebhookEvent{}).Count(&rows).Error)
	assert.Zero(t, rows)
	assert.Equal(t, 2.0, f.webhookCount(t, metrics.OutcomeRejected))
}

func TestPaymentFailureOnlyFailsPendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.checkout(t, "sess-a", 1, 0)
	paid := f.checkout(t, "sess-b", 1, 0)
	_, err := f.rec.Handle(ctx, paidEvent("evt_paid", paid))
	require.NoError(t, err)

	failEvent := func(id string, res *orders.CheckoutResult) Event {
		return Event{Gateway: enums.PaymentGatewayStripe, EventID: id, Type: "checkout.session.expired", Kind: KindPaymentFailed, Target: Target{SessionID: res.SessionID}}
	}

	_, err = f.rec.Handle(ctx, failEvent("evt_f1", pending))
	require.NoError(t, err)
	order := f.order(t, pending.OrderID)
	assert.Equal(t, enums.OrderStatusFailed, order.Status)
	var payment models.Payment
	require.NoError(t, f.conn.Take(&payment, "order_id = ?", pending.OrderID).Error)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	assert.EqualValues(t, 1, f.countNotifications(t, enums.NotificationTypeOrderStatus))

	result, err := f.rec.Handle(ctx, failEvent("evt_f2", paid))
	require.NoError(t, err)
	assert.Equal(t, noteOrderAlreadyPaid, result.Note)
	assert.Equal(t, enums.OrderStatusProcessing, f.order(t, paid.OrderID).Status)
}

func TestRefundMarksPaymentAndAppendsNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 1, 0)
	_, err := f.rec.Handle(ctx, paidEvent("evt_1", res))
	require.NoError(t, err)

	_, err = f.rec.Handle(ctx, Event{
		Gateway: enums.PaymentGatewayStripe,
		EventID: "evt_refund",
		Type:    "charge.refunded",
		Kind:    KindRefunded,
		Target:  Target{PaymentIntentID: "pi_evt_1", AmountCents: 1000, Currency: "usd"},
	})
	require.NoError(t, err)

	order := f.order(t, res.OrderID)
	require.NotNil(t, order.Notes)
	assert.Contains(t, *order.Notes, "refund of 1000 usd reported by stripe")
	assert.NotNil(t, order.PaidAt)
	var payment models.Payment
	require.NoError(t, f.conn.Take(&payment, "order_id = ?", res.OrderID).Error)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
}

func TestBrowserReturnAndWebhookRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t, "sess-a", 2, 0)
	f.gateway.outcome = payments.Outcome{
		Gateway:     enums.PaymentGatewayStripe,
		Status:      enums.PaymentStatusCompleted,
		SessionID:   res.SessionID,
		Kind:        payments.KindOrder,
		ReferenceID: res.OrderID,
		AmountCents: res.TotalCents,
		Currency:    "usd",
	}

	confirmed, err := f.orders.ConfirmReturn(ctx, res.OrderID, res.SessionID)
	require.NoError(t, err)
	assert.True(t, confirmed.Paid)
	assert.Equal(t, enums.OrderStatusProcessing, confirmed.Status)

	result, err := f.rec.Handle(ctx, paidEvent("evt_late", res))
	require.NoError(t, err)
	assert.Equal(t, noteOrderAlreadyPaid, result.Note)
	variantStock, _ := f.stock(t)
	assert.Equal(t, 3, variantStock)
	assert.EqualValues(t, 1, f.countNotifications(t, enums.NotificationTypeOrderPaid))
}

func TestOpposingCartOrdersBothSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", f.mug.ID).Update("stock", 10).Error)

	teeFirst := f.checkout(t, "sess-a", 1, 1)
	mugFirst := func() *orders.CheckoutResult {
		owner := cart.GuestOwner("sess-b")
		_, err := f.cart.AddItem(ctx, owner, cart.AddItemInput{ProductID: f.mug.ID, Quantity: 1})
		require.NoError(t, err)
		_, err = f.cart.AddItem(ctx, owner, cart.AddItemInput{ProductID: f.tee.ID, VariantID: &f.teeRed.ID, Quantity: 1})
		require.NoError(t, err)
		res, err := f.orders.Checkout(ctx, orders.CheckoutInput{Owner: owner, Gateway: "stripe"})
		require.NoError(t, err)
		return res
	}()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, res := range []*orders.CheckoutResult{teeFirst, mugFirst} {
		wg.Add(1)
		go func(i int, res *orders.CheckoutResult) {
			defer wg.Done()
			_, errs[i] = f.rec.Handle(ctx, paidEvent(fmt.Sprintf("evt_%d", i), res))
		}(i, res)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	variantStock, mugStock := f.stock(t)
	assert.Equal(t, 3, variantStock)
	assert.Equal(t, 8, mugStock)
	assert.NotNil(t, f.order(t, teeFirst.OrderID).PaidAt)
	assert.NotNil(t, f.order(t, mugFirst.OrderID).PaidAt)
}
