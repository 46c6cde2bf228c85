package webhooks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// ResultStatus tells the transport how a delivery was handled. Every status
// is acknowledged with 200.
type ResultStatus string

const (
	ResultApplied   ResultStatus = "applied"
	ResultDuplicate ResultStatus = "duplicate"
	ResultIgnored   ResultStatus = "ignored"
)

type Result struct {
	Status ResultStatus `json:"status"`
	Note   string       `json:"note,omitempty"`
}

type cartClearer interface {
	ClearForOwnerTx(ctx context.Context, tx *gorm.DB, owner cart.Owner) error
}

type notifier interface {
	CreateOrderNotification(ctx context.Context, tx *gorm.DB, order *models.Order, shortfalls []notifications.Shortfall) error
	CreateDonationNotification(ctx context.Context, tx *gorm.DB, donation *models.Donation) error
	CreateOrderStatusNotification(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ReconcilerParams struct {
	Ledger    *Ledger
	Guard     *InFlightGuard
	Tx        txRunner
	Orders    orders.Repository
	Donations donations.Repository
	Catalog   *catalog.Repository
	Payments  *payments.Repository
	Cart      cartClearer
	Notifier  notifier
	Metrics   *metrics.WebhookMetrics
	Logger    *logger.Logger
}

// Reconciler applies verified gateway events exactly once per event id and at
// most once per order or donation.
type Reconciler struct {
	ledger    *Ledger
	guard     *InFlightGuard
	tx        txRunner
	orders    orders.Repository
	donations donations.Repository
	catalog   *catalog.Repository
	payments  *payments.Repository
	cart      cartClearer
	notifier  notifier
	metrics   *metrics.WebhookMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "webhook ledger required")
	case params.Guard == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "in-flight guard required")
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Orders == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	case params.Donations == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "donations repository required")
	case params.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog repository required")
	case params.Payments == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	case params.Cart == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart service required")
	case params.Notifier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	}
	return &Reconciler{
		ledger:    params.Ledger,
		guard:     params.Guard,
		tx:        params.Tx,
		orders:    params.Orders,
		donations: params.Donations,
		catalog:   params.Catalog,
		payments:  params.Payments,
		cart:      params.Cart,
		notifier:  params.Notifier,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle runs one verified delivery through the ledger. An error means the
// gateway must retry: nothing from this attempt was committed.
func (r *Reconciler) Handle(ctx context.Context, evt Event) (Result, error) {
	gateway, kind := string(evt.Gateway), string(evt.Kind)
	if err := evt.Validate(); err != nil {
		r.metrics.Observe(gateway, kind, metrics.OutcomeRejected)
		return Result{}, err
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"gateway":    gateway,
		"event_id":   evt.EventID,
		"event_type": evt.Type,
		"event_kind": kind,
	})

	acquired, err := r.guard.Acquire(ctx, evt.Gateway, evt.EventID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire webhook guard")
	}
	if !acquired {
		r.metrics.Observe(gateway, kind, metrics.OutcomeDuplicate)
		r.logg.Info(ctx, "webhook.in_flight")
		// 503 so the gateway redelivers once the holder finishes or its lease lapses.
		return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "webhook event is already being processed")
	}
	defer func() {
		if err := r.guard.Release(context.WithoutCancel(ctx), evt.Gateway, evt.EventID); err != nil {
			r.logg.Error(ctx, "webhook.guard_release_failed", err)
		}
	}()

	row, err := r.ledger.Find(ctx, evt.Gateway, evt.EventID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read webhook ledger")
	}
	if row == nil {
		if row, err = r.ledger.Record(ctx, evt); err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
	}
	if row.Status.IsTerminal() {
		r.metrics.Observe(gateway, kind, metrics.OutcomeDuplicate)
		r.logg.Info(ctx, "webhook.duplicate")
		return Result{Status: ResultDuplicate}, nil
	}

	if evt.Kind == KindUnknown {
		if err := r.ledger.MarkIgnored(ctx, row.ID, r.now()); err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook ignored")
		}
		r.metrics.Observe(gateway, kind, metrics.OutcomeIgnored)
		r.logg.Debug(ctx, "webhook.ignored")
		return Result{Status: ResultIgnored}, nil
	}

	if err := r.ledger.MarkApplying(ctx, row.ID, r.now()); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook applying")
	}
	started := time.Now()
	note, err := r.apply(ctx, evt.Gateway, evt.Kind, evt.Target)
	r.metrics.ObserveApply(gateway, kind, time.Since(started))
	if err != nil {
		if markErr := r.ledger.MarkFailed(ctx, row.ID, err, r.now()); markErr != nil {
			r.logg.Error(ctx, "webhook.mark_failed_failed", markErr)
		}
		r.metrics.Observe(gateway, kind, metrics.OutcomeFailure)
		r.logg.Error(ctx, "webhook.apply_failed", err)
		return Result{}, applyError(err)
	}

	if err := r.ledger.MarkApplied(ctx, row.ID, note, r.now()); err != nil {
		r.metrics.Observe(gateway, kind, metrics.OutcomeFailure)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook applied")
	}
	r.metrics.Observe(gateway, kind, metrics.OutcomeSuccess)
	if note != "" {
		ctx = r.logg.WithField(ctx, "note", note)
	}
	r.logg.Info(ctx, "webhook.applied")
	return Result{Status: ResultApplied, Note: note}, nil
}

// ApplyOutcome settles a payment verified on the browser return through the
// same effects a webhook would apply. It bypasses the ledger; the paid_at
// guards keep the race with the webhook benign.
func (r *Reconciler) ApplyOutcome(ctx context.Context, outcome payments.Outcome) error {
	kind := KindFromOutcome(outcome)
	if kind == KindUnknown {
		return nil
	}
	ctx = r.logg.WithFields(ctx, map[string]any{"gateway": string(outcome.Gateway), "event_kind": string(kind), "source": "return"})
	note, err := r.apply(ctx, outcome.Gateway, kind, TargetFromOutcome(outcome))
	if err != nil {
		r.logg.Error(ctx, "payment_return.apply_failed", err)
		return applyError(err)
	}
	if note != "" {
		r.logg.Info(r.logg.WithField(ctx, "note", note), "payment_return.noop")
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, gateway enums.PaymentGateway, kind Kind, target Target) (string, error) {
	switch kind {
	case KindOrderPaid:
		return r.applyOrderPaid(ctx, gateway, target)
	case KindDonationPaid:
		return r.applyDonationPaid(ctx, target)
	case KindPaymentFailed:
		if target.IsDonation() {
			return r.applyDonationFailed(ctx, target)
		}
		return r.applyOrderFailed(ctx, target)
	case KindRefunded:
		if target.IsDonation() {
			return "donation refunds are not tracked", nil
		}
		return r.applyOrderRefunded(ctx, gateway, target)
	default:
		return "", nil
	}
}

// applyError keeps failures in the 5xx range so the gateway retries.
func applyError(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeInternal, pkgerrors.CodeDependency:
			return err
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment event")
}
