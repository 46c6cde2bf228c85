package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	JobPendingOrderExpiry  = "pending_order_expiry"
	JobGuestCartPurge      = "guest_cart_purge"
	JobNotificationCleanup = "notification_cleanup"
	JobWebhookLedgerReport = "webhook_ledger_report"
)

type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, olderThan time.Time) (int, error)
}

type guestCartPurger interface {
	PurgeGuestCarts(ctx context.Context, idleSince time.Time) (int64, error)
}

type readNotificationPurger interface {
	PurgeRead(ctx context.Context, olderThan time.Time) (int64, error)
}

type stuckEventCounter interface {
	CountStuck(ctx context.Context, cutoff time.Time) ([]webhooks.StuckCount, error)
}

// sweepJob runs a cutoff-based delete or update and logs how many rows moved.
type sweepJob struct {
	name  string
	logg  *logger.Logger
	age   time.Duration
	now   func() time.Time
	sweep func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	n, err := j.sweep(ctx, cutoff)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"affected": n,
	}), j.name+" swept")
	return nil
}

func newSweepJob(name string, logg *logger.Logger, age time.Duration, now func() time.Time, sweep func(context.Context, time.Time) (int64, error)) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("%s: logger required", name)
	}
	if age <= 0 {
		return nil, fmt.Errorf("%s: age must be positive", name)
	}
	if now == nil {
		now = time.Now
	}
	return &sweepJob{name: name, logg: logg, age: age, now: now, sweep: sweep}, nil
}

type PendingOrderExpiryParams struct {
	Logger *logger.Logger
	Orders pendingOrderExpirer
	TTL    time.Duration
	Now    func() time.Time
}

// NewPendingOrderExpiryJob fails orders that were never paid within TTL and
// returns their reserved stock.
func NewPendingOrderExpiryJob(params PendingOrderExpiryParams) (Job, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	return newSweepJob(JobPendingOrderExpiry, params.Logger, params.TTL, params.Now,
		func(ctx context.Context, cutoff time.Time) (int64, error) {
			n, err := params.Orders.ExpirePending(ctx, cutoff)
			return int64(n), err
		})
}

type GuestCartPurgeParams struct {
	Logger *logger.Logger
	Carts  guestCartPurger
	TTL    time.Duration
	Now    func() time.Time
}

func NewGuestCartPurgeJob(params GuestCartPurgeParams) (Job, error) {
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	return newSweepJob(JobGuestCartPurge, params.Logger, params.TTL, params.Now, params.Carts.PurgeGuestCarts)
}

type NotificationCleanupParams struct {
	Logger        *logger.Logger
	Notifications readNotificationPurger
	Retention     time.Duration
	Now           func() time.Time
}

// NewNotificationCleanupJob deletes admin notifications read before the
// retention window. Unread ones are kept regardless of age.
func NewNotificationCleanupJob(params NotificationCleanupParams) (Job, error) {
	if params.Notifications == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	return newSweepJob(JobNotificationCleanup, params.Logger, params.Retention, params.Now, params.Notifications.PurgeRead)
}

type WebhookLedgerReportParams struct {
	Logger *logger.Logger
	Ledger stuckEventCounter
	// StaleAfter is how long a delivery may sit outside a terminal state.
	StaleAfter time.Duration
	Now        func() time.Time
}

type webhookLedgerReportJob struct {
	logg       *logger.Logger
	ledger     stuckEventCounter
	staleAfter time.Duration
	now        func() time.Time
}

// NewWebhookLedgerReportJob warns about deliveries that failed or never
// finished applying so an operator can replay them from the gateway.
func NewWebhookLedgerReportJob(params WebhookLedgerReportParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("webhook ledger required")
	}
	stale := params.StaleAfter
	if stale <= 0 {
		stale = time.Hour
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &webhookLedgerReportJob{logg: params.Logger, ledger: params.Ledger, staleAfter: stale, now: now}, nil
}

func (j *webhookLedgerReportJob) Name() string { return JobWebhookLedgerReport }

func (j *webhookLedgerReportJob) Run(ctx context.Context) error {
	counts, err := j.ledger.CountStuck(ctx, j.now().UTC().Add(-j.staleAfter))
	if err != nil {
		return fmt.Errorf("count stuck webhook events: %w", err)
	}
	var total int64
	fields := map[string]any{}
	for _, c := range counts {
		total += c.Count
		fields[string(c.Status)] = c.Count
	}
	if total == 0 {
		j.logg.Debug(ctx, "webhook ledger clean")
		return nil
	}
	fields["total"] = total
	j.logg.Warn(j.logg.WithFields(ctx, fields), "webhook.ledger.stuck")
	return nil
}
