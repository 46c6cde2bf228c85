package cron

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeOrders struct {
	cutoff time.Time
	n      int
	err    error
}

func (f *fakeOrders) ExpirePending(_ context.Context, olderThan time.Time) (int, error) {
	f.cutoff = olderThan
	return f.n, f.err
}

type fakeCarts struct{ cutoff time.Time }

func (f *fakeCarts) PurgeGuestCarts(_ context.Context, idleSince time.Time) (int64, error) {
	f.cutoff = idleSince
	return 3, nil
}

type fakeNotifications struct{ cutoff time.Time }

func (f *fakeNotifications) PurgeRead(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoff = olderThan
	return 1, nil
}

type fakeLedger struct {
	cutoff time.Time
	counts []webhooks.StuckCount
}

func (f *fakeLedger) CountStuck(_ context.Context, cutoff time.Time) ([]webhooks.StuckCount, error) {
	f.cutoff = cutoff
	return f.counts, nil
}

func TestPendingOrderExpiryJob(t *testing.T) {
	orders := &fakeOrders{n: 2}
	job, err := NewPendingOrderExpiryJob(PendingOrderExpiryParams{
		Logger: logger.Nop(),
		Orders: orders,
		TTL:    48 * time.Hour,
		Now:    clock,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Name() != JobPendingOrderExpiry {
		t.Fatalf("unexpected name %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := fixedNow.Add(-48 * time.Hour); !orders.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", orders.cutoff, want)
	}

	orders.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestSweepJobsUseTheirWindows(t *testing.T) {
	carts := &fakeCarts{}
	cartJob, err := NewGuestCartPurgeJob(GuestCartPurgeParams{Logger: logger.Nop(), Carts: carts, TTL: 720 * time.Hour, Now: clock})
	if err != nil {
		t.Fatalf("cart job: %v", err)
	}
	notes := &fakeNotifications{}
	noteJob, err := NewNotificationCleanupJob(NotificationCleanupParams{Logger: logger.Nop(), Notifications: notes, Retention: 24 * time.Hour, Now: clock})
	if err != nil {
		t.Fatalf("notification job: %v", err)
	}
	ctx := context.Background()
	if err := cartJob.Run(ctx); err != nil {
		t.Fatalf("cart run: %v", err)
	}
	if err := noteJob.Run(ctx); err != nil {
		t.Fatalf("notification run: %v", err)
	}
	if !carts.cutoff.Equal(fixedNow.Add(-720 * time.Hour)) {
		t.Fatalf("cart cutoff %v", carts.cutoff)
	}
	if !notes.cutoff.Equal(fixedNow.Add(-24 * time.Hour)) {
		t.Fatalf("notification cutoff %v", notes.cutoff)
	}
}

func TestSweepJobValidation(t *testing.T) {
	if _, err := NewGuestCartPurgeJob(GuestCartPurgeParams{Logger: logger.Nop(), Carts: &fakeCarts{}}); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := NewNotificationCleanupJob(NotificationCleanupParams{Retention: time.Hour, Notifications: &fakeNotifications{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewPendingOrderExpiryJob(PendingOrderExpiryParams{Logger: logger.Nop(), TTL: time.Hour}); err == nil {
		t.Fatalf("expected error without orders")
	}
}

func TestWebhookLedgerReportWarnsOnStuckRows(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &buf})
	ledger := &fakeLedger{counts: []webhooks.StuckCount{
		{Status: enums.WebhookEventStatusFailed, Count: 2},
		{Status: enums.WebhookEventStatusApplying, Count: 1},
	}}
	job, err := NewWebhookLedgerReportJob(WebhookLedgerReportParams{Logger: logg, Ledger: ledger, Now: clock})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ledger.cutoff.Equal(fixedNow.Add(-time.Hour)) {
		t.Fatalf("cutoff %v", ledger.cutoff)
	}
	out := buf.String()
	if !strings.Contains(out, "webhook.ledger.stuck") || !strings.Contains(out, `"total":3`) {
		t.Fatalf("expected stuck warning, got %s", out)
	}

	buf.Reset()
	ledger.counts = nil
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run clean: %v", err)
	}
	if strings.Contains(buf.String(), "webhook.ledger.stuck") {
		t.Fatalf("clean ledger should not warn")
	}
}
