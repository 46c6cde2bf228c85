package webhooks

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/donations"
	"github.com/angelmondragon/storefront-backend/internal/notifications"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Ledger notes for deliveries that were acknowledged without effects.
const (
	noteOrderNotFound    = "order not found"
	noteOrderAlreadyPaid = "order already paid"
	noteOrderNotPaid     = "order not paid"
	noteDonationNotFound = "donation not found"
	noteDonationPaid     = "donation already paid"
)

// lockOrder finds the target order and re-reads it under a row lock.
func lockOrder(ctx context.Context, repo orders.Repository, target Target) (*models.Order, error) {
	if target.IsDonation() {
		return nil, nil
	}
	if target.OrderID != uuid.Nil {
		order, err := repo.FindByIDForUpdate(ctx, target.OrderID)
		if err != nil || order != nil {
			return order, err
		}
	}
	found, err := repo.FindByPaymentID(ctx, target.SessionID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		if found, err = repo.FindByPaymentIntentID(ctx, target.PaymentIntentID); err != nil || found == nil {
			return nil, err
		}
	}
	return repo.FindByIDForUpdate(ctx, found.ID)
}

// applyOrderPaid marks the order paid and takes its items out of stock in one
// transaction. Lines without enough stock are backordered instead of failing
// the payment.
func (r *Reconciler) applyOrderPaid(ctx context.Context, gateway enums.PaymentGateway, target Target) (string, error) {
	var note string
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.orders.WithTx(tx)
		order, err := lockOrder(ctx, repo, target)
		if err != nil {
			return err
		}
		if order == nil {
			note = noteOrderNotFound
			r.logg.Warn(ctx, "webhook.order_not_found")
			return nil
		}
		ctx := r.logg.WithField(ctx, "order_id", order.ID.String())
		if order.IsPaid() {
			note = noteOrderAlreadyPaid
			r.logg.Info(ctx, "webhook.order_already_paid")
			return nil
		}

		now := r.now()
		update := orders.PaidUpdate{
			PaidAt:          now,
			PaymentID:       target.SessionID,
			PaymentIntentID: target.PaymentIntentID,
			Currency:        target.Currency,
		}
		marked, err := repo.MarkPaid(ctx, order.ID, update)
		if err != nil {
			return err
		}
		if !marked {
			note = noteOrderAlreadyPaid
			return nil
		}
		applyPaid(order, update)
		if target.AmountCents > 0 && target.AmountCents != order.TotalCents {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"paid_cents":  target.AmountCents,
				"total_cents": order.TotalCents,
			}), "webhook.amount_mismatch")
		}

		shortfalls, err := r.takeStock(ctx, tx, order, now)
		if err != nil {
			return err
		}
		if len(shortfalls) > 0 {
			units := 0
			for _, s := range shortfalls {
				units += s.Missing()
			}
			r.metrics.AddShortfall(string(gateway), units)
		}

		if _, err := r.payments.WithTx(tx).Complete(ctx, payments.Completion{
			OrderID:          order.ID,
			Gateway:          gateway,
			GatewayPaymentID: deref(order.PaymentID),
			AmountCents:      firstPositive(target.AmountCents, order.TotalCents),
			Currency:         order.Currency,
		}, now); err != nil {
			return err
		}

		if owner := cart.OwnerOf(order.UserID, order.SessionID); owner.Validate() == nil {
			if err := r.cart.ClearForOwnerTx(ctx, tx, owner); err != nil {
				return err
			}
		}
		return r.notifier.CreateOrderNotification(ctx, tx, order, shortfalls)
	})
	return note, err
}

func applyPaid(order *models.Order, update orders.PaidUpdate) {
	paidAt := update.PaidAt
	order.PaidAt = &paidAt
	order.Status = enums.OrderStatusProcessing
	if update.PaymentID != "" {
		order.PaymentID = &update.PaymentID
	}
	if update.PaymentIntentID != "" {
		order.PaymentIntentID = &update.PaymentIntentID
	}
	if update.Currency != "" {
		order.Currency = update.Currency
	}
}

// takeStock decrements each line under a row lock and returns the lines that
// were skipped for lack of stock.
func (r *Reconciler) takeStock(ctx context.Context, tx *gorm.DB, order *models.Order, now time.Time) ([]notifications.Shortfall, error) {
	stock := r.catalog.WithTx(tx)
	repo := r.orders.WithTx(tx)
	var shortfalls []notifications.Shortfall
	for _, item := range lockOrdered(order.Items) {
		var (
			res catalog.StockResult
			err error
		)
		if item.VariantID != nil {
			res, err = stock.DecrementVariantStock(ctx, *item.VariantID, item.Quantity, now)
		} else {
			res, err = stock.DecrementProductStock(ctx, item.ProductID, item.Quantity, now)
		}
		switch {
		case db.IsNotFound(err):
			res = catalog.StockResult{}
		case err != nil:
			return nil, err
		}
		if res.Applied {
			continue
		}

		if err := repo.SetBackordered(ctx, item.ID, item.Quantity); err != nil {
			return nil, err
		}
		line := notifications.Shortfall{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			SKU:         deref(item.SKU),
			Requested:   item.Quantity,
			Available:   res.Available,
		}
		shortfalls = append(shortfalls, line)
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"order_item_id": item.ID.String(),
			"product_id":    item.ProductID.String(),
			"requested":     item.Quantity,
			"available":     res.Available,
		}), "webhook.stock_shortfall")
	}
	return shortfalls, nil
}

// lockOrdered returns the items in the order their stock rows are locked:
// product rows before variant rows, each by id. Concurrent payments for
// overlapping carts then queue on the same first row instead of deadlocking.
func lockOrdered(items []models.OrderItem) []models.OrderItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b models.OrderItem) int {
		ka, kb := stockKey(a), stockKey(b)
		if c := cmp.Compare(ka.variant, kb.variant); c != 0 {
			return c
		}
		return strings.Compare(ka.id, kb.id)
	})
	return sorted
}

type stockRow struct {
	variant int
	id      string
}

func stockKey(item models.OrderItem) stockRow {
	if item.VariantID != nil {
		return stockRow{variant: 1, id: item.VariantID.String()}
	}
	return stockRow{id: item.ProductID.String()}
}

// applyOrderFailed fails a pending order. Paid orders are left alone: a
// failed retry after a successful attempt changes nothing.
func (r *Reconciler) applyOrderFailed(ctx context.Context, target Target) (string, error) {
	var note string
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.orders.WithTx(tx)
		order, err := lockOrder(ctx, repo, target)
		if err != nil {
			return err
		}
		if order == nil {
			note = noteOrderNotFound
			return nil
		}
		if order.IsPaid() {
			note = noteOrderAlreadyPaid
			return nil
		}
		now := r.now()
		failed, err := repo.FailPending(ctx, order.ID, now)
		if err != nil {
			return err
		}
		if _, err := r.payments.WithTx(tx).FailPending(ctx, order.ID, now); err != nil {
			return err
		}
		if !failed {
			note = fmt.Sprintf("order is %s", order.Status)
			return nil
		}
		from := order.Status
		order.Status = enums.OrderStatusFailed
		return r.notifier.CreateOrderStatusNotification(ctx, tx, order, from)
	})
	return note, err
}

func (r *Reconciler) applyOrderRefunded(ctx context.Context, gateway enums.PaymentGateway, target Target) (string, error) {
	var note string
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.orders.WithTx(tx)
		order, err := lockOrder(ctx, repo, target)
		if err != nil {
			return err
		}
		if order == nil {
			note = noteOrderNotFound
			return nil
		}
		if !order.IsPaid() {
			note = noteOrderNotPaid
			return nil
		}
		now := r.now()
		if _, err := r.payments.WithTx(tx).Refund(ctx, order.ID, now); err != nil {
			return err
		}
		amount := firstPositive(target.AmountCents, order.TotalCents)
		line := fmt.Sprintf("[%s] refund of %d %s reported by %s", now.Format(time.RFC3339), amount, order.Currency, gateway)
		return repo.AppendNote(ctx, order.ID, line, now)
	})
	return note, err
}

func lockDonation(ctx context.Context, repo donations.Repository, target Target) (*models.Donation, error) {
	if target.DonationID != uuid.Nil {
		return repo.FindByIDForUpdate(ctx, target.DonationID)
	}
	found, err := repo.FindByPaymentID(ctx, target.SessionID)
	if err != nil || found == nil {
		return nil, err
	}
	return repo.FindByIDForUpdate(ctx, found.ID)
}

// applyDonationPaid settles a donation. It never reads or writes orders.
func (r *Reconciler) applyDonationPaid(ctx context.Context, target Target) (string, error) {
	var note string
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.donations.WithTx(tx)
		donation, err := lockDonation(ctx, repo, target)
		if err != nil {
			return err
		}
		if donation == nil {
			note = noteDonationNotFound
			r.logg.Warn(ctx, "webhook.donation_not_found")
			return nil
		}
		if donation.PaidAt != nil {
			note = noteDonationPaid
			return nil
		}
		now := r.now()
		update := donations.PaidUpdate{PaidAt: now, PaymentID: target.SessionID, PaymentIntentID: target.PaymentIntentID}
		marked, err := repo.MarkPaid(ctx, donation.ID, update)
		if err != nil {
			return err
		}
		if !marked {
			note = noteDonationPaid
			return nil
		}
		donation.PaidAt = &now
		donation.Status = enums.DonationStatusPaid
		return r.notifier.CreateDonationNotification(ctx, tx, donation)
	})
	return note, err
}

func (r *Reconciler) applyDonationFailed(ctx context.Context, target Target) (string, error) {
	var note string
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.donations.WithTx(tx)
		donation, err := lockDonation(ctx, repo, target)
		if err != nil {
			return err
		}
		if donation == nil {
			note = noteDonationNotFound
			return nil
		}
		if donation.PaidAt != nil {
			note = noteDonationPaid
			return nil
		}
		_, err = repo.FailPending(ctx, donation.ID, r.now())
		return err
	})
	return note, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
