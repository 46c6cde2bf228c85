package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Repository persists payment attempts. An order may have many attempts but
// at most one completed payment.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *Repository) SetGatewayPaymentID(ctx context.Context, paymentID uuid.UUID, gatewayPaymentID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(map[string]any{"gateway_payment_id": gatewayPaymentID, "updated_at": now}).Error
}

func (r *Repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) DeleteForOrder(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.Payment{}).Error
}

// Completion describes the gateway payment that settled an order.
type Completion struct {
	OrderID          uuid.UUID
	Gateway          enums.PaymentGateway
	GatewayPaymentID string
	AmountCents      int64
	Currency         string
}

// Complete marks the attempt matching c as completed. It prefers the attempt
// carrying the same gateway id, then the newest pending attempt for the
// gateway, and records a new row when neither exists. A second completion for
// the same order is a no-op and reports false.
func (r *Repository) Complete(ctx context.Context, c Completion, now time.Time) (bool, error) {
	forOrder := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Payment{}).Where("order_id = ?", c.OrderID)
	}

	var completed int64
	if err := forOrder().Where("status = ?", enums.PaymentStatusCompleted).Count(&completed).Error; err != nil {
		return false, err
	}
	if completed > 0 {
		return false, nil
	}

	pending := func() *gorm.DB {
		return forOrder().Where("status = ? AND gateway = ?", enums.PaymentStatusPending, c.Gateway)
	}
	var target models.Payment
	err := gorm.ErrRecordNotFound
	if c.GatewayPaymentID != "" {
		err = pending().Where("gateway_payment_id = ?", c.GatewayPaymentID).Take(&target).Error
	}
	if db.IsNotFound(err) {
		err = pending().Order("created_at DESC").Take(&target).Error
	}
	switch {
	case db.IsNotFound(err):
		gatewayID := c.GatewayPaymentID
		return true, r.Create(ctx, &models.Payment{
			OrderID:          c.OrderID,
			Gateway:          c.Gateway,
			GatewayPaymentID: &gatewayID,
			AmountCents:      c.AmountCents,
			Currency:         c.Currency,
			Status:           enums.PaymentStatusCompleted,
		})
	case err != nil:
		return false, err
	}

	updates := map[string]any{"status": enums.PaymentStatusCompleted, "updated_at": now}
	if c.GatewayPaymentID != "" {
		updates["gateway_payment_id"] = c.GatewayPaymentID
	}
	return true, r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", target.ID).Updates(updates).Error
}

// FailPending moves the order's pending attempts to failed.
func (r *Repository) FailPending(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	return r.transition(ctx, orderID, enums.PaymentStatusPending, enums.PaymentStatusFailed, now)
}

// Refund moves the order's completed payment to refunded.
func (r *Repository) Refund(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	return r.transition(ctx, orderID, enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, now)
}

func (r *Repository) transition(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	return res.RowsAffected, res.Error
}
