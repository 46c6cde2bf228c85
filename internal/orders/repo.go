package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func withItems(q *gorm.DB) *gorm.DB {
	return q.Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC") })
}

// Create inserts the order and its item snapshots.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// Delete removes an order with its items. Only used to roll back a checkout
// whose gateway session could not be opened.
func (r *repository) Delete(ctx context.Context, orderID uuid.UUID) error {
	conn := r.db.WithContext(ctx)
	if err := conn.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	return conn.Where("id = ? AND paid_at IS NULL", orderID).Delete(&models.Order{}).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(withItems(r.db.WithContext(ctx)).Where("id = ?", orderID))
}

// FindByIDForUpdate reads the order under a row lock so the paid_at guard is
// evaluated against committed state.
func (r *repository) FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	q := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderID)
	order, err := r.find(q)
	if err != nil || order == nil {
		return order, err
	}
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	if paymentID == "" {
		return nil, nil
	}
	return r.find(r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at DESC"))
}

func (r *repository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	if paymentIntentID == "" {
		return nil, nil
	}
	return r.find(r.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).Order("created_at DESC"))
}

func (r *repository) find(q *gorm.DB) (*models.Order, error) {
	var order models.Order
	if err := q.Take(&order).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, q listOrdersQuery) ([]models.Order, error) {
	query := withItems(r.db.WithContext(ctx).Model(&models.Order{}))
	if q.UserID != nil {
		query = query.Where("user_id = ?", *q.UserID)
	}
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	var rows []models.Order
	if err := pagination.Apply(query, q.Cursor, q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND paid_at IS NULL AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) SetPaymentID(ctx context.Context, orderID uuid.UUID, paymentID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"payment_id": paymentID, "updated_at": now}).Error
}

// MarkPaid sets paid_at and moves the order to processing. It only touches
// orders that are not paid yet and reports whether it did.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, paid PaidUpdate) (bool, error) {
	updates := map[string]any{
		"paid_at":    paid.PaidAt,
		"status":     enums.OrderStatusProcessing,
		"updated_at": paid.PaidAt,
	}
	if paid.PaymentID != "" {
		updates["payment_id"] = paid.PaymentID
	}
	if paid.PaymentIntentID != "" {
		updates["payment_intent_id"] = paid.PaymentIntentID
	}
	if paid.Currency != "" {
		updates["currency"] = paid.Currency
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND paid_at IS NULL", orderID).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	return res.RowsAffected > 0, res.Error
}

// FailPending fails an order that is still pending and unpaid.
func (r *repository) FailPending(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND paid_at IS NULL", orderID, enums.OrderStatusPending).
		Updates(map[string]any{"status": enums.OrderStatusFailed, "updated_at": now})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SetBackordered(ctx context.Context, itemID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		Update("backordered_qty", qty).Error
}

// AppendNote adds a line to the order notes.
func (r *repository) AppendNote(ctx context.Context, orderID uuid.UUID, note string, now time.Time) error {
	var order models.Order
	if err := r.db.WithContext(ctx).Select("id", "notes").Where("id = ?", orderID).Take(&order).Error; err != nil {
		return err
	}
	next := note
	if order.Notes != nil && *order.Notes != "" {
		next = *order.Notes + "\n" + note
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"notes": next, "updated_at": now}).Error
}
