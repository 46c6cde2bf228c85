package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository exposes persistence operations for carts and their items.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func ownerScope(owner Owner) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if owner.UserID != nil {
			return q.Where("user_id = ?", *owner.UserID)
		}
		return q.Where("session_id = ?", owner.SessionID)
	}
}

// FindByOwner returns the owner's cart with items, products and variants
// preloaded, or nil when the owner has no cart yet.
func (r *Repository) FindByOwner(ctx context.Context, owner Owner) (*models.Cart, error) {
	var c models.Cart
	err := r.db.WithContext(ctx).
		Scopes(ownerScope(owner)).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC").Order("id ASC") }).
		Preload("Items.Product").
		Preload("Items.Variant").
		Preload("Items.Variant.Color").
		Preload("Items.Variant.Size").
		Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) Create(ctx context.Context, c *models.Cart) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) Touch(ctx context.Context, cartID uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		UpdateColumn("updated_at", now).Error
}

// Delete removes the cart and its items.
func (r *Repository) Delete(ctx context.Context, cartID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", cartID).Delete(&models.Cart{}).Error
}

func (r *Repository) FindLine(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) (*models.CartItem, error) {
	q := r.db.WithContext(ctx).Where("cart_id = ? AND product_id = ?", cartID, productID)
	if variantID == nil {
		q = q.Where("variant_id IS NULL")
	} else {
		q = q.Where("variant_id = ?", *variantID)
	}

	var item models.CartItem
	err := q.Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *Repository) SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Update("quantity", quantity)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) MoveItem(ctx context.Context, itemID, toCartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("cart_id", toCartID).Error
}

func (r *Repository) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Delete(&models.CartItem{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteGuestCartsIdleSince purges guest carts whose last change is older than cutoff.
func (r *Repository) DeleteGuestCartsIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	db := r.db.WithContext(ctx)
	idle := db.Model(&models.Cart{}).Select("id").Where("session_id IS NOT NULL AND updated_at < ?", cutoff)

	if err := db.Where("cart_id IN (?)", idle).Delete(&models.CartItem{}).Error; err != nil {
		return 0, err
	}
	res := db.Where("session_id IS NOT NULL AND updated_at < ?", cutoff).Delete(&models.Cart{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// AdoptGuestOrders attaches the session's unpaid orders to userID so the paid
// webhook clears the customer cart the guest lines were merged into.
func (r *Repository) AdoptGuestOrders(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("session_id = ? AND user_id IS NULL AND paid_at IS NULL", sessionID).
		Update("user_id", userID)
	return res.RowsAffected, res.Error
}
