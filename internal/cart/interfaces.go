package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/settings"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByOwner(ctx context.Context, owner Owner) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	Touch(ctx context.Context, cartID uuid.UUID, now time.Time) error
	Delete(ctx context.Context, cartID uuid.UUID) error
	FindLine(ctx context.Context, cartID, productID uuid.UUID, variantID *uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (bool, error)
	MoveItem(ctx context.Context, itemID, toCartID uuid.UUID) error
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error)
	DeleteGuestCartsIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
	AdoptGuestOrders(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error)
}

type lineResolver interface {
	ResolveLine(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.Product, *models.ProductVariant, error)
}

type shippingPolicySource interface {
	ShippingPolicy(ctx context.Context) (settings.ShippingPolicy, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
