package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their item snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, orderID uuid.UUID) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	List(ctx context.Context, q listOrdersQuery) ([]models.Order, error)
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	SetPaymentID(ctx context.Context, orderID uuid.UUID, paymentID string, now time.Time) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, paid PaidUpdate) (bool, error)
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, now time.Time) (bool, error)
	FailPending(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
	SetBackordered(ctx context.Context, itemID uuid.UUID, qty int) error
	AppendNote(ctx context.Context, orderID uuid.UUID, note string, now time.Time) error
}

// PaidUpdate carries the fields reconciliation writes when an order is paid.
type PaidUpdate struct {
	PaidAt          time.Time
	PaymentID       string
	PaymentIntentID string
	Currency        string
}

type cartReader interface {
	Summary(ctx context.Context, owner cart.Owner) (*cart.Summary, error)
}

type gatewayRegistry interface {
	Get(name enums.PaymentGateway) (payments.Gateway, error)
}

// PaymentApplier applies a verified gateway outcome through the same path
// webhooks use.
type PaymentApplier interface {
	ApplyOutcome(ctx context.Context, outcome payments.Outcome) error
}

type statusNotifier interface {
	CreateOrderStatusNotification(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type listOrdersQuery struct {
	Limit  int
	Cursor *pagination.Cursor
	UserID *uuid.UUID
	Status *enums.OrderStatus
}
