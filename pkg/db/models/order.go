package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Order is the immutable snapshot of a checkout. PaidAt is the only signal
// that payment was confirmed.
type Order struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID          *uuid.UUID           `gorm:"column:user_id;type:uuid;index"`
	SessionID       *string              `gorm:"column:session_id"`
	CustomerEmail   *string              `gorm:"column:customer_email"`
	SubtotalCents   int64                `gorm:"column:subtotal_cents;not null"`
	ShippingCents   int64                `gorm:"column:shipping_cents;not null"`
	TotalCents      int64                `gorm:"column:total_cents;not null"`
	Currency        string               `gorm:"column:currency;not null"`
	Status          enums.OrderStatus    `gorm:"column:status;not null;default:'pending';index"`
	PaymentMethod   enums.PaymentGateway `gorm:"column:payment_method;not null"`
	PaymentID       *string              `gorm:"column:payment_id;index"`
	PaymentIntentID *string              `gorm:"column:payment_intent_id"`
	PaidAt          *time.Time           `gorm:"column:paid_at"`
	IsDonation      bool                 `gorm:"column:is_donation;not null;default:false"`
	Notes           *string              `gorm:"column:notes"`
	Items           []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// IsPaid reports whether reconciliation already confirmed the order.
func (o *Order) IsPaid() bool {
	return o != nil && o.PaidAt != nil
}

// OrderItem snapshots what was bought. Variant display fields are copied as
// plain strings so later catalog edits do not change history.
type OrderItem struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID      *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	ProductName    string     `gorm:"column:product_name;not null"`
	SKU            *string    `gorm:"column:sku"`
	ColorName      *string    `gorm:"column:color_name"`
	ColorHex       *string    `gorm:"column:color_hex"`
	SizeName       *string    `gorm:"column:size_name"`
	Quantity       int        `gorm:"column:quantity;not null"`
	UnitPriceCents int64      `gorm:"column:unit_price_cents;not null"`
	LineTotalCents int64      `gorm:"column:line_total_cents;not null"`
	BackorderedQty int        `gorm:"column:backordered_qty;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// Payment records one gateway attempt for an order.
type Payment struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	Gateway          enums.PaymentGateway `gorm:"column:gateway;not null"`
	GatewayPaymentID *string              `gorm:"column:gateway_payment_id;index"`
	AmountCents      int64                `gorm:"column:amount_cents;not null"`
	Currency         string               `gorm:"column:currency;not null"`
	Status           enums.PaymentStatus  `gorm:"column:status;not null;default:'pending'"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
