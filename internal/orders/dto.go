package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderDTO is the API view of an order.
type OrderDTO struct {
	ID              uuid.UUID            `json:"id"`
	UserID          *uuid.UUID           `json:"user_id,omitempty"`
	Status          enums.OrderStatus    `json:"status"`
	PaymentMethod   enums.PaymentGateway `json:"payment_method"`
	PaymentID       *string              `json:"payment_id,omitempty"`
	PaymentIntentID *string              `json:"payment_intent_id,omitempty"`
	SubtotalCents   int64                `json:"subtotal_cents"`
	ShippingCents   int64                `json:"shipping_cents"`
	TotalCents      int64                `json:"total_cents"`
	Currency        string               `json:"currency"`
	Paid            bool                 `json:"paid"`
	PaidAt          *time.Time           `json:"paid_at,omitempty"`
	Notes           *string              `json:"notes,omitempty"`
	Items           []OrderItemDTO       `json:"items"`
	CreatedAt       time.Time            `json:"created_at"`
}

type OrderItemDTO struct {
	ID             uuid.UUID  `json:"id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	ProductName    string     `json:"product_name"`
	SKU            *string    `json:"sku,omitempty"`
	ColorName      *string    `json:"color_name,omitempty"`
	ColorHex       *string    `json:"color_hex,omitempty"`
	SizeName       *string    `json:"size_name,omitempty"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	LineTotalCents int64      `json:"line_total_cents"`
	BackorderedQty int        `json:"backordered_qty"`
}

func NewOrderDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:              order.ID,
		UserID:          order.UserID,
		Status:          order.Status,
		PaymentMethod:   order.PaymentMethod,
		PaymentID:       order.PaymentID,
		PaymentIntentID: order.PaymentIntentID,
		SubtotalCents:   order.SubtotalCents,
		ShippingCents:   order.ShippingCents,
		TotalCents:      order.TotalCents,
		Currency:        order.Currency,
		Paid:            order.IsPaid(),
		PaidAt:          order.PaidAt,
		Notes:           order.Notes,
		Items:           make([]OrderItemDTO, 0, len(order.Items)),
		CreatedAt:       order.CreatedAt,
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:             item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			ProductName:    item.ProductName,
			SKU:            item.SKU,
			ColorName:      item.ColorName,
			ColorHex:       item.ColorHex,
			SizeName:       item.SizeName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
			BackorderedQty: item.BackorderedQty,
		})
	}
	return dto
}

// CheckoutResult tells the client where to send the buyer.
type CheckoutResult struct {
	OrderID     uuid.UUID            `json:"order_id"`
	Gateway     enums.PaymentGateway `json:"gateway"`
	SessionID   string               `json:"session_id"`
	RedirectURL string               `json:"redirect_url"`
	TotalCents  int64                `json:"total_cents"`
	Currency    string               `json:"currency"`
}
