package cart

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Line is a priced cart line. Prices are read from the catalog at summary
// time, so they always reflect current base price and variant adjustment.
type Line struct {
	ItemID         uuid.UUID  `json:"item_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	ProductName    string     `json:"product_name"`
	SKU            string     `json:"sku,omitempty"`
	ColorName      string     `json:"color_name,omitempty"`
	ColorHex       string     `json:"color_hex,omitempty"`
	SizeName       string     `json:"size_name,omitempty"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	LineTotalCents int64      `json:"line_total_cents"`
	Available      bool       `json:"available"`
}

type Summary struct {
	CartID        *uuid.UUID `json:"cart_id,omitempty"`
	Lines         []Line     `json:"lines"`
	ItemCount     int        `json:"item_count"`
	SubtotalCents int64      `json:"subtotal_cents"`
	ShippingCents int64      `json:"shipping_cents"`
	TotalCents    int64      `json:"total_cents"`
	Currency      string     `json:"currency"`
}

func (s *Summary) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// Unavailable lists lines that can no longer be bought (inactive products).
func (s *Summary) Unavailable() []Line {
	var out []Line
	for _, l := range s.Lines {
		if !l.Available {
			out = append(out, l)
		}
	}
	return out
}

// Summarize prices a cart. A nil cart yields an empty summary.
func Summarize(c *models.Cart, policy settings.ShippingPolicy) *Summary {
	summary := &Summary{Lines: []Line{}, Currency: policy.Currency}
	if c == nil {
		return summary
	}
	id := c.ID
	summary.CartID = &id

	for _, item := range c.Items {
		if item.Product == nil {
			continue
		}
		unit := catalog.EffectivePrice(item.Product, item.Variant)
		line := Line{
			ItemID:         item.ID,
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			ProductName:    item.Product.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: unit,
			LineTotalCents: unit * int64(item.Quantity),
			Available:      item.Product.IsActive,
		}
		if v := item.Variant; v != nil {
			line.SKU = v.SKU
			if v.Color != nil {
				line.ColorName = v.Color.Name
				line.ColorHex = v.Color.Hex
			}
			if v.Size != nil {
				line.SizeName = v.Size.Name
			}
		}
		summary.Lines = append(summary.Lines, line)
		summary.ItemCount += item.Quantity
		summary.SubtotalCents += line.LineTotalCents
	}

	summary.ShippingCents = policy.ShippingFor(summary.SubtotalCents)
	summary.TotalCents = summary.SubtotalCents + summary.ShippingCents
	return summary
}
