package catalog

import "github.com/angelmondragon/storefront-backend/pkg/db/models"

// EffectivePrice is the unit price a customer pays: the product base price
// plus the variant adjustment when a variant is selected.
func EffectivePrice(product *models.Product, variant *models.ProductVariant) int64 {
	if product == nil {
		return 0
	}
	price := product.BasePriceCents
	if variant != nil {
		price += variant.PriceAdjustmentCents
	}
	if price < 0 {
		return 0
	}
	return price
}

// AvailableStock returns the stock that backs a line: the variant's when set, else the product's.
func AvailableStock(product *models.Product, variant *models.ProductVariant) int {
	if variant != nil {
		return variant.Stock
	}
	if product == nil {
		return 0
	}
	return product.Stock
}
