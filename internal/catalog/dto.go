package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// ProductDTO is the public product payload.
type ProductDTO struct {
	ID             uuid.UUID    `json:"id"`
	CategoryID     *uuid.UUID   `json:"category_id,omitempty"`
	Name           string       `json:"name"`
	Slug           string       `json:"slug"`
	Description    string       `json:"description,omitempty"`
	BasePriceCents int64        `json:"base_price_cents"`
	Stock          int          `json:"stock"`
	IsActive       bool         `json:"is_active"`
	Variants       []VariantDTO `json:"variants"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type VariantDTO struct {
	ID                   uuid.UUID `json:"id"`
	SKU                  string    `json:"sku"`
	ColorName            string    `json:"color_name,omitempty"`
	ColorHex             string    `json:"color_hex,omitempty"`
	SizeName             string    `json:"size_name,omitempty"`
	Stock                int       `json:"stock"`
	PriceAdjustmentCents int64     `json:"price_adjustment_cents"`
	PriceCents           int64     `json:"price_cents"`
}

func NewProductDTO(product *models.Product) ProductDTO {
	dto := ProductDTO{
		ID:             product.ID,
		CategoryID:     product.CategoryID,
		Name:           product.Name,
		Slug:           product.Slug,
		Description:    product.Description,
		BasePriceCents: product.BasePriceCents,
		Stock:          product.Stock,
		IsActive:       product.IsActive,
		Variants:       make([]VariantDTO, 0, len(product.Variants)),
		CreatedAt:      product.CreatedAt,
		UpdatedAt:      product.UpdatedAt,
	}
	for i := range product.Variants {
		dto.Variants = append(dto.Variants, NewVariantDTO(product, &product.Variants[i]))
	}
	return dto
}

func NewVariantDTO(product *models.Product, variant *models.ProductVariant) VariantDTO {
	dto := VariantDTO{
		ID:                   variant.ID,
		SKU:                  variant.SKU,
		Stock:                variant.Stock,
		PriceAdjustmentCents: variant.PriceAdjustmentCents,
		PriceCents:           EffectivePrice(product, variant),
	}
	if variant.Color != nil {
		dto.ColorName = variant.Color.Name
		dto.ColorHex = variant.Color.Hex
	}
	if variant.Size != nil {
		dto.SizeName = variant.Size.Name
	}
	return dto
}
