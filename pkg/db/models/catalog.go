package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Setting is a key/value row used for store wide configuration.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey;size:120" json:"key"`
	Value     string    `gorm:"column:value;not null" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

type Category struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (c *Category) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

type Color struct {
	ID   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name string    `gorm:"column:name;not null;uniqueIndex"`
	Hex  string    `gorm:"column:hex;not null"`
}

func (c *Color) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

type Size struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null;uniqueIndex"`
	SortOrder int       `gorm:"column:sort_order;not null;default:0"`
}

func (s *Size) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Product is a sellable item. Stock here is used when the product has no variants.
type Product struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	CategoryID     *uuid.UUID       `gorm:"column:category_id;type:uuid"`
	Name           string           `gorm:"column:name;not null"`
	Slug           string           `gorm:"column:slug;not null;uniqueIndex"`
	Description    string           `gorm:"column:description"`
	BasePriceCents int64            `gorm:"column:base_price_cents;not null"`
	Stock          int              `gorm:"column:stock;not null;default:0"`
	IsActive       bool             `gorm:"column:is_active;not null"`
	Variants       []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProductVariant is a color/size combination with its own stock.
type ProductVariant struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID            uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index"`
	ColorID              *uuid.UUID `gorm:"column:color_id;type:uuid"`
	SizeID               *uuid.UUID `gorm:"column:size_id;type:uuid"`
	Color                *Color     `gorm:"foreignKey:ColorID"`
	Size                 *Size      `gorm:"foreignKey:SizeID"`
	SKU                  string     `gorm:"column:sku;not null;uniqueIndex"`
	Stock                int        `gorm:"column:stock;not null;default:0;check:stock >= 0"`
	PriceAdjustmentCents int64      `gorm:"column:price_adjustment_cents;not null;default:0"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
