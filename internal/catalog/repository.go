package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository wraps catalog persistence. Stock mutations are only safe inside
// the caller's transaction (see WithTx).
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func withVariants(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Variants", func(q *gorm.DB) *gorm.DB { return q.Order("sku ASC") }).
		Preload("Variants.Color").
		Preload("Variants.Size")
}

type listProductsQuery struct {
	Limit           int
	Cursor          *pagination.Cursor
	CategoryID      *uuid.UUID
	IncludeInactive bool
}

func (r *Repository) ListProducts(ctx context.Context, q listProductsQuery) ([]models.Product, error) {
	query := withVariants(r.db.WithContext(ctx).Model(&models.Product{}))
	if !q.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	if q.CategoryID != nil {
		query = query.Where("category_id = ?", *q.CategoryID)
	}

	var rows []models.Product
	if err := pagination.Apply(query, q.Cursor, q.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := withVariants(r.db.WithContext(ctx)).Where("id = ?", id).Take(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *Repository) FindVariantByID(ctx context.Context, id uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).
		Preload("Color").
		Preload("Size").
		Where("id = ?", id).
		Take(&variant).Error
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// CreateProduct inserts the product and its variants in one statement batch.
func (r *Repository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// FindOrCreateColor returns the color with name, creating it with hex when missing.
func (r *Repository) FindOrCreateColor(ctx context.Context, name, hex string) (*models.Color, error) {
	color := models.Color{Name: name, Hex: hex}
	err := r.db.WithContext(ctx).
		Where(models.Color{Name: name}).
		Attrs(models.Color{Hex: hex}).
		FirstOrCreate(&color).Error
	if err != nil {
		return nil, err
	}
	return &color, nil
}

func (r *Repository) FindOrCreateSize(ctx context.Context, name string, sortOrder int) (*models.Size, error) {
	size := models.Size{Name: name, SortOrder: sortOrder}
	err := r.db.WithContext(ctx).
		Where(models.Size{Name: name}).
		Attrs(models.Size{SortOrder: sortOrder}).
		FirstOrCreate(&size).Error
	if err != nil {
		return nil, err
	}
	return &size, nil
}

// SetVariantStock overwrites stock; it reports false when the variant does not exist.
func (r *Repository) SetVariantStock(ctx context.Context, id uuid.UUID, stock int, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("id = ?", id).
		Updates(map[string]any{"stock": stock, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// StockResult reports a decrement attempt. When Applied is false the row was
// left untouched and Available holds the stock that was seen under lock.
type StockResult struct {
	Applied   bool
	Available int
}

// DecrementVariantStock locks the variant row and subtracts qty only when
// enough stock is present. Must run inside a transaction.
func (r *Repository) DecrementVariantStock(ctx context.Context, id uuid.UUID, qty int, now time.Time) (StockResult, error) {
	var row models.ProductVariant
	if err := r.lock(ctx).Select("id", "stock").Where("id = ?", id).Take(&row).Error; err != nil {
		return StockResult{}, err
	}
	return r.decrement(ctx, &models.ProductVariant{}, id, row.Stock, qty, now)
}

// DecrementProductStock is DecrementVariantStock for products sold without variants.
func (r *Repository) DecrementProductStock(ctx context.Context, id uuid.UUID, qty int, now time.Time) (StockResult, error) {
	var row models.Product
	if err := r.lock(ctx).Select("id", "stock").Where("id = ?", id).Take(&row).Error; err != nil {
		return StockResult{}, err
	}
	return r.decrement(ctx, &models.Product{}, id, row.Stock, qty, now)
}

func (r *Repository) lock(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *Repository) decrement(ctx context.Context, model any, id uuid.UUID, seen, qty int, now time.Time) (StockResult, error) {
	if qty <= 0 {
		return StockResult{Applied: true, Available: seen}, nil
	}
	if seen < qty {
		return StockResult{Available: seen}, nil
	}

	res := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND stock >= ?", id, qty).
		Updates(map[string]any{"stock": gorm.Expr("stock - ?", qty), "updated_at": now})
	if res.Error != nil {
		return StockResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		return StockResult{Available: seen}, nil
	}
	return StockResult{Applied: true, Available: seen - qty}, nil
}
