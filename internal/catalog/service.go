package catalog

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service exposes storefront reads and admin catalog management.
type Service interface {
	ListProducts(ctx context.Context, params ListProductsParams) (*pagination.Page[ProductDTO], error)
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error)
	CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error)
	UpdateVariantStock(ctx context.Context, variantID uuid.UUID, stock int) (*VariantDTO, error)
	ResolveLine(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.Product, *models.ProductVariant, error)
}

type ListProductsParams struct {
	pagination.Params
	CategoryID      *uuid.UUID
	IncludeInactive bool
}

// CreateProductInput describes a product and the color × size matrix of its
// variants. With no colors and no sizes the product is sold without variants
// and Stock applies to the product itself.
type CreateProductInput struct {
	Name           string
	Slug           string
	Description    string
	CategoryID     *uuid.UUID
	BasePriceCents int64
	Stock          int
	IsActive       *bool
	Colors         []ColorInput
	Sizes          []SizeInput
	VariantStock   int
	Overrides      []VariantOverride
}

type ColorInput struct {
	Name string
	Hex  string
}

type SizeInput struct {
	Name      string
	SortOrder int
}

// VariantOverride adjusts one cell of the matrix. Empty Color or Size matches
// every value on that axis.
type VariantOverride struct {
	Color                string
	Size                 string
	Stock                *int
	PriceAdjustmentCents *int64
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo   *Repository
	Tx     txRunner
	Logger *logger.Logger
}

type service struct {
	repo *Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	return &service{
		repo: params.Repo,
		tx:   params.Tx,
		logg: params.Logger,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) ListProducts(ctx context.Context, params ListProductsParams) (*pagination.Page[ProductDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListProducts(ctx, listProductsQuery{
		Limit:           params.Limit,
		Cursor:          cursor,
		CategoryID:      params.CategoryID,
		IncludeInactive: params.IncludeInactive,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}

	page := pagination.Build(rows, params.Limit, func(p models.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	out := pagination.Page[ProductDTO]{Items: make([]ProductDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for i := range page.Items {
		out.Items = append(out.Items, NewProductDTO(&page.Items[i]))
	}
	return &out, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	product, err := s.loadProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := NewProductDTO(product)
	return &dto, nil
}

func (s *service) loadProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.FindProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

// ResolveLine loads a purchasable product/variant pair for the cart.
func (s *service) ResolveLine(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.Product, *models.ProductVariant, error) {
	product, err := s.loadProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	if !product.IsActive {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
	}

	if variantID == nil {
		if len(product.Variants) > 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "variant selection required")
		}
		return product, nil, nil
	}
	for i := range product.Variants {
		if product.Variants[i].ID == *variantID {
			return product, &product.Variants[i], nil
		}
	}
	return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "variant does not belong to product")
}

func (s *service) CreateProduct(ctx context.Context, input CreateProductInput) (*ProductDTO, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name required")
	}
	if input.BasePriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base price must be non-negative")
	}
	if input.Stock < 0 || input.VariantStock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock must be non-negative")
	}
	slug := Slugify(input.Slug)
	if slug == "" {
		slug = Slugify(input.Name)
	}
	if slug == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slug could not be derived from name")
	}
	cells, err := expandMatrix(slug, input)
	if err != nil {
		return nil, err
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	product := &models.Product{
		CategoryID:     input.CategoryID,
		Name:           input.Name,
		Slug:           slug,
		Description:    strings.TrimSpace(input.Description),
		BasePriceCents: input.BasePriceCents,
		Stock:          input.Stock,
		IsActive:       active,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		colors := map[string]*models.Color{}
		for _, c := range input.Colors {
			color, err := repo.FindOrCreateColor(ctx, c.Name, c.Hex)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: upsert color")
			}
			colors[c.Name] = color
		}
		sizes := map[string]*models.Size{}
		for _, sz := range input.Sizes {
			size, err := repo.FindOrCreateSize(ctx, sz.Name, sz.SortOrder)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: upsert size")
			}
			sizes[sz.Name] = size
		}

		for _, cell := range cells {
			variant := models.ProductVariant{
				SKU:                  cell.sku,
				Stock:                cell.stock,
				PriceAdjustmentCents: cell.adjustment,
			}
			if c, ok := colors[cell.color]; ok {
				variant.ColorID = &c.ID
			}
			if sz, ok := sizes[cell.size]; ok {
				variant.SizeID = &sz.ID
			}
			product.Variants = append(product.Variants, variant)
		}
		if len(product.Variants) > 0 {
			product.Stock = 0
		}

		if err := repo.CreateProduct(ctx, product); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "product slug or sku already exists").
					WithDetails(map[string]any{"slug": slug})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert product")
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"product_id": product.ID.String(),
		"slug":       slug,
		"variants":   len(product.Variants),
	}), "catalog.product_created")

	return s.GetProduct(ctx, product.ID)
}

func (s *service) UpdateVariantStock(ctx context.Context, variantID uuid.UUID, stock int) (*VariantDTO, error) {
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if stock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock must be non-negative")
	}

	found, err := s.repo.SetVariantStock(ctx, variantID, stock, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update variant stock")
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
	}

	variant, err := s.repo.FindVariantByID(ctx, variantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}
	product, err := s.loadProduct(ctx, variant.ProductID)
	if err != nil {
		return nil, err
	}
	dto := NewVariantDTO(product, variant)
	return &dto, nil
}

type matrixCell struct {
	color      string
	size       string
	sku        string
	stock      int
	adjustment int64
}

var hexRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func expandMatrix(slug string, input CreateProductInput) ([]matrixCell, error) {
	colors := []string{""}
	if len(input.Colors) > 0 {
		colors = colors[:0]
		seen := map[string]bool{}
		for _, c := range input.Colors {
			name := strings.TrimSpace(c.Name)
			if name == "" {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "color name required")
			}
			if !hexRe.MatchString(c.Hex) {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "color hex must look like #RRGGBB").
					WithDetails(map[string]any{"color": name})
			}
			if seen[name] {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate color").WithDetails(map[string]any{"color": name})
			}
			seen[name] = true
			colors = append(colors, name)
		}
	}
	sizes := []string{""}
	if len(input.Sizes) > 0 {
		sizes = sizes[:0]
		seen := map[string]bool{}
		for _, sz := range input.Sizes {
			name := strings.TrimSpace(sz.Name)
			if name == "" {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "size name required")
			}
			if seen[name] {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate size").WithDetails(map[string]any{"size": name})
			}
			seen[name] = true
			sizes = append(sizes, name)
		}
	}

	if len(input.Colors) == 0 && len(input.Sizes) == 0 {
		if len(input.Overrides) > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "overrides require colors or sizes")
		}
		return nil, nil
	}

	cells := make([]matrixCell, 0, len(colors)*len(sizes))
	for _, color := range colors {
		for _, size := range sizes {
			cell := matrixCell{
				color: color,
				size:  size,
				sku:   BuildSKU(slug, color, size),
				stock: input.VariantStock,
			}
			for _, o := range input.Overrides {
				if (o.Color == "" || o.Color == color) && (o.Size == "" || o.Size == size) {
					if o.Stock != nil {
						if *o.Stock < 0 {
							return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock must be non-negative")
						}
						cell.stock = *o.Stock
					}
					if o.PriceAdjustmentCents != nil {
						cell.adjustment = *o.PriceAdjustmentCents
					}
				}
			}
			cells = append(cells, cell)
		}
	}
	return cells, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and joins alphanumeric runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
}

// BuildSKU derives a variant SKU such as CLASSIC-TEE-RED-XL.
func BuildSKU(slug string, parts ...string) string {
	segments := []string{strings.ToUpper(slug)}
	for _, p := range parts {
		if p = Slugify(p); p != "" {
			segments = append(segments, strings.ToUpper(p))
		}
	}
	return strings.Join(segments, "-")
}
