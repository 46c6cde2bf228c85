package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	svc, err := NewService(ServiceParams{Repo: NewRepository(conn), Tx: client, Logger: logger.Nop()})
	require.NoError(t, err)
	return svc, conn
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestCreateProductExpandsMatrix(t *testing.T) {
	svc, conn := newTestService(t)

	dto, err := svc.CreateProduct(context.Background(), CreateProductInput{
		Name:           "Classic Tee",
		BasePriceCents: 2000,
		Colors:         []ColorInput{{Name: "Red", Hex: "#ff0000"}, {Name: "Navy Blue", Hex: "#000080"}},
		Sizes:          []SizeInput{{Name: "M", SortOrder: 2}, {Name: "XL", SortOrder: 4}},
		VariantStock:   5,
		Overrides: []VariantOverride{
			{Size: "XL", PriceAdjustmentCents: int64Ptr(300)},
			{Color: "Red", Size: "M", Stock: intPtr(0)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "classic-tee", dto.Slug)
	require.Len(t, dto.Variants, 4)

	bySKU := map[string]VariantDTO{}
	for _, v := range dto.Variants {
		bySKU[v.SKU] = v
	}
	require.Contains(t, bySKU, "CLASSIC-TEE-RED-M")
	require.Contains(t, bySKU, "CLASSIC-TEE-NAVY-BLUE-XL")

	assert.Equal(t, 0, bySKU["CLASSIC-TEE-RED-M"].Stock)
	assert.Equal(t, "#ff0000", bySKU["CLASSIC-TEE-RED-M"].ColorHex)
	assert.Equal(t, int64(2000), bySKU["CLASSIC-TEE-RED-M"].PriceCents)
	assert.Equal(t, 5, bySKU["CLASSIC-TEE-NAVY-BLUE-XL"].Stock)
	assert.Equal(t, int64(2300), bySKU["CLASSIC-TEE-NAVY-BLUE-XL"].PriceCents)

	var colors int64
	require.NoError(t, conn.Model(&models.Color{}).Count(&colors).Error)
	assert.EqualValues(t, 2, colors)
}

func TestCreateProductReusesReferenceData(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Tee", "Hoodie"} {
		_, err := svc.CreateProduct(ctx, CreateProductInput{
			Name:           name,
			BasePriceCents: 1000,
			Colors:         []ColorInput{{Name: "Red", Hex: "#ff0000"}},
		})
		require.NoError(t, err)
	}

	var colors int64
	require.NoError(t, conn.Model(&models.Color{}).Count(&colors).Error)
	assert.EqualValues(t, 1, colors)
}

func TestCreateProductWithoutVariantsKeepsProductStock(t *testing.T) {
	svc, _ := newTestService(t)

	dto, err := svc.CreateProduct(context.Background(), CreateProductInput{Name: "Sticker", BasePriceCents: 300, Stock: 12})
	require.NoError(t, err)
	assert.Empty(t, dto.Variants)
	assert.Equal(t, 12, dto.Stock)
	assert.True(t, dto.IsActive)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]CreateProductInput{
		"missing name":   {BasePriceCents: 100},
		"negative price": {Name: "x", BasePriceCents: -1},
		"bad hex":        {Name: "x", Colors: []ColorInput{{Name: "Red", Hex: "red"}}},
		"duplicate size": {Name: "x", Sizes: []SizeInput{{Name: "M"}, {Name: "M"}}},
		"stray override": {Name: "x", Overrides: []VariantOverride{{Stock: intPtr(1)}}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateProduct(ctx, input)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func TestCreateProductDuplicateSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Mug", BasePriceCents: 900})
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, CreateProductInput{Name: "Mug!", BasePriceCents: 900})
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestListProductsPaginatesAndHidesInactive(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "c"} {
		p := models.Product{Name: name, Slug: name, BasePriceCents: 100, IsActive: true, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, conn.Create(&p).Error)
	}
	hidden := models.Product{Name: "hidden", Slug: "hidden", BasePriceCents: 100, CreatedAt: base.Add(5 * time.Hour)}
	require.NoError(t, conn.Create(&hidden).Error)
	require.NoError(t, conn.Model(&hidden).Update("is_active", false).Error)

	first, err := svc.ListProducts(ctx, ListProductsParams{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "c", first.Items[0].Slug)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListProducts(ctx, ListProductsParams{Params: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "a", second.Items[0].Slug)

	all, err := svc.ListProducts(ctx, ListProductsParams{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all.Items, 4)
}

func TestUpdateVariantStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	dto, err := svc.CreateProduct(ctx, CreateProductInput{
		Name:           "Cap",
		BasePriceCents: 1500,
		Sizes:          []SizeInput{{Name: "One Size"}},
		VariantStock:   1,
	})
	require.NoError(t, err)
	variantID := dto.Variants[0].ID

	updated, err := svc.UpdateVariantStock(ctx, variantID, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Stock)
	assert.Equal(t, "One Size", updated.SizeName)

	_, err = svc.UpdateVariantStock(ctx, variantID, -1)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.UpdateVariantStock(ctx, uuid.New(), 3)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestResolveLine(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	withVariants, err := svc.CreateProduct(ctx, CreateProductInput{
		Name:           "Tee",
		BasePriceCents: 2000,
		Sizes:          []SizeInput{{Name: "S"}},
	})
	require.NoError(t, err)
	plain, err := svc.CreateProduct(ctx, CreateProductInput{Name: "Pin", BasePriceCents: 200, Stock: 3})
	require.NoError(t, err)

	_, _, err = svc.ResolveLine(ctx, withVariants.ID, nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	product, variant, err := svc.ResolveLine(ctx, withVariants.ID, &withVariants.Variants[0].ID)
	require.NoError(t, err)
	assert.Equal(t, withVariants.ID, product.ID)
	assert.Equal(t, withVariants.Variants[0].ID, variant.ID)

	_, _, err = svc.ResolveLine(ctx, plain.ID, &withVariants.Variants[0].ID)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	product, variant, err = svc.ResolveLine(ctx, plain.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, variant)
	assert.Equal(t, 3, product.Stock)
}

func TestEffectivePrice(t *testing.T) {
	product := &models.Product{BasePriceCents: 1000}
	assert.Equal(t, int64(1000), EffectivePrice(product, nil))
	assert.Equal(t, int64(1250), EffectivePrice(product, &models.ProductVariant{PriceAdjustmentCents: 250}))
	assert.Equal(t, int64(0), EffectivePrice(product, &models.ProductVariant{PriceAdjustmentCents: -5000}))
	assert.Equal(t, int64(0), EffectivePrice(nil, nil))
}

func TestBuildSKU(t *testing.T) {
	assert.Equal(t, "TEE-RED-XL", BuildSKU("tee", "Red", "", "XL"))
	assert.Equal(t, "classic-tee", Slugify("  Classic  Tee! "))
}
