package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type createProductRequest struct {
	Name           string                   `json:"name" validate:"required,max=200"`
	Slug           string                   `json:"slug" validate:"max=200"`
	Description    string                   `json:"description" validate:"max=5000"`
	CategoryID     *uuid.UUID               `json:"category_id"`
	BasePriceCents int64                    `json:"base_price_cents" validate:"min=0"`
	Stock          int                      `json:"stock" validate:"min=0"`
	IsActive       *bool                    `json:"is_active"`
	Colors         []colorRequest           `json:"colors" validate:"dive"`
	Sizes          []sizeRequest            `json:"sizes" validate:"dive"`
	VariantStock   int                      `json:"variant_stock" validate:"min=0"`
	Overrides      []variantOverrideRequest `json:"overrides" validate:"dive"`
}

type colorRequest struct {
	Name string `json:"name" validate:"required,max=60"`
	Hex  string `json:"hex" validate:"omitempty,hexcolor"`
}

type sizeRequest struct {
	Name      string `json:"name" validate:"required,max=30"`
	SortOrder int    `json:"sort_order"`
}

type variantOverrideRequest struct {
	Color                string `json:"color"`
	Size                 string `json:"size"`
	Stock                *int   `json:"stock" validate:"omitempty,min=0"`
	PriceAdjustmentCents *int64 `json:"price_adjustment_cents"`
}

func (req createProductRequest) input() catalog.CreateProductInput {
	in := catalog.CreateProductInput{
		Name:           strings.TrimSpace(req.Name),
		Slug:           strings.TrimSpace(req.Slug),
		Description:    strings.TrimSpace(req.Description),
		CategoryID:     req.CategoryID,
		BasePriceCents: req.BasePriceCents,
		Stock:          req.Stock,
		IsActive:       req.IsActive,
		VariantStock:   req.VariantStock,
	}
	for _, c := range req.Colors {
		in.Colors = append(in.Colors, catalog.ColorInput{Name: c.Name, Hex: c.Hex})
	}
	for _, s := range req.Sizes {
		in.Sizes = append(in.Sizes, catalog.SizeInput{Name: s.Name, SortOrder: s.SortOrder})
	}
	for _, o := range req.Overrides {
		in.Overrides = append(in.Overrides, catalog.VariantOverride{
			Color:                o.Color,
			Size:                 o.Size,
			Stock:                o.Stock,
			PriceAdjustmentCents: o.PriceAdjustmentCents,
		})
	}
	return in
}

// AdminCreateProduct creates a product and its color × size variants.
func AdminCreateProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("catalog"))
			return
		}

		var body createProductRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.CreateProduct(r.Context(), body.input())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

type updateStockRequest struct {
	Stock *int `json:"stock" validate:"required,min=0"`
}

func AdminUpdateVariantStock(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("catalog"))
			return
		}
		variantID, err := validators.URLParamUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateStockRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		variant, err := svc.UpdateVariantStock(r.Context(), variantID, *body.Stock)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, variant)
	}
}

type updateSettingRequest struct {
	Value string `json:"value" validate:"max=500"`
}

func AdminGetSetting(svc settings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settings"))
			return
		}
		setting, err := svc.Get(r.Context(), settingKey(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, setting)
	}
}

// AdminUpdateSetting upserts one key. The service rejects unknown keys and
// malformed values.
func AdminUpdateSetting(svc settings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("settings"))
			return
		}
		key := settingKey(r)
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "setting key required"))
			return
		}

		var body updateSettingRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		setting, err := svc.Set(r.Context(), key, strings.TrimSpace(body.Value))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, setting)
	}
}

func settingKey(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "key"))
}
