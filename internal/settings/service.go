package settings

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Known setting keys.
const (
	KeyShippingFlatCents          = "shipping_flat_cents"
	KeyFreeShippingThresholdCents = "free_shipping_threshold_cents"
	KeyCurrency                   = "currency"
)

const (
	defaultShippingFlatCents  int64 = 500
	defaultFreeThresholdCents int64 = 5000
)

var currencyRe = regexp.MustCompile(`^[a-z]{3}$`)

// ShippingPolicy is the store-wide shipping rule. A zero threshold disables free shipping.
type ShippingPolicy struct {
	FlatCents          int64  `json:"flat_cents"`
	FreeThresholdCents int64  `json:"free_threshold_cents"`
	Currency           string `json:"currency"`
}

// ShippingFor returns the shipping charge for a cart subtotal.
func (p ShippingPolicy) ShippingFor(subtotalCents int64) int64 {
	if subtotalCents <= 0 {
		return 0
	}
	if p.FreeThresholdCents > 0 && subtotalCents >= p.FreeThresholdCents {
		return 0
	}
	return p.FlatCents
}

type Service interface {
	ShippingPolicy(ctx context.Context) (ShippingPolicy, error)
	Get(ctx context.Context, key string) (*models.Setting, error)
	Set(ctx context.Context, key, value string) (*models.Setting, error)
}

type ServiceParams struct {
	Repo            Repository
	Logger          *logger.Logger
	DefaultCurrency string
}

type service struct {
	repo            Repository
	logg            *logger.Logger
	defaultCurrency string
	now             func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "settings repository required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &service{
		repo:            params.Repo,
		logg:            params.Logger,
		defaultCurrency: currency,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) ShippingPolicy(ctx context.Context) (ShippingPolicy, error) {
	policy := ShippingPolicy{
		FlatCents:          defaultShippingFlatCents,
		FreeThresholdCents: defaultFreeThresholdCents,
		Currency:           s.defaultCurrency,
	}

	rows, err := s.repo.List(ctx, KeyShippingFlatCents, KeyFreeShippingThresholdCents, KeyCurrency)
	if err != nil {
		return ShippingPolicy{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settings")
	}

	for _, row := range rows {
		switch row.Key {
		case KeyShippingFlatCents:
			if v, ok := s.parseCents(ctx, row); ok {
				policy.FlatCents = v
			}
		case KeyFreeShippingThresholdCents:
			if v, ok := s.parseCents(ctx, row); ok {
				policy.FreeThresholdCents = v
			}
		case KeyCurrency:
			if c := strings.ToLower(strings.TrimSpace(row.Value)); currencyRe.MatchString(c) {
				policy.Currency = c
			}
		}
	}
	return policy, nil
}

// parseCents falls back to the default for a bad stored value instead of
// failing every cart read.
func (s *service) parseCents(ctx context.Context, row models.Setting) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(row.Value), 10, 64)
	if err != nil || v < 0 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"key": row.Key, "value": row.Value}), "settings.invalid_value")
		return 0, false
	}
	return v, true
}

func (s *service) Get(ctx context.Context, key string) (*models.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key required")
	}
	row, err := s.repo.Get(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load setting")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "setting not found")
	}
	return row, nil
}

func (s *service) Set(ctx context.Context, key, value string) (*models.Setting, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if err := validate(key, value); err != nil {
		return nil, err
	}
	if key == KeyCurrency {
		value = strings.ToLower(value)
	}

	row, err := s.repo.Upsert(ctx, key, value, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save setting")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"key": key, "value": value}), "settings.updated")
	return row, nil
}

func validate(key, value string) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "key required")
	}
	switch key {
	case KeyShippingFlatCents, KeyFreeShippingThresholdCents:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "value must be a non-negative integer amount in cents").
				WithDetails(map[string]any{"key": key})
		}
	case KeyCurrency:
		if !currencyRe.MatchString(strings.ToLower(value)) {
			return pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3 letter ISO code")
		}
	default:
		if len(key) > 120 {
			return pkgerrors.New(pkgerrors.CodeValidation, "key too long")
		}
	}
	return nil
}
