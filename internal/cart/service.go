package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 99

// Service manages guest and customer carts.
type Service interface {
	Resolve(ctx context.Context, owner Owner) (*models.Cart, error)
	Summary(ctx context.Context, owner Owner) (*Summary, error)
	AddItem(ctx context.Context, owner Owner, input AddItemInput) (*Summary, error)
	UpdateItemQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, quantity int) (*Summary, error)
	RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (*Summary, error)
	Merge(ctx context.Context, sessionID string, userID uuid.UUID) error
	ClearForOwnerTx(ctx context.Context, tx *gorm.DB, owner Owner) error
	PurgeGuestCarts(ctx context.Context, idleSince time.Time) (int64, error)
}

type AddItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

type ServiceParams struct {
	Repo     CartRepository
	Tx       txRunner
	Catalog  lineResolver
	Settings shippingPolicySource
	Logger   *logger.Logger
}

type service struct {
	repo     CartRepository
	tx       txRunner
	catalog  lineResolver
	settings shippingPolicySource
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart repository required")
	case params.Tx == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case params.Catalog == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog required")
	case params.Settings == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "settings required")
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		catalog:  params.Catalog,
		settings: params.Settings,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Resolve(ctx context.Context, owner Owner) (*models.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	c, err := resolve(ctx, s.repo, owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve cart")
	}
	return c, nil
}

// resolve returns the owner's cart, creating it when missing. A concurrent
// create for the same owner loses on the unique index and re-reads.
func resolve(ctx context.Context, repo CartRepository, owner Owner) (*models.Cart, error) {
	c, err := repo.FindByOwner(ctx, owner)
	if err != nil || c != nil {
		return c, err
	}

	userID, sessionID := owner.Fields()
	c = &models.Cart{UserID: userID, SessionID: sessionID}
	if err := repo.Create(ctx, c); err != nil {
		if db.IsUniqueViolation(err, "") {
			return repo.FindByOwner(ctx, owner)
		}
		return nil, err
	}
	return c, nil
}

func (s *service) Summary(ctx context.Context, owner Owner) (*Summary, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	policy, err := s.settings.ShippingPolicy(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(c, policy), nil
}

func (s *service) AddItem(ctx context.Context, owner Owner, input AddItemInput) (*Summary, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if input.Quantity <= 0 || input.Quantity > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 99")
	}

	product, variant, err := s.catalog.ResolveLine(ctx, input.ProductID, input.VariantID)
	if err != nil {
		return nil, err
	}
	available := catalog.AvailableStock(product, variant)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		c, err := resolve(ctx, repo, owner)
		if err != nil {
			return err
		}

		line, err := repo.FindLine(ctx, c.ID, input.ProductID, input.VariantID)
		if err != nil {
			return err
		}
		quantity := input.Quantity
		if line != nil {
			quantity += line.Quantity
		}
		if quantity > MaxLineQuantity {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 99")
		}
		if quantity > available {
			return pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").
				WithDetails(map[string]any{"available": available, "requested": quantity})
		}

		if line != nil {
			if _, err := repo.SetItemQuantity(ctx, c.ID, line.ID, quantity); err != nil {
				return err
			}
		} else if err := repo.CreateItem(ctx, &models.CartItem{
			CartID:    c.ID,
			ProductID: input.ProductID,
			VariantID: input.VariantID,
			Quantity:  quantity,
		}); err != nil {
			return err
		}
		return repo.Touch(ctx, c.ID, s.now())
	})
	if err != nil {
		return nil, asServiceError(err, "add cart item")
	}
	return s.Summary(ctx, owner)
}

func (s *service) UpdateItemQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, quantity int) (*Summary, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, owner, itemID)
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if quantity > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 99")
	}

	c, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	item := findItem(c, itemID)
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	if available := catalog.AvailableStock(item.Product, item.Variant); quantity > available {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").
			WithDetails(map[string]any{"available": available, "requested": quantity})
	}

	if _, err := s.repo.SetItemQuantity(ctx, c.ID, itemID, quantity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
	}
	if err := s.repo.Touch(ctx, c.ID, s.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
	}
	return s.Summary(ctx, owner)
}

func (s *service) RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (*Summary, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	removed, err := s.repo.DeleteItem(ctx, c.ID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
	}
	if !removed {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	if err := s.repo.Touch(ctx, c.ID, s.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch cart")
	}
	return s.Summary(ctx, owner)
}

// Merge moves a guest cart into the customer's cart on login. Lines for the
// same product and variant are summed (capped at MaxLineQuantity) and the
// guest cart is deleted. Unpaid orders placed by the session are handed to the
// customer in the same transaction.
func (s *service) Merge(ctx context.Context, sessionID string, userID uuid.UUID) error {
	guestOwner := GuestOwner(sessionID)
	customer := CustomerOwner(userID)
	if guestOwner.SessionID == "" {
		return nil
	}
	if err := customer.Validate(); err != nil {
		return err
	}

	moved := 0
	var adopted int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if adopted, err = repo.AdoptGuestOrders(ctx, guestOwner.SessionID, userID); err != nil {
			return err
		}
		guest, err := repo.FindByOwner(ctx, guestOwner)
		if err != nil || guest == nil {
			return err
		}
		target, err := resolve(ctx, repo, customer)
		if err != nil {
			return err
		}

		for _, item := range guest.Items {
			existing, err := repo.FindLine(ctx, target.ID, item.ProductID, item.VariantID)
			if err != nil {
				return err
			}
			if existing == nil {
				if err := repo.MoveItem(ctx, item.ID, target.ID); err != nil {
					return err
				}
			} else {
				quantity := min(existing.Quantity+item.Quantity, MaxLineQuantity)
				if _, err := repo.SetItemQuantity(ctx, target.ID, existing.ID, quantity); err != nil {
					return err
				}
			}
			moved++
		}

		if err := repo.Delete(ctx, guest.ID); err != nil {
			return err
		}
		return repo.Touch(ctx, target.ID, s.now())
	})
	if err != nil {
		return asServiceError(err, "merge cart")
	}

	if moved > 0 || adopted > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"lines":          moved,
			"orders_adopted": adopted,
			"user_id":        userID.String(),
		}), "cart.merged")
	}
	return nil
}

// ClearForOwnerTx deletes the owner's cart inside the caller's transaction.
func (s *service) ClearForOwnerTx(ctx context.Context, tx *gorm.DB, owner Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	c, err := repo.FindByOwner(ctx, owner)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart for clear")
	}
	if c == nil {
		return nil
	}
	if err := repo.Delete(ctx, c.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear cart")
	}
	return nil
}

func (s *service) PurgeGuestCarts(ctx context.Context, idleSince time.Time) (int64, error) {
	count, err := s.repo.DeleteGuestCartsIdleSince(ctx, idleSince)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purge guest carts")
	}
	return count, nil
}

func findItem(c *models.Cart, itemID uuid.UUID) *models.CartItem {
	if c == nil {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i]
		}
	}
	return nil
}

func asServiceError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
