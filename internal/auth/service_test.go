package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/settings"
	"github.com/angelmondragon/storefront-backend/internal/users"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var (
	testJWT      = config.JWTConfig{Secret: "secret", Issuer: "storefront-test", ExpirationMinutes: 30}
	testPassword = config.PasswordConfig{ArgonMemoryKB: 64, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}
)

type mergeFunc func(ctx context.Context, sessionID string, userID uuid.UUID) error

func (f mergeFunc) Merge(ctx context.Context, sessionID string, userID uuid.UUID) error {
	return f(ctx, sessionID, userID)
}

func newService(t *testing.T, merger cartMerger, admins ...string) (Service, *users.Repository) {
	t.Helper()
	repo := users.NewRepository(dbtest.Open(t))
	if merger == nil {
		merger = mergeFunc(func(context.Context, string, uuid.UUID) error { return nil })
	}
	svc, err := NewService(ServiceParams{
		Users:          repo,
		Cart:           merger,
		JWTConfig:      testJWT,
		PasswordConfig: testPassword,
		AdminEmails:    admins,
		Logger:         logger.Nop(),
	})
	require.NoError(t, err)
	return svc, repo
}

func TestRegisterIssuesCustomerToken(t *testing.T) {
	svc, repo := newService(t, nil, "Boss@Example.com")
	ctx := context.Background()

	resp, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: " Ada@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", resp.User.Email)
	assert.Equal(t, enums.UserRoleCustomer, resp.User.Role)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.EqualValues(t, 1800, resp.ExpiresIn)

	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, enums.UserRoleCustomer, claims.Role)

	stored, err := repo.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, stored.PasswordHash, "correct horse")

	admin, err := svc.Register(ctx, RegisterRequest{Name: "Boss", Email: "boss@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAdmin, admin.User.Role)
}

func TestRegisterRejectsDuplicatesAndWeakInput(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ADA@example.com", Password: "correct horse"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = svc.Register(ctx, RegisterRequest{Name: "Bob", Email: "bob@example.com", Password: "short"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = svc.Register(ctx, RegisterRequest{Name: " ", Email: "bob@example.com", Password: "correct horse"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLoginChecksCredentials(t *testing.T) {
	svc, repo := newService(t, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, LoginRequest{Email: "ADA@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotNil(t, resp.User.LastLoginAt)

	stored, err := repo.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	for _, req := range []LoginRequest{
		{Email: "ada@example.com", Password: "wrong password"},
		{Email: "nobody@example.com", Password: "correct horse"},
		{Email: "", Password: "correct horse"},
	} {
		_, err := svc.Login(ctx, req)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), req.Email)
	}
}

func TestLoginMergesGuestCart(t *testing.T) {
	client, conn := dbtest.Client(t)
	catalogSvc, err := catalog.NewService(catalog.ServiceParams{Repo: catalog.NewRepository(conn), Tx: client})
	require.NoError(t, err)
	settingsSvc, err := settings.NewService(settings.ServiceParams{Repo: settings.NewRepository(conn)})
	require.NoError(t, err)
	cartSvc, err := cart.NewService(cart.ServiceParams{Repo: cart.NewRepository(conn), Tx: client, Catalog: catalogSvc, Settings: settingsSvc})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Users:          users.NewRepository(conn),
		Cart:           cartSvc,
		JWTConfig:      testJWT,
		PasswordConfig: testPassword,
	})
	require.NoError(t, err)

	ctx := context.Background()
	mug := &models.Product{Name: "Mug", Slug: "mug", BasePriceCents: 1000, Stock: 10, IsActive: true}
	require.NoError(t, conn.Create(mug).Error)
	_, err = cartSvc.AddItem(ctx, cart.GuestOwner("guest-1"), cart.AddItemInput{ProductID: mug.ID, Quantity: 2})
	require.NoError(t, err)

	registered, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	_, err = svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "correct horse", SessionID: "guest-1"})
	require.NoError(t, err)

	summary, err := cartSvc.Summary(ctx, cart.CustomerOwner(registered.User.ID))
	require.NoError(t, err)
	require.Len(t, summary.Lines, 1)
	assert.Equal(t, 2, summary.Lines[0].Quantity)

	var guestCarts int64
	require.NoError(t, conn.Model(&models.Cart{}).Where("session_id = ?", "guest-1").Count(&guestCarts).Error)
	assert.Zero(t, guestCarts)
}

func TestLoginSurvivesMergeFailure(t *testing.T) {
	calls := 0
	svc, _ := newService(t, mergeFunc(func(context.Context, string, uuid.UUID) error {
		calls++
		return errors.New("redis gone")
	}))
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "correct horse", SessionID: "guest-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, 1, calls)
}
