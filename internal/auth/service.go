package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/users"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the auth controller.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

type userRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type cartMerger interface {
	Merge(ctx context.Context, sessionID string, userID uuid.UUID) error
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Users          userRepository
	Cart           cartMerger
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	AdminEmails    []string
	Logger         *logger.Logger
}

type service struct {
	users       userRepository
	cart        cartMerger
	jwtCfg      config.JWTConfig
	passwordCfg config.PasswordConfig
	admins      map[string]struct{}
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user repository required")
	}
	if params.Cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart service required")
	}
	admins := make(map[string]struct{}, len(params.AdminEmails))
	for _, email := range params.AdminEmails {
		if normalized := users.NormalizeEmail(email); normalized != "" {
			admins[normalized] = struct{}{}
		}
	}
	return &service{
		users:       params.Users,
		cart:        params.Cart,
		jwtCfg:      params.JWTConfig,
		passwordCfg: params.PasswordConfig,
		admins:      admins,
		logg:        params.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error) {
	email := users.NormalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	switch {
	case email == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	case name == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	case len(req.Password) < security.MinPasswordLength:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "password must be at least %d characters", security.MinPasswordLength)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check user email")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
	}

	hash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	role := enums.UserRoleCustomer
	if _, ok := s.admins[email]; ok {
		role = enums.UserRoleAdmin
	}
	user := &models.User{Email: email, Name: name, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"user_id": user.ID.String(), "role": string(role)}), "auth.registered")
	return s.issue(user, s.now())
}

// Login verifies credentials and, when the request carries a guest session,
// folds that cart into the customer's cart before returning the token.
func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update last login")
	}
	user.LastLoginAt = &now

	if sessionID := strings.TrimSpace(req.SessionID); sessionID != "" {
		if err := s.cart.Merge(ctx, sessionID, user.ID); err != nil {
			// The login itself succeeded; the guest cart stays where it was.
			s.logg.Error(s.logg.WithField(ctx, "user_id", user.ID.String()), "auth.cart_merge_failed", err)
		}
	}
	return s.issue(user, now)
}

func (s *service) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	normalized := users.NormalizeEmail(email)
	if normalized == "" || password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	valid, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return user, nil
}

func (s *service) issue(user *models.User, now time.Time) (*LoginResponse, error) {
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.AccessTokenPayload{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtCfg.AccessTTL().Seconds()),
		User:        users.FromModel(user),
	}, nil
}
