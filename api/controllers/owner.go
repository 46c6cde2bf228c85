package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// cartOwner resolves who the request acts for: the signed-in customer, or the
// guest identified by the session header.
func cartOwner(r *http.Request) (cart.Owner, error) {
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return cart.CustomerOwner(principal.UserID), nil
	}
	if session := middleware.SessionIDFromRequest(r); session != "" {
		if len(session) > 128 {
			return cart.Owner{}, pkgerrors.New(pkgerrors.CodeValidation, "session id too long")
		}
		return cart.GuestOwner(session), nil
	}
	return cart.Owner{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token or "+middleware.SessionHeader+" header required")
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable")
}
