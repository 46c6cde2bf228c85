package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type checkoutRequest struct {
	Gateway          string `json:"gateway" validate:"required,oneof=stripe paypal"`
	Email            string `json:"email" validate:"omitempty,email"`
	Notes            string `json:"notes" validate:"max=1000"`
	ClientTotalCents *int64 `json:"client_total_cents"`
}

// Checkout turns the caller's cart into a pending order and returns the
// hosted payment page to redirect to.
func Checkout(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders"))
			return
		}
		owner, err := cartOwner(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Checkout(r.Context(), orders.CheckoutInput{
			Owner:            owner,
			Gateway:          body.Gateway,
			Email:            strings.TrimSpace(body.Email),
			Notes:            validators.SanitizeString(body.Notes, 1000),
			ClientTotalCents: body.ClientTotalCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CheckoutReturn handles the browser coming back from the gateway. It settles
// the order through the same path as the webhook and returns its state.
func CheckoutReturn(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders"))
			return
		}

		orderID, err := validators.QueryUUID(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if orderID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order_id required"))
			return
		}
		token := returnToken(r)
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "token required"))
			return
		}

		order, err := svc.ConfirmReturn(r.Context(), *orderID, token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// returnToken accepts Stripe's session_id and PayPal's token parameter.
func returnToken(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"token", "session_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
