package webhooks

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stripeDecoder interface {
	Decode(payload []byte, signature string) (webhooks.Event, error)
}

// StripeWebhook receives Stripe checkout and charge events. The raw body is
// verified against the Stripe-Signature header before anything is parsed.
func StripeWebhook(decoder stripeDecoder, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !deps.ready(ctx, w) {
			return
		}
		if decoder == nil {
			deps.reject(ctx, w, "stripe", pkgerrors.New(pkgerrors.CodeInternal, "stripe decoder unavailable"))
			return
		}

		payload, err := deps.readBody(w, r)
		if err != nil {
			deps.reject(ctx, w, "stripe", err)
			return
		}
		evt, err := decoder.Decode(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			deps.reject(ctx, w, "stripe", err)
			return
		}
		deps.dispatch(ctx, w, evt)
	}
}
