package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type paypalDecoder interface {
	Decode(ctx context.Context, header http.Header, payload []byte) (webhooks.Event, error)
}

// PayPalWebhook receives PayPal capture notifications. Verification goes
// through PayPal's verify-webhook-signature API, so an outage there answers
// 503 and PayPal redelivers.
func PayPalWebhook(decoder paypalDecoder, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !deps.ready(ctx, w) {
			return
		}
		if decoder == nil {
			deps.reject(ctx, w, "paypal", pkgerrors.New(pkgerrors.CodeInternal, "paypal decoder unavailable"))
			return
		}

		payload, err := deps.readBody(w, r)
		if err != nil {
			deps.reject(ctx, w, "paypal", err)
			return
		}
		evt, err := decoder.Decode(ctx, r.Header, payload)
		if err != nil {
			deps.reject(ctx, w, "paypal", err)
			return
		}
		deps.dispatch(ctx, w, evt)
	}
}
