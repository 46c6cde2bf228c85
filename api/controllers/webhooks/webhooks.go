package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// DefaultMaxBody caps webhook payloads. Gateway events are a few kilobytes.
const DefaultMaxBody int64 = 1 << 20

// EventHandler applies a verified delivery. *webhooks.Reconciler implements it.
type EventHandler interface {
	Handle(ctx context.Context, evt webhooks.Event) (webhooks.Result, error)
}

// Deps are shared by every gateway endpoint.
type Deps struct {
	Handler EventHandler
	Metrics *metrics.WebhookMetrics
	Logger  *logger.Logger
	MaxBody int64
}

func (d Deps) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := d.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body")
	}
	return payload, nil
}

// reject answers a delivery that failed verification or decoding. Nothing
// has been written at this point.
func (d Deps) reject(ctx context.Context, w http.ResponseWriter, gateway string, err error) {
	d.Metrics.Observe(gateway, "", metrics.OutcomeRejected)
	responses.WriteError(ctx, d.Logger, w, err)
}

// dispatch hands a decoded event to the reconciler. Applied, duplicate and
// ignored deliveries all get 200. Errors keep their mapped status: a delivery
// whose event id is still being applied elsewhere answers 503, which both
// gateways retry, same as any other 5xx.
func (d Deps) dispatch(ctx context.Context, w http.ResponseWriter, evt webhooks.Event) {
	result, err := d.Handler.Handle(ctx, evt)
	if err != nil {
		responses.WriteError(ctx, d.Logger, w, err)
		return
	}
	responses.WriteAck(w, http.StatusOK, string(result.Status))
}

func (d Deps) ready(ctx context.Context, w http.ResponseWriter) bool {
	if d.Handler == nil {
		responses.WriteError(ctx, d.Logger, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
		return false
	}
	return true
}
