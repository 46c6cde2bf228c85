package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// InFlightStore is the redis surface the guard needs. pkg/redis.Client and
// redistest.Memory both satisfy it.
type InFlightStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	InFlightKey(scope, id string) string
}

// InFlightGuard serialises concurrent deliveries of one event id across API
// instances. It only covers the window while an event is being applied; the
// ledger decides whether an event was already handled.
type InFlightGuard struct {
	store InFlightStore
	ttl   time.Duration
}

func NewInFlightGuard(store InFlightStore, ttl time.Duration) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("in-flight store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("in-flight ttl must be positive")
	}
	return &InFlightGuard{store: store, ttl: ttl}, nil
}

// Acquire reports false when another delivery of the event is in flight.
func (g *InFlightGuard) Acquire(ctx context.Context, gateway enums.PaymentGateway, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	ok, err := g.store.SetNX(ctx, g.key(gateway, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set in-flight key: %w", err)
	}
	return ok, nil
}

func (g *InFlightGuard) Release(ctx context.Context, gateway enums.PaymentGateway, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(gateway, eventID))
}

func (g *InFlightGuard) key(gateway enums.PaymentGateway, eventID string) string {
	return g.store.InFlightKey("webhook:"+string(gateway), eventID)
}
