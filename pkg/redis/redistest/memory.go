// Package redistest provides an in-process stand-in for the Redis client.
package redistest

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is a goroutine safe map honoring TTLs against Now.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
	Now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry), Now: time.Now}
}

func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.Now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", pkgredis.Nil
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: fmt.Sprint(value), expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.data[key] = entry{value: fmt.Sprint(value), expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

// FixedWindowAllow mirrors Client.FixedWindowAllow.
func (m *Memory) FixedWindowAllow(_ context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pkgredis.BuildKey("rate_limit", scope)
	var count int64
	if e, ok := m.live(key); ok {
		fmt.Sscan(e.value, &count)
	}
	count++
	expiresAt := m.expiry(window)
	if e, ok := m.live(key); ok {
		expiresAt = e.expiresAt
	}
	m.data[key] = entry{value: fmt.Sprint(count), expiresAt: expiresAt}
	return count <= limit, count, nil
}

func (m *Memory) IdempotencyKey(scope, id string) string {
	return pkgredis.BuildKey("idempotency", scope, id)
}

func (m *Memory) InFlightKey(scope, id string) string {
	return pkgredis.BuildKey("inflight", scope, id)
}

func (m *Memory) LockKey(name string) string {
	return pkgredis.BuildKey("lock", name)
}

// Len reports the number of live keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.data {
		if _, ok := m.live(key); ok {
			n++
		}
	}
	return n
}
