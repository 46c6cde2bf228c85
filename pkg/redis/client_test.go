package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "login:a@b.c", 2, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 1, count)
	require.Len(t, mock.expireCalls, 1)

	allowed, count, err = client.FixedWindowAllow(ctx, "login:a@b.c", 2, time.Second)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 2, count)
	require.Len(t, mock.expireCalls, 1, "expire only set on first increment")

	allowed, _, err = client.FixedWindowAllow(ctx, "login:a@b.c", 2, time.Second)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "k", "v", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.SetNX(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	require.ErrorIs(t, err, Nil)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	_, err := client.Get(context.Background(), "k")
	require.Error(t, err)
	require.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	require.Equal(t, "sf:idempotency:checkout:abc", client.IdempotencyKey("checkout", "abc"))
	require.Equal(t, "sf:inflight:webhook:stripe:evt_1", client.InFlightKey("webhook:stripe", "evt_1"))
	require.Equal(t, "sf:rate_limit:login", client.RateLimitKey("login"))
	require.Equal(t, "sf:lock:cron", client.LockKey("cron"))
	require.Equal(t, "sf:a:b", BuildKey("a", " ", "b"))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6380/2", PoolSize: 7})
	require.NoError(t, err)
	require.Equal(t, "localhost:6380", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 7, opts.PoolSize)
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: map[string]string{}, incr: map[string]int64{}}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(_ context.Context, _ string, ttl time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, ttl)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
