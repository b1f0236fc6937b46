package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evwarranty/warranty-backend/pkg/config"
)

func TestIdempotencyClaimAndReplay(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	store := NewIdempotency(client)
	key := client.IdempotencyKey("pickup", "abc")

	existing, claimed, err := store.Claim(ctx, key, "hash-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, existing)

	existing, claimed, err = store.Claim(ctx, key, "hash-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, existing)
	assert.True(t, existing.InFlight())

	require.NoError(t, store.Complete(ctx, key, IdempotencyRecord{
		RequestHash: "hash-1",
		Status:      200,
		Body:        []byte(`{"success":true}`),
	}, time.Minute))

	existing, claimed, err = store.Claim(ctx, key, "hash-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.False(t, existing.InFlight())
	assert.Equal(t, 200, existing.Status)
	assert.JSONEq(t, `{"success":true}`, string(existing.Body))

	require.NoError(t, store.Forget(ctx, key))
	_, claimed, err = store.Claim(ctx, key, "hash-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "warranty:idempotency:install:k1", client.IdempotencyKey("install", " k1 "))
	assert.Equal(t, "warranty:lock:cron", client.LockKey("cron"))
	assert.Equal(t, "warranty:idempotency:receive", client.IdempotencyKey("receive", ""))
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	_, err := client.Get(context.Background(), "k")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://localhost:6379/3",
		PoolSize:    20,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)

	_, err = optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
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

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
