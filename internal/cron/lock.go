package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockKey = "cron:workflow-maintenance"
	defaultLockTTL = 4 * time.Minute
)

// Lock hands out the maintenance lease. Acquire returns a nil Lease when
// another worker already holds it.
type Lock interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is one held maintenance window.
type Lease interface {
	Holder() string
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock stores the holder id under a SET NX key with a TTL. The TTL must
// outlast one cycle; a crashed worker's lease expires on its own.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
}

func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		key = defaultLockKey
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (Lease, error) {
	holder := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, holder, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}
	return &redisLease{lock: l, holder: holder}, nil
}

type redisLease struct {
	lock     *RedisLock
	holder   string
	released bool
}

func (r *redisLease) Holder() string { return r.holder }

// Release deletes the key only while it still carries this holder id, so a
// lease that expired and was re-taken is left alone.
func (r *redisLease) Release(ctx context.Context) error {
	if r.released {
		return nil
	}
	r.released = true

	current, err := r.lock.client.Get(ctx, r.lock.key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read holder of %s: %w", r.lock.key, err)
	}
	if current != r.holder {
		return nil
	}
	if err := r.lock.client.Del(ctx, r.lock.key); err != nil {
		return fmt.Errorf("release %s: %w", r.lock.key, err)
	}
	return nil
}
