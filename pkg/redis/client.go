package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

const (
	keyNamespace      = "warranty"
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
)

var errNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// Client wraps the redis commands used by the API idempotency layer and the
// cron lock.
type Client struct {
	store cmdable
	raw   *redis.Client
}

type Pinger interface {
	Ping(context.Context) error
}

// New connects with the configured pool settings and verifies the server answers.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_db", opts.DB), "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	// The URL wins for credentials and db; config only fills gaps.
	if opts.Password == "" {
		opts.Password = cfg.Password
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	overrideInt(&opts.PoolSize, cfg.PoolSize)
	overrideInt(&opts.MinIdleConns, cfg.MinIdleConns)
	overrideDuration(&opts.DialTimeout, cfg.DialTimeout)
	overrideDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	overrideDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func overrideInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func overrideDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func (c *Client) conn() (cmdable, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	return c.store, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	store, err := c.conn()
	if err != nil {
		return err
	}
	return store.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	store, err := c.conn()
	if err != nil {
		return "", err
	}
	return store.Get(ctx, key).Result()
}

// SetNX is the primitive behind idempotency claims and the cron lease.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	store, err := c.conn()
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	store, err := c.conn()
	if err != nil {
		return err
	}
	return store.Del(ctx, keys...).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	store, err := c.conn()
	if err != nil {
		return err
	}
	return store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// IdempotencyKey namespaces a client-supplied Idempotency-Key per route scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

// buildKey joins non-blank parts under the service namespace.
func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
