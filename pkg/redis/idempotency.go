package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyRecord is what a replayed request gets back. A record without a
// status is still in flight.
type IdempotencyRecord struct {
	RequestHash string          `json:"request_hash"`
	Status      int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func (r IdempotencyRecord) InFlight() bool {
	return r.Status == 0
}

// IdempotencyStore is the surface the HTTP middleware depends on.
type IdempotencyStore interface {
	Key(scope, id string) string
	Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (*IdempotencyRecord, bool, error)
	Complete(ctx context.Context, key string, record IdempotencyRecord, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// Idempotency stores request outcomes so a retried pickup, install or receive
// returns the first answer instead of running twice.
type Idempotency struct {
	client *Client
}

func NewIdempotency(client *Client) *Idempotency {
	return &Idempotency{client: client}
}

func (s *Idempotency) Key(scope, id string) string {
	return s.client.IdempotencyKey(scope, id)
}

// Claim reserves key for this request. When the key already exists it returns
// the stored record and false.
func (s *Idempotency) Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (*IdempotencyRecord, bool, error) {
	pending, err := json.Marshal(IdempotencyRecord{RequestHash: requestHash})
	if err != nil {
		return nil, false, err
	}
	ok, err := s.client.SetNX(ctx, key, string(pending), ttl)
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	raw, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as a fresh claim on the next try
		return nil, false, fmt.Errorf("idempotency key %s expired while reading", key)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency key: %w", err)
	}
	var existing IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &existing, false, nil
}

func (s *Idempotency) Complete(ctx context.Context, key string, record IdempotencyRecord, ttl time.Duration) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, string(encoded), ttl)
}

// Forget drops the claim so the client may retry, used when the request failed
// before producing a cacheable answer.
func (s *Idempotency) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, key)
}
