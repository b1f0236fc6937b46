package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

// TxRunner runs a unit of work inside one transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RetryPolicy bounds how long a contended unit of work keeps trying.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RetryObserver is notified about contention outcomes. Metrics plug in here.
type RetryObserver interface {
	ObserveRetry(ctx context.Context, attempt int)
	ObserveBusy(ctx context.Context)
}

// RetryingRunner re-runs a whole transaction when it lost a lock race and
// surfaces CodeBusy once the policy is exhausted.
type RetryingRunner struct {
	inner    TxRunner
	policy   RetryPolicy
	observer RetryObserver
}

func NewRetryingRunner(inner TxRunner, policy RetryPolicy, observer RetryObserver) (*RetryingRunner, error) {
	if inner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if policy.BaseDelay <= 0 {
		return nil, fmt.Errorf("retry base delay must be positive")
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 32 * policy.BaseDelay
	}
	return &RetryingRunner{inner: inner, policy: policy, observer: observer}, nil
}

func (r *RetryingRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	backoff := retry.NewExponential(r.policy.BaseDelay)
	backoff = retry.WithCappedDuration(r.policy.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(r.policy.MaxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && r.observer != nil {
			r.observer.ObserveRetry(ctx, attempt)
		}
		err := r.inner.WithTx(ctx, fn)
		if IsLockContention(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if IsLockContention(err) {
		if r.observer != nil {
			r.observer.ObserveBusy(ctx)
		}
		return pkgerrors.Wrap(pkgerrors.CodeBusy, err, fmt.Sprintf("resource still locked after %d attempts", attempt))
	}
	return err
}
