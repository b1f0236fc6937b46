package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	released int
}

type fakeLease struct{ lock *fakeLock }

func (f *fakeLock) Acquire(context.Context) (Lease, error) {
	if f.held {
		return nil, nil
	}
	f.held = true
	return fakeLease{lock: f}, nil
}

func (l fakeLease) Holder() string { return "worker-1" }

func (l fakeLease) Release(context.Context) error {
	l.lock.held = false
	l.lock.released++
	return nil
}

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	return registry
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestRunOnceRunsEveryJobAndAggregatesFailures(t *testing.T) {
	ok := &testJob{name: "stock-audit"}
	bad1 := &testJob{name: "stale-reservations", err: errors.New("boom")}
	bad2 := &testJob{name: "outbox-retention", err: errors.New("bang")}
	lock := &fakeLock{}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: mustRegistry(t, ok, bad1, bad2),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	err = svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "stale-reservations")
	assert.Contains(t, err.Error(), "outbox-retention")

	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, bad1.runs)
	assert.Equal(t, 1, bad2.runs)
	assert.Equal(t, 1, lock.released)
	assert.False(t, lock.held)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "stock-audit"}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{held: true},
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	require.Error(t, err)
}
