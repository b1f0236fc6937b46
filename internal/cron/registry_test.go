package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	jobA := &stubJob{name: "stock-audit"}
	jobB := &stubJob{name: "outbox-retention"}
	registry := mustRegistry(t, jobA, nil)
	require.NoError(t, registry.Register(nil))
	require.NoError(t, registry.Register(jobB))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, jobA, jobs[0])
	assert.Same(t, jobB, jobs[1])
	assert.Equal(t, []string{"stock-audit", "outbox-retention"}, registry.Names())

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0])
}

func TestRegistryRejectsDuplicateAndBlankNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "stock-audit"}, &stubJob{name: "stock-audit"})
	require.ErrorContains(t, err, "registered twice")

	var empty Registry
	require.Error(t, empty.Register(&stubJob{}))
	require.NoError(t, empty.Register(&stubJob{name: "stale-reservations"}))
	assert.Equal(t, []string{"stale-reservations"}, empty.Names())
}
