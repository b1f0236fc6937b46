package cron

import (
	"context"
	"fmt"
)

// Job is one unit of periodic maintenance executed by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry is the ordered job list of one worker. Names label metrics and
// logs, so they must be unique.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry registers jobs in order. Nil entries are skipped so optional
// jobs can be passed unconditionally.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Names lists job names, used when the worker logs its schedule.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
