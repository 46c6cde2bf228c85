package cron

import (
	"context"
	"fmt"
)

// Job is one maintenance sweep run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order. Names are unique.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry skips nil jobs and panics on duplicate names, which is a wiring
// bug in main.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			panic(err)
		}
	}
	return registry
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if _, ok := r.names[job.Name()]; ok {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Select narrows the registry to the named jobs. An empty list selects all.
func (r *Registry) Select(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	byName := make(map[string]Job, len(r.jobs))
	for _, job := range r.jobs {
		byName[job.Name()] = job
	}
	out := &Registry{names: map[string]struct{}{}}
	for _, name := range names {
		job, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown cron job %q", name)
		}
		if err := out.Register(job); err != nil {
			return nil, err
		}
	}
	return out, nil
}
