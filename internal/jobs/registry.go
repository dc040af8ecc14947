package jobs

import (
	"context"
	"sync"
)

// MemoryRegistry is a Registry that forgets everything on restart. Used in
// tests and in deployments that accept losing job history.
type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{jobs: make(map[string]*Job)}
}

func (r *MemoryRegistry) Load(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret, nil
}

func (r *MemoryRegistry) Upsert(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}

func (r *MemoryRegistry) DeleteAll(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.jobs)
	r.jobs = make(map[string]*Job)
	return n, nil
}
