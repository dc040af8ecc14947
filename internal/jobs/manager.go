package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/pkg/log"
)

// ErrCancelled is returned by a RunFunc that stopped because it observed the
// job's cancellation flag.
var ErrCancelled = errors.New("job cancelled")

// DefaultJobHistory is how many terminal jobs CleanupOld retains.
const DefaultJobHistory = 50

// RunFunc does the actual work of a job. It must check h.Cancelled() at
// batch boundaries and return ErrCancelled when it stops early.
type RunFunc func(ctx context.Context, h *Handle) error

// Manager owns the lifecycle of asynchronous, cancellable background jobs.
// The in-memory map is the source of truth; an optional Registry mirrors it
// for restart recovery.
type Manager struct {
	registry Registry
	history  int

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]*atomic.Bool
	wg      sync.WaitGroup
}

func NewManager(registry Registry, history int) *Manager {
	if history <= 0 {
		history = DefaultJobHistory
	}
	m := &Manager{
		registry: registry,
		history:  history,
		jobs:     make(map[string]*Job),
		cancels:  make(map[string]*atomic.Bool),
	}
	m.hydrateFromRegistry(context.Background())
	return m
}

// Create allocates a job in pending state and returns a snapshot
// immediately. Scope lists, when present, must be non-empty.
func (m *Manager) Create(scope Scope, forceRecalculate bool, createdBy string) (*Job, error) {
	if scope.TemplateSlugs != nil && len(scope.TemplateSlugs) == 0 {
		return nil, faults.New(faults.ErrValidation, "template scope must not be empty when provided")
	}
	if scope.CustomerIDs != nil && len(scope.CustomerIDs) == 0 {
		return nil, faults.New(faults.ErrValidation, "customer scope must not be empty when provided")
	}

	job := &Job{
		ID:               uuid.NewString(),
		Scope:            scope,
		ForceRecalculate: forceRecalculate,
		CreatedBy:        createdBy,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.cancels[job.ID] = &atomic.Bool{}
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persist(snapshot)
	return snapshot, nil
}

// StartInBackground transitions the job to running and launches run on its
// own goroutine. The caller is not blocked by processing.
func (m *Manager) StartInBackground(jobID string, run RunFunc) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("job %s is %s, expected pending", jobID, job.Status)
	}
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	flag := m.cancels[jobID]
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.persist(snapshot)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handle := &Handle{m: m, id: jobID, flag: flag, snapshot: snapshot}
		err := runSafely(ctx, run, handle)
		m.finish(jobID, err)
	}()
	return nil
}

func runSafely(ctx context.Context, run RunFunc, h *Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx, h)
}

func (m *Manager) finish(jobID string, runErr error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	switch {
	case errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		job.Status = StatusCancelled
	case runErr != nil:
		job.Status = StatusFailed
		job.Error = runErr.Error()
	default:
		job.Status = StatusCompleted
	}
	snapshot := cloneJob(job)
	m.mu.Unlock()

	if snapshot.Status == StatusFailed {
		log.Error("Job %s failed: %s", jobID, snapshot.Error)
	} else {
		log.Info("Job %s finished as %s (%d/%d processed, %d matched, %d skipped)",
			jobID, snapshot.Status, snapshot.ProcessedUnits, snapshot.TotalUnits,
			snapshot.MatchedUnits, snapshot.SkippedUnits)
	}
	m.persist(snapshot)
}

// Get returns a snapshot of the job, or false if it does not exist.
func (m *Manager) Get(jobID string) (*Job, bool) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		ret = append(ret, cloneJob(job))
	}
	m.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}

// Cancel sets the cooperative cancellation flag. Returns true only when the
// job was pending or running; terminal jobs are left untouched.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	flag := m.cancels[jobID]
	pending := job.Status == StatusPending
	var snapshot *Job
	if pending {
		// Never started; finalize directly.
		now := time.Now().UTC()
		job.Status = StatusCancelled
		job.CompletedAt = &now
		snapshot = cloneJob(job)
	}
	m.mu.Unlock()

	if flag != nil {
		flag.Store(true)
	}
	if snapshot != nil {
		m.persist(snapshot)
	}
	return true
}

// CleanupOld evicts terminal jobs beyond the configured history, oldest
// first. Pending and running jobs are never evicted.
func (m *Manager) CleanupOld() int {
	m.mu.Lock()
	terminal := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.Status.Terminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) <= m.history {
		m.mu.Unlock()
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].CreatedAt.Before(terminal[j].CreatedAt)
	})
	evict := terminal[:len(terminal)-m.history]
	removed := make([]string, 0, len(evict))
	for _, job := range evict {
		delete(m.jobs, job.ID)
		delete(m.cancels, job.ID)
		removed = append(removed, job.ID)
	}
	m.mu.Unlock()

	for _, id := range removed {
		m.deleteFromRegistry(id)
	}
	return len(removed)
}

// ClearAll removes every job record regardless of state.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	count := len(m.jobs)
	for _, flag := range m.cancels {
		flag.Store(true)
	}
	m.jobs = make(map[string]*Job)
	m.cancels = make(map[string]*atomic.Bool)
	m.mu.Unlock()

	if m.registry != nil {
		if _, err := m.registry.DeleteAll(context.Background()); err != nil {
			log.Error("Failed to clear jobs from registry: %v", err)
		}
	}
	return count
}

// Wait blocks until all in-flight job goroutines have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) hydrateFromRegistry(ctx context.Context) {
	if m.registry == nil {
		return
	}
	loaded, err := m.registry.Load(ctx)
	if err != nil {
		log.Error("Failed to load jobs from registry: %v", err)
		return
	}

	now := time.Now().UTC()
	toPersist := make([]*Job, 0)
	m.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		// A matching run does not survive the process.
		if job.Status == StatusRunning || job.Status == StatusPending {
			job.Status = StatusFailed
			job.Error = "interrupted by restart"
			job.CompletedAt = &now
			toPersist = append(toPersist, cloneJob(job))
		}
		m.jobs[job.ID] = job
		m.cancels[job.ID] = &atomic.Bool{}
	}
	m.mu.Unlock()

	for _, job := range toPersist {
		m.persist(job)
	}
}

func (m *Manager) persist(job *Job) {
	if m.registry == nil || job == nil {
		return
	}
	if err := m.registry.Upsert(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func (m *Manager) deleteFromRegistry(jobID string) {
	if m.registry == nil {
		return
	}
	if err := m.registry.Delete(context.Background(), jobID); err != nil {
		log.Error("Failed to delete pruned job %s from registry: %v", jobID, err)
	}
}

// Handle is the worker-side view of one running job: counter updates and the
// cancellation flag. Counter methods are safe for concurrent batch workers.
type Handle struct {
	m        *Manager
	id       string
	flag     *atomic.Bool
	snapshot *Job
}

func (h *Handle) ID() string { return h.id }

// Job returns the snapshot taken when the job started (scope, flags).
func (h *Handle) Job() *Job { return cloneJob(h.snapshot) }

// Cancelled reports whether cancellation has been requested. Runners check
// this at batch boundaries.
func (h *Handle) Cancelled() bool {
	return h.flag != nil && h.flag.Load()
}

func (h *Handle) SetTotal(n int) {
	h.update(func(job *Job) { job.TotalUnits = n })
}

func (h *Handle) AddProcessed(n int) {
	h.update(func(job *Job) { job.ProcessedUnits += n })
}

func (h *Handle) AddMatched(n int) {
	h.update(func(job *Job) { job.MatchedUnits += n })
}

func (h *Handle) AddSkipped(n int) {
	h.update(func(job *Job) { job.SkippedUnits += n })
}

func (h *Handle) update(fn func(job *Job)) {
	h.m.mu.Lock()
	job, ok := h.m.jobs[h.id]
	if !ok {
		h.m.mu.Unlock()
		return
	}
	fn(job)
	snapshot := cloneJob(job)
	h.m.mu.Unlock()

	h.m.persist(snapshot)
}
