package jobs

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are valid out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Scope restricts a job's working set. Nil slices mean "all"; empty non-nil
// slices are rejected at creation.
type Scope struct {
	TemplateSlugs []string `json:"template_slugs,omitempty"`
	CustomerIDs   []string `json:"customer_ids,omitempty"`
}

// Job is one unit of asynchronous background work. Owned exclusively by the
// Manager; callers only ever see snapshots.
type Job struct {
	ID               string `json:"id"`
	Scope            Scope  `json:"scope"`
	ForceRecalculate bool   `json:"force_recalculate"`
	CreatedBy        string `json:"created_by,omitempty"`

	Status Status `json:"status"`

	TotalUnits     int `json:"total_units"`
	ProcessedUnits int `json:"processed_units"`
	MatchedUnits   int `json:"matched_units"`
	SkippedUnits   int `json:"skipped_units"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		tmp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		tmp.CompletedAt = &t
	}
	tmp.Scope.TemplateSlugs = append([]string(nil), job.Scope.TemplateSlugs...)
	tmp.Scope.CustomerIDs = append([]string(nil), job.Scope.CustomerIDs...)
	return &tmp
}

// Registry persists job records for restart recovery. The Manager keeps its
// own in-memory view; a Registry only has to survive writes.
type Registry interface {
	Load(ctx context.Context) ([]*Job, error)
	Upsert(ctx context.Context, job *Job) error
	Delete(ctx context.Context, jobID string) error
	DeleteAll(ctx context.Context) (int, error)
}
