package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/docforge/docforge/internal/jobs"
	"github.com/docforge/docforge/pkg/icron"
	"github.com/docforge/docforge/pkg/log"
)

var singleflightGroup singleflight.Group

// Scheduler runs a full-scope matching sweep on a cron schedule. Overlapping
// triggers collapse into one run via singleflight, and a trigger is skipped
// entirely while an earlier matching job is still active.
type Scheduler struct {
	svc      *Service
	cron     *cron.Cron
	cronExpr string
}

func NewScheduler(svc *Service, c *cron.Cron, cronExpr string) *Scheduler {
	return &Scheduler{svc: svc, cron: c, cronExpr: cronExpr}
}

func (s *Scheduler) Schedule(ctx context.Context) error {
	if info, err := icron.GetTriggerInfo(s.cronExpr, time.Now()); err == nil {
		log.Info("Matching sweep scheduled, next trigger at %s", info.Next.Format(time.RFC3339))
	}

	runFunc := func() {
		_, _, _ = singleflightGroup.Do("matching-sweep", func() (any, error) {
			s.runSweep()
			return nil, nil
		})
	}
	_, err := s.cron.AddFunc(s.cronExpr, runFunc)
	return err
}

func (s *Scheduler) runSweep() {
	if pruned := s.svc.CleanupOldJobs(); pruned > 0 {
		log.Info("Pruned %d old jobs", pruned)
	}

	for _, job := range s.svc.ListJobs() {
		if !job.Status.Terminal() {
			log.Info("Skipping scheduled sweep, job %s is still %s", job.ID, job.Status)
			return
		}
	}

	job, err := s.svc.StartMatchingJob(jobs.Scope{}, false, "scheduler")
	if err != nil {
		log.Error("Failed to start scheduled matching sweep: %v", err)
		return
	}
	log.Info("Started scheduled matching sweep, job %s", job.ID)
}
