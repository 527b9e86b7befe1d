// Package scheduler turns due sources into queued discovery jobs and manages
// the job queue's lifecycle transitions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ezalhq/radar/internal/models"
)

type Scheduler struct {
	sources    SourceLister
	jobs       JobStore
	batchLimit int
	now        func() time.Time
}

func New(sources SourceLister, jobs JobStore, batchLimit int) *Scheduler {
	if batchLimit <= 0 {
		batchLimit = 20
	}
	return &Scheduler{
		sources:    sources,
		jobs:       jobs,
		batchLimit: batchLimit,
		now:        time.Now,
	}
}

// WithClock overrides the scheduler clock. Tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// SweepResult reports one scheduling pass.
type SweepResult struct {
	Queued    int      `json:"queued"`
	SourceIDs []string `json:"sourceIds"`
}

// RunScheduler queues one job per due source, up to the batch limit.
// A source that fails to enqueue is logged and skipped; the sweep keeps
// going. Sources that stay due are picked up by the next sweep.
func (s *Scheduler) RunScheduler(ctx context.Context, tenantID string) (SweepResult, error) {
	var result SweepResult

	due, err := s.sources.SourcesDue(ctx, tenantID, s.batchLimit)
	if err != nil {
		return result, fmt.Errorf("failed to list due sources: %w", err)
	}

	now := s.now()
	for _, source := range due {
		job := models.DiscoveryJob{
			ID:           uuid.NewString(),
			SourceID:     source.ID,
			CompetitorID: source.CompetitorID,
			ScheduledFor: now,
			Status:       models.JobQueued,
			CreatedBy:    "scheduler",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := s.jobs.CreateJob(ctx, tenantID, job); err != nil {
			slog.Error("Failed to queue discovery job", "source", source.ID, "error", err)
			continue
		}
		result.Queued++
		result.SourceIDs = append(result.SourceIDs, source.ID)
	}

	slog.Info("Scheduler sweep complete", "tenant", tenantID, "due", len(due), "queued", result.Queued)
	return result, nil
}

// PendingJobs returns queued jobs oldest first, bounded by limit.
func (s *Scheduler) PendingJobs(ctx context.Context, tenantID string, limit int) ([]models.DiscoveryJob, error) {
	jobs, err := s.jobs.ListJobs(ctx, tenantID, JobFilter{Status: models.JobQueued, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

// RetryJob queues a fresh job for the same source as a failed one. The
// failed job keeps its error record; retrying never rewrites history.
func (s *Scheduler) RetryJob(ctx context.Context, tenantID, jobID string) (*models.DiscoveryJob, error) {
	failed, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if failed == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if failed.Status != models.JobError {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, failed.Status)
	}

	now := s.now()
	retry := models.DiscoveryJob{
		ID:           uuid.NewString(),
		SourceID:     failed.SourceID,
		CompetitorID: failed.CompetitorID,
		ScheduledFor: now,
		Status:       models.JobQueued,
		CreatedBy:    "manual",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.jobs.CreateJob(ctx, tenantID, retry); err != nil {
		return nil, fmt.Errorf("failed to queue retry for job %s: %w", jobID, err)
	}
	return &retry, nil
}

// CancelJob cancels a queued job. Running and terminal jobs cannot be
// cancelled.
func (s *Scheduler) CancelJob(ctx context.Context, tenantID, jobID string) error {
	job, err := s.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if job.Status != models.JobQueued {
		return fmt.Errorf("job %s is %s, only queued jobs can be cancelled", jobID, job.Status)
	}

	job.Status = models.JobCancelled
	job.UpdatedAt = s.now()
	if err := s.jobs.UpdateJob(ctx, tenantID, *job); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return nil
}
