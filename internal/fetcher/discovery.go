package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/util"
)

// ErrRobotsDisallowed is the policy error recorded when robots.txt blocks a
// fetch. Distinct from transport failures so operators don't retry it as if
// it were transient.
var ErrRobotsDisallowed = errors.New("robots policy: fetch disallowed by robots.txt")

// Retry bounds for the store writes that finalize a successful discovery.
const (
	finalizeRetries   = 2
	finalizeBaseDelay = 200 * time.Millisecond
)

// Discoverer runs the per-job discovery state machine on top of a Fetcher.
type Discoverer struct {
	fetcher   *Fetcher
	jobs      JobStore
	runs      RunStore
	sources   SourceRegistry
	processor Processor
	now       func() time.Time
}

func NewDiscoverer(f *Fetcher, jobs JobStore, runs RunStore, sources SourceRegistry, processor Processor) *Discoverer {
	return &Discoverer{
		fetcher:   f,
		jobs:      jobs,
		runs:      runs,
		sources:   sources,
		processor: processor,
		now:       time.Now,
	}
}

// WithClock overrides the discoverer clock. Tests only.
func (d *Discoverer) WithClock(now func() time.Time) *Discoverer {
	d.now = now
	return d
}

// ExecuteDiscovery runs one queued job end to end: load job and source,
// create a running DiscoveryRun, check robots, fetch, parse+diff, then mark
// the job done and advance the source's due time. On any failure the run and
// job are marked error and the due time is left untouched, so a failing
// source is retried at the next sweep rather than going dormant.
func (d *Discoverer) ExecuteDiscovery(ctx context.Context, tenantID, jobID string) error {
	job, err := d.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	// Only queued jobs execute. A job already running was dispatched by
	// another drain; a terminal job keeps its single run and final status.
	if job.Status != models.JobQueued {
		return fmt.Errorf("job %s is %s, only queued jobs can be executed", jobID, job.Status)
	}

	source, err := d.sources.GetSource(ctx, tenantID, job.SourceID)
	if err != nil {
		d.failJob(ctx, tenantID, job, fmt.Sprintf("source %s missing: %v", job.SourceID, err))
		return fmt.Errorf("failed to load source %s: %w", job.SourceID, err)
	}

	job.Status = models.JobRunning
	job.UpdatedAt = d.now()
	if err := d.jobs.UpdateJob(ctx, tenantID, *job); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	run := models.DiscoveryRun{
		ID:           uuid.NewString(),
		SourceID:     source.ID,
		CompetitorID: source.CompetitorID,
		JobID:        job.ID,
		StartedAt:    d.now(),
		Status:       models.RunRunning,
	}
	if _, err := d.runs.CreateRun(ctx, tenantID, run); err != nil {
		d.failJob(ctx, tenantID, job, "failed to create run: "+err.Error())
		return fmt.Errorf("failed to create run: %w", err)
	}
	job.RunID = run.ID

	// Robots is re-checked unless the source has already recorded clearance.
	if !source.RobotsAllowed && !d.fetcher.CheckRobots(ctx, source.BaseURL) {
		d.failRun(ctx, tenantID, &run, ErrRobotsDisallowed.Error())
		d.failJob(ctx, tenantID, job, ErrRobotsDisallowed.Error())
		return ErrRobotsDisallowed
	}

	result := d.fetcher.FetchURL(ctx, source.BaseURL, FetchOptions{Headers: source.Headers})
	run.HTTPStatus = result.StatusCode
	run.ContentType = result.ContentType
	if !result.Success {
		d.failRun(ctx, tenantID, &run, result.Error)
		d.failJob(ctx, tenantID, job, result.Error)
		return fmt.Errorf("fetch failed for source %s: %s", source.ID, result.Error)
	}

	run.ContentHash = result.ContentHash
	run.SnapshotPath = fmt.Sprintf("snapshots/%s/%s/%s", tenantID, source.ID, run.ID)

	stats, unchanged, err := d.processBody(ctx, tenantID, *source, result)
	if err != nil {
		d.failRun(ctx, tenantID, &run, err.Error())
		d.failJob(ctx, tenantID, job, err.Error())
		return err
	}

	run.Status = models.RunSuccess
	run.FinishedAt = d.now()
	run.DurationMillis = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	run.ProductsFound = stats.Found
	run.ProductsNew = stats.New
	run.ProductsChanged = stats.Changed
	// Losing a finalization write leaves a "running" run or a stale due
	// time behind, so transient store errors get a short retry.
	if err := util.RetryWithBackoff(ctx, finalizeRetries, finalizeBaseDelay, func(_ int) error {
		return d.runs.UpdateRun(ctx, tenantID, run)
	}); err != nil {
		slog.Warn("Failed to finalize run", "run", run.ID, "error", err)
	}

	job.Status = models.JobDone
	job.Error = ""
	job.UpdatedAt = d.now()
	if err := util.RetryWithBackoff(ctx, finalizeRetries, finalizeBaseDelay, func(_ int) error {
		return d.jobs.UpdateJob(ctx, tenantID, *job)
	}); err != nil {
		slog.Warn("Failed to mark job done", "job", job.ID, "error", err)
	}

	if err := util.RetryWithBackoff(ctx, finalizeRetries, finalizeBaseDelay, func(_ int) error {
		return d.sources.MarkDiscovered(ctx, tenantID, source.ID, source.CadenceMinutes)
	}); err != nil {
		slog.Warn("Failed to advance source due time", "source", source.ID, "error", err)
	}

	slog.Info("Discovery complete", "tenant", tenantID, "source", source.ID,
		"found", stats.Found, "new", stats.New, "changed", stats.Changed, "unchangedContent", unchanged)
	return nil
}

// processBody runs parse+diff unless the content hash matches the previous
// successful run, in which case the whole pass is skipped as unchanged.
func (d *Discoverer) processBody(ctx context.Context, tenantID string, source models.DataSource, result FetchResult) (ProcessStats, bool, error) {
	prev, err := d.runs.LastSuccessfulRun(ctx, tenantID, source.ID)
	if err == nil && prev != nil && prev.ContentHash == result.ContentHash {
		return ProcessStats{}, true, nil
	}
	stats, err := d.processor.Process(ctx, tenantID, source, result.Body)
	if err != nil {
		return ProcessStats{}, false, fmt.Errorf("processing failed for source %s: %w", source.ID, err)
	}
	return stats, false, nil
}

// DiscoverNow bypasses the scheduler: it creates an ad-hoc manual job for
// the source and executes it immediately.
func (d *Discoverer) DiscoverNow(ctx context.Context, tenantID, sourceID string) (string, error) {
	source, err := d.sources.GetSource(ctx, tenantID, sourceID)
	if err != nil {
		return "", err
	}

	job := models.DiscoveryJob{
		ID:           uuid.NewString(),
		SourceID:     source.ID,
		CompetitorID: source.CompetitorID,
		ScheduledFor: d.now(),
		Status:       models.JobQueued,
		CreatedBy:    "manual",
		CreatedAt:    d.now(),
		UpdatedAt:    d.now(),
	}
	if _, err := d.jobs.CreateJob(ctx, tenantID, job); err != nil {
		return "", fmt.Errorf("failed to create manual job: %w", err)
	}

	return job.ID, d.ExecuteDiscovery(ctx, tenantID, job.ID)
}

func (d *Discoverer) failRun(ctx context.Context, tenantID string, run *models.DiscoveryRun, msg string) {
	run.Status = models.RunError
	run.Error = msg
	run.FinishedAt = d.now()
	run.DurationMillis = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	if err := d.runs.UpdateRun(ctx, tenantID, *run); err != nil {
		slog.Warn("Failed to record run error", "run", run.ID, "error", err)
	}
}

func (d *Discoverer) failJob(ctx context.Context, tenantID string, job *models.DiscoveryJob, msg string) {
	job.Status = models.JobError
	job.Error = msg
	job.UpdatedAt = d.now()
	if err := d.jobs.UpdateJob(ctx, tenantID, *job); err != nil {
		slog.Warn("Failed to record job error", "job", job.ID, "error", err)
	}
}
