package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Worker drains the queued-job backlog, executing jobs concurrently with a
// bounded degree of parallelism.
type Worker struct {
	scheduler   *Scheduler
	executor    JobExecutor
	concurrency int
	batchSize   int
}

func NewWorker(scheduler *Scheduler, executor JobExecutor, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Worker{
		scheduler:   scheduler,
		executor:    executor,
		concurrency: concurrency,
		batchSize:   50,
	}
}

// DrainOnce pulls one batch of queued jobs and executes them. Returns the
// number of jobs attempted. Executor failures are recorded on the job by
// the executor itself; the worker only logs them.
func (w *Worker) DrainOnce(ctx context.Context, tenantID string) (int, error) {
	jobs, err := w.scheduler.PendingJobs(ctx, tenantID, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		jobID := job.ID
		g.Go(func() error {
			if err := w.executor.ExecuteDiscovery(gctx, tenantID, jobID); err != nil {
				slog.Error("Discovery job failed", "job", jobID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

// Run loops DrainOnce until the context is cancelled, sleeping between
// passes when the queue is empty.
func (w *Worker) Run(ctx context.Context, tenantID string, idleDelay time.Duration) {
	if idleDelay <= 0 {
		idleDelay = 30 * time.Second
	}
	for {
		attempted, err := w.DrainOnce(ctx, tenantID)
		if err != nil {
			slog.Error("Worker drain failed", "tenant", tenantID, "error", err)
		}
		if attempted > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idleDelay):
		}
	}
}
