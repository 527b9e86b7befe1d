package scheduler

import (
	"context"

	"github.com/ezalhq/radar/internal/models"
)

// JobFilter narrows ListJobs. Zero value lists everything.
type JobFilter struct {
	SourceID     string
	CompetitorID string
	Status       models.JobStatus
	Limit        int
}

// JobStore abstracts discovery-job persistence for sweep and queue
// management.
type JobStore interface {
	CreateJob(ctx context.Context, tenantID string, job models.DiscoveryJob) (string, error)
	GetJob(ctx context.Context, tenantID, id string) (*models.DiscoveryJob, error)
	UpdateJob(ctx context.Context, tenantID string, job models.DiscoveryJob) error
	ListJobs(ctx context.Context, tenantID string, f JobFilter) ([]models.DiscoveryJob, error)
}

// SourceLister is the slice of the registry the sweep needs.
type SourceLister interface {
	SourcesDue(ctx context.Context, tenantID string, limit int) ([]models.DataSource, error)
}

// JobExecutor runs one queued discovery job end to end.
type JobExecutor interface {
	ExecuteDiscovery(ctx context.Context, tenantID, jobID string) error
}
