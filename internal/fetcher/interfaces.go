package fetcher

import (
	"context"

	"github.com/ezalhq/radar/internal/models"
)

// JobStore abstracts discovery-job persistence.
type JobStore interface {
	GetJob(ctx context.Context, tenantID, id string) (*models.DiscoveryJob, error)
	CreateJob(ctx context.Context, tenantID string, job models.DiscoveryJob) (string, error)
	UpdateJob(ctx context.Context, tenantID string, job models.DiscoveryJob) error
}

// RunStore abstracts discovery-run persistence.
type RunStore interface {
	CreateRun(ctx context.Context, tenantID string, run models.DiscoveryRun) (string, error)
	UpdateRun(ctx context.Context, tenantID string, run models.DiscoveryRun) error
	LastSuccessfulRun(ctx context.Context, tenantID, sourceID string) (*models.DiscoveryRun, error)
}

// SourceRegistry is the slice of the registry the discoverer needs.
type SourceRegistry interface {
	GetSource(ctx context.Context, tenantID, id string) (*models.DataSource, error)
	MarkDiscovered(ctx context.Context, tenantID, sourceID string, cadenceMinutes int) error
}

// ProcessStats summarizes one parse+diff pass over fetched content.
type ProcessStats struct {
	Found   int
	New     int
	Changed int
}

// Processor turns fetched content into stored products and insights. The
// orchestrator supplies the parser→differ composition here so the discoverer
// stays free of extraction concerns.
type Processor interface {
	Process(ctx context.Context, tenantID string, source models.DataSource, body []byte) (ProcessStats, error)
}
