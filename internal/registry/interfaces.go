package registry

import (
	"context"
	"time"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/profile"
)

// CompetitorFilter narrows ListCompetitors. Zero value matches everything.
type CompetitorFilter struct {
	ActiveOnly bool
	State      string
	Brand      string
}

// SourceFilter narrows ListSources. DueBefore is exclusive of later times.
type SourceFilter struct {
	CompetitorID string
	ActiveOnly   bool
	DueBefore    time.Time
}

// Store abstracts the document store for competitors and data sources.
type Store interface {
	CreateCompetitor(ctx context.Context, tenantID string, c models.Competitor) (string, error)
	GetCompetitor(ctx context.Context, tenantID, id string) (*models.Competitor, error)
	ListCompetitors(ctx context.Context, tenantID string, f CompetitorFilter) ([]models.Competitor, error)
	UpdateCompetitor(ctx context.Context, tenantID string, c models.Competitor) error

	CreateSource(ctx context.Context, tenantID string, s models.DataSource) (string, error)
	GetSource(ctx context.Context, tenantID, id string) (*models.DataSource, error)
	ListSources(ctx context.Context, tenantID string, f SourceFilter) ([]models.DataSource, error)
	UpdateSource(ctx context.Context, tenantID string, s models.DataSource) error
}

// PlanLimits exposes the tenant's plan tier policy. Consulted only by
// QuickSetup to derive a default discovery cadence.
type PlanLimits interface {
	GetLimits(ctx context.Context, planID string) (PlanLimit, error)
}

// ProfileSource resolves a parser profile id. Consulted by QuickSetup to
// derive the full-menu flag from the profile's pagination.
type ProfileSource interface {
	Get(id string) (profile.Profile, error)
}

type PlanLimit struct {
	FrequencyMinutes int
}
