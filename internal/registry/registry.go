// Package registry owns the Competitor and DataSource entities and their
// "next due" scheduling state.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/profile"
	"github.com/ezalhq/radar/internal/util"
	"github.com/ezalhq/radar/internal/validator"
)

type Registry struct {
	store    Store
	plans    PlanLimits
	profiles ProfileSource
	validate *validator.Validator
	now      func() time.Time
}

func New(store Store, plans PlanLimits, profiles ProfileSource) *Registry {
	return &Registry{
		store:    store,
		plans:    plans,
		profiles: profiles,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock overrides the registry clock. Tests only.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) CreateCompetitor(ctx context.Context, tenantID string, c models.Competitor) (*models.Competitor, error) {
	c.TenantID = tenantID
	c.Active = true
	c.CreatedAt = r.now()
	c.UpdatedAt = c.CreatedAt
	if err := r.validate.ValidateStruct(c); err != nil {
		return nil, fmt.Errorf("invalid competitor: %w", err)
	}

	c.ID = uuid.NewString()
	if _, err := r.store.CreateCompetitor(ctx, tenantID, c); err != nil {
		return nil, fmt.Errorf("failed to create competitor: %w", err)
	}
	slog.Info("Registered competitor", "tenant", tenantID, "competitor", c.ID, "name", c.Name)
	return &c, nil
}

func (r *Registry) GetCompetitor(ctx context.Context, tenantID, id string) (*models.Competitor, error) {
	c, err := r.store.GetCompetitor(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("competitor %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}

func (r *Registry) ListCompetitors(ctx context.Context, tenantID string, f CompetitorFilter) ([]models.Competitor, error) {
	return r.store.ListCompetitors(ctx, tenantID, f)
}

func (r *Registry) UpdateCompetitor(ctx context.Context, tenantID string, c models.Competitor) error {
	existing, err := r.GetCompetitor(ctx, tenantID, c.ID)
	if err != nil {
		return err
	}
	c.TenantID = existing.TenantID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = r.now()
	return r.store.UpdateCompetitor(ctx, tenantID, c)
}

// DeactivateCompetitor soft-deletes: historical products and insights keep
// referencing the competitor, so records are never removed.
func (r *Registry) DeactivateCompetitor(ctx context.Context, tenantID, id string) error {
	c, err := r.GetCompetitor(ctx, tenantID, id)
	if err != nil {
		return err
	}
	c.Active = false
	c.UpdatedAt = r.now()
	return r.store.UpdateCompetitor(ctx, tenantID, *c)
}

func (r *Registry) CreateSource(ctx context.Context, tenantID string, s models.DataSource) (*models.DataSource, error) {
	if normalized, err := util.NormalizeURL(s.BaseURL); err == nil {
		s.BaseURL = normalized
	}
	s.Active = true
	s.CreatedAt = r.now()
	s.UpdatedAt = s.CreatedAt
	// Due immediately: the first sweep after creation picks it up.
	s.NextDueAt = s.CreatedAt
	if err := r.validate.ValidateStruct(s); err != nil {
		return nil, fmt.Errorf("invalid data source: %w", err)
	}

	if _, err := r.GetCompetitor(ctx, tenantID, s.CompetitorID); err != nil {
		return nil, err
	}

	s.ID = uuid.NewString()
	if _, err := r.store.CreateSource(ctx, tenantID, s); err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}
	slog.Info("Registered data source", "tenant", tenantID, "source", s.ID, "url", s.BaseURL, "cadenceMinutes", s.CadenceMinutes)
	return &s, nil
}

func (r *Registry) GetSource(ctx context.Context, tenantID, id string) (*models.DataSource, error) {
	s, err := r.store.GetSource(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("data source %s: %w", id, models.ErrNotFound)
	}
	return s, nil
}

func (r *Registry) ListSources(ctx context.Context, tenantID string, f SourceFilter) ([]models.DataSource, error) {
	return r.store.ListSources(ctx, tenantID, f)
}

func (r *Registry) UpdateSource(ctx context.Context, tenantID string, s models.DataSource) error {
	existing, err := r.GetSource(ctx, tenantID, s.ID)
	if err != nil {
		return err
	}
	// Scheduling state is advanced only through MarkDiscovered.
	s.LastDiscoveryAt = existing.LastDiscoveryAt
	s.NextDueAt = existing.NextDueAt
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = r.now()
	return r.store.UpdateSource(ctx, tenantID, s)
}

// MarkDiscovered records a discovery attempt and advances the due time.
// Allowed on inactive sources; it does not re-activate them.
func (r *Registry) MarkDiscovered(ctx context.Context, tenantID, sourceID string, cadenceMinutes int) error {
	s, err := r.GetSource(ctx, tenantID, sourceID)
	if err != nil {
		return err
	}
	now := r.now()
	s.LastDiscoveryAt = now
	s.NextDueAt = now.Add(time.Duration(cadenceMinutes) * time.Minute)
	s.UpdatedAt = now
	return r.store.UpdateSource(ctx, tenantID, *s)
}

// SourcesDue returns active sources whose NextDueAt has elapsed, ordered by
// due time ascending, ties broken toward higher priority.
func (r *Registry) SourcesDue(ctx context.Context, tenantID string, limit int) ([]models.DataSource, error) {
	sources, err := r.store.ListSources(ctx, tenantID, SourceFilter{ActiveOnly: true, DueBefore: r.now()})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sources, func(i, j int) bool {
		if !sources[i].NextDueAt.Equal(sources[j].NextDueAt) {
			return sources[i].NextDueAt.Before(sources[j].NextDueAt)
		}
		return sources[i].Priority > sources[j].Priority
	})
	if limit > 0 && len(sources) > limit {
		sources = sources[:limit]
	}
	return sources, nil
}

// QuickSetupParams is the minimal input for registering a competitor plus
// its first menu source in one call.
type QuickSetupParams struct {
	Name           string
	Type           models.CompetitorType
	State          string
	City           string
	MenuURL        string
	SourceType     models.SourceType
	ProfileID      string
	CadenceMinutes int
	PlanID         string
}

// QuickSetup creates a Competitor and its first DataSource from a minimal
// parameter set. When no cadence is given it is derived from the tenant's
// plan tier; this is the only place plan policy reaches the registry.
func (r *Registry) QuickSetup(ctx context.Context, tenantID string, p QuickSetupParams) (*models.Competitor, *models.DataSource, error) {
	cadence := p.CadenceMinutes
	if cadence <= 0 {
		limit, err := r.plans.GetLimits(ctx, p.PlanID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve plan limits: %w", err)
		}
		cadence = limit.FrequencyMinutes
	}

	// A paginated profile never sees the whole menu in one pass, so absence
	// of a product from its batches must not imply a stockout.
	prof, err := r.profiles.Get(p.ProfileID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve parser profile: %w", err)
	}
	fullMenu := prof.Pagination.Kind == "" || prof.Pagination.Kind == profile.PaginationNone

	competitor, err := r.CreateCompetitor(ctx, tenantID, models.Competitor{
		Name:   p.Name,
		Type:   p.Type,
		State:  p.State,
		City:   p.City,
		Domain: util.RootDomain(p.MenuURL),
	})
	if err != nil {
		return nil, nil, err
	}

	source, err := r.CreateSource(ctx, tenantID, models.DataSource{
		CompetitorID:   competitor.ID,
		Kind:           models.SourceKindMenu,
		SourceType:     p.SourceType,
		BaseURL:        p.MenuURL,
		ProfileID:      p.ProfileID,
		CadenceMinutes: cadence,
		FullMenu:       fullMenu,
	})
	if err != nil {
		// Keep setup atomic from the caller's view: roll the competitor back.
		if rollbackErr := r.DeactivateCompetitor(ctx, tenantID, competitor.ID); rollbackErr != nil {
			slog.Warn("Failed to roll back competitor after source creation failure", "competitor", competitor.ID, "error", rollbackErr)
		}
		return nil, nil, err
	}
	return competitor, source, nil
}
