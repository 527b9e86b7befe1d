// Package engine is the orchestrator: the single public surface callers use.
// Every method returns a serializable result struct carrying Success and
// Error; failures never cross this boundary as Go errors or panics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ezalhq/radar/internal/differ"
	"github.com/ezalhq/radar/internal/fetcher"
	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/registry"
	"github.com/ezalhq/radar/internal/scheduler"
)

type Engine struct {
	registry   *registry.Registry
	discoverer *fetcher.Discoverer
	scheduler  *scheduler.Scheduler
	differ     *differ.Differ
}

func New(reg *registry.Registry, disc *fetcher.Discoverer, sched *scheduler.Scheduler, diff *differ.Differ) *Engine {
	return &Engine{
		registry:   reg,
		discoverer: disc,
		scheduler:  sched,
		differ:     diff,
	}
}

// recoverTo converts a panic into a failed result. Orchestrator callers are
// HTTP handlers and cron entrypoints; neither can usefully handle a panic.
func recoverTo(success *bool, errStr *string) {
	if r := recover(); r != nil {
		slog.Error("Recovered panic in orchestrator", "panic", r)
		*success = false
		*errStr = fmt.Sprintf("internal error: %v", r)
	}
}

// CompetitorSummary is the outward projection of a competitor. Tenant and
// timestamp bookkeeping stays behind the boundary.
type CompetitorSummary struct {
	ID     string                `json:"id"`
	Name   string                `json:"name"`
	Type   models.CompetitorType `json:"type"`
	State  string                `json:"state,omitempty"`
	City   string                `json:"city,omitempty"`
	Domain string                `json:"domain,omitempty"`
	Active bool                  `json:"active"`
}

func summarizeCompetitor(c models.Competitor) CompetitorSummary {
	return CompetitorSummary{
		ID:     c.ID,
		Name:   c.Name,
		Type:   c.Type,
		State:  c.State,
		City:   c.City,
		Domain: c.Domain,
		Active: c.Active,
	}
}

// SourceSummary is the outward projection of a data source, without the
// scheduling fields the discoverer maintains.
type SourceSummary struct {
	ID             string            `json:"id"`
	CompetitorID   string            `json:"competitorId"`
	Kind           models.SourceKind `json:"kind"`
	SourceType     models.SourceType `json:"sourceType"`
	BaseURL        string            `json:"baseUrl"`
	ProfileID      string            `json:"profileId"`
	CadenceMinutes int               `json:"cadenceMinutes"`
	FullMenu       bool              `json:"fullMenu"`
	Active         bool              `json:"active"`
}

func summarizeSource(s models.DataSource) SourceSummary {
	return SourceSummary{
		ID:             s.ID,
		CompetitorID:   s.CompetitorID,
		Kind:           s.Kind,
		SourceType:     s.SourceType,
		BaseURL:        s.BaseURL,
		ProfileID:      s.ProfileID,
		CadenceMinutes: s.CadenceMinutes,
		FullMenu:       s.FullMenu,
		Active:         s.Active,
	}
}

// InsightSummary is the outward projection of an insight, without the
// dismissal flag the review workflow maintains.
type InsightSummary struct {
	ID            string             `json:"id"`
	Type          models.InsightType `json:"type"`
	CompetitorID  string             `json:"competitorId"`
	Brand         string             `json:"brand,omitempty"`
	ProductID     string             `json:"productId,omitempty"`
	ProductName   string             `json:"productName,omitempty"`
	PreviousValue float64            `json:"previousValue,omitempty"`
	CurrentValue  float64            `json:"currentValue,omitempty"`
	DeltaPercent  float64            `json:"deltaPercent,omitempty"`
	Severity      models.Severity    `json:"severity"`
	CreatedAt     time.Time          `json:"createdAt"`
}

func summarizeInsight(in models.Insight) InsightSummary {
	return InsightSummary{
		ID:            in.ID,
		Type:          in.Type,
		CompetitorID:  in.CompetitorID,
		Brand:         in.Brand,
		ProductID:     in.ProductID,
		ProductName:   in.ProductName,
		PreviousValue: in.PreviousValue,
		CurrentValue:  in.CurrentValue,
		DeltaPercent:  in.DeltaPercent,
		Severity:      in.Severity,
		CreatedAt:     in.CreatedAt,
	}
}

// TrackResult reports a TrackCompetitor call.
type TrackResult struct {
	Success    bool               `json:"success"`
	Error      string             `json:"error,omitempty"`
	Competitor *CompetitorSummary `json:"competitor,omitempty"`
	Source     *SourceSummary     `json:"source,omitempty"`
}

// TrackCompetitor registers a competitor and its first menu source in one
// call, deriving scan cadence from the tenant's plan when none is given.
func (e *Engine) TrackCompetitor(ctx context.Context, tenantID string, p registry.QuickSetupParams) (res TrackResult) {
	defer recoverTo(&res.Success, &res.Error)

	competitor, source, err := e.registry.QuickSetup(ctx, tenantID, p)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	cs := summarizeCompetitor(*competitor)
	ss := summarizeSource(*source)
	res.Competitor = &cs
	res.Source = &ss
	return res
}

// CompetitorsResult reports a FindCompetitors call.
type CompetitorsResult struct {
	Success     bool                `json:"success"`
	Error       string              `json:"error,omitempty"`
	Competitors []CompetitorSummary `json:"competitors"`
}

func (e *Engine) FindCompetitors(ctx context.Context, tenantID string, f registry.CompetitorFilter) (res CompetitorsResult) {
	defer recoverTo(&res.Success, &res.Error)

	competitors, err := e.registry.ListCompetitors(ctx, tenantID, f)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Competitors = make([]CompetitorSummary, 0, len(competitors))
	for _, c := range competitors {
		res.Competitors = append(res.Competitors, summarizeCompetitor(c))
	}
	return res
}

// InsightsResult reports a GetInsights call.
type InsightsResult struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Insights []InsightSummary `json:"insights"`
}

func (e *Engine) GetInsights(ctx context.Context, tenantID string, f differ.InsightFilter) (res InsightsResult) {
	defer recoverTo(&res.Success, &res.Error)

	insights, err := e.differ.RecentInsights(ctx, tenantID, f)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Insights = make([]InsightSummary, 0, len(insights))
	for _, in := range insights {
		res.Insights = append(res.Insights, summarizeInsight(in))
	}
	return res
}

// GapsResult reports a FindPriceGaps call.
type GapsResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Gaps    []differ.PriceGap `json:"gaps"`
}

func (e *Engine) FindPriceGaps(ctx context.Context, tenantID string, opts differ.GapOptions) (res GapsResult) {
	defer recoverTo(&res.Success, &res.Error)

	gaps, err := e.differ.FindPriceGaps(ctx, tenantID, opts)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Gaps = gaps
	return res
}

// DiscoverResult reports a DiscoverNow call.
type DiscoverResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// DiscoverNow runs one immediate discovery for a source, bypassing the
// queue. The job record is created either way so the attempt is auditable.
func (e *Engine) DiscoverNow(ctx context.Context, tenantID, sourceID string) (res DiscoverResult) {
	defer recoverTo(&res.Success, &res.Error)

	jobID, err := e.discoverer.DiscoverNow(ctx, tenantID, sourceID)
	res.JobID = jobID
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

// ScheduleResult reports a RunScheduler call.
type ScheduleResult struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Queued    int      `json:"queued"`
	SourceIDs []string `json:"sourceIds,omitempty"`
}

func (e *Engine) RunScheduler(ctx context.Context, tenantID string) (res ScheduleResult) {
	defer recoverTo(&res.Success, &res.Error)

	sweep, err := e.scheduler.RunScheduler(ctx, tenantID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Queued = sweep.Queued
	res.SourceIDs = sweep.SourceIDs
	return res
}

// HistoryResult reports a GetPriceHistory call.
type HistoryResult struct {
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Points  []models.PricePoint `json:"points"`
}

func (e *Engine) GetPriceHistory(ctx context.Context, tenantID, productID string, limit int) (res HistoryResult) {
	defer recoverTo(&res.Success, &res.Error)

	points, err := e.differ.PriceHistory(ctx, tenantID, productID, limit)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Points = points
	return res
}
