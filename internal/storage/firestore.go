// Package storage is the Firestore document store. One Client implements
// every narrow store interface the other packages declare. All collections
// are tenant-scoped under tenants/{tenant}.
package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ezalhq/radar/internal/differ"
	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/registry"
	"github.com/ezalhq/radar/internal/scheduler"
)

const (
	colCompetitors = "competitors"
	colSources     = "sources"
	colJobs        = "jobs"
	colRuns        = "runs"
	colProducts    = "products"
	colPricePoints = "price_points"
	colInsights    = "insights"
)

type Client struct {
	client *firestore.Client
}

func New(ctx context.Context, projectID string) (*Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) tenant(tenantID string) *firestore.DocumentRef {
	return c.client.Collection("tenants").Doc(tenantID)
}

// --- Competitors ---

func (c *Client) CreateCompetitor(ctx context.Context, tenantID string, comp models.Competitor) (string, error) {
	_, err := c.tenant(tenantID).Collection(colCompetitors).Doc(comp.ID).Create(ctx, comp)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", fmt.Errorf("competitor %s: %w", comp.ID, models.ErrAlreadyExists)
		}
		return "", fmt.Errorf("failed to create competitor: %w", err)
	}
	return comp.ID, nil
}

func (c *Client) GetCompetitor(ctx context.Context, tenantID, id string) (*models.Competitor, error) {
	doc, err := c.tenant(tenantID).Collection(colCompetitors).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get competitor %s: %w", id, err)
	}
	var comp models.Competitor
	if err := doc.DataTo(&comp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal competitor %s: %w", id, err)
	}
	comp.ID = doc.Ref.ID
	return &comp, nil
}

func (c *Client) ListCompetitors(ctx context.Context, tenantID string, f registry.CompetitorFilter) ([]models.Competitor, error) {
	q := c.tenant(tenantID).Collection(colCompetitors).Query
	if f.ActiveOnly {
		q = q.Where("active", "==", true)
	}
	if f.State != "" {
		q = q.Where("state", "==", f.State)
	}
	if f.Brand != "" {
		q = q.Where("brandFocus", "array-contains", f.Brand)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.Competitor
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate competitors: %w", err)
		}
		var comp models.Competitor
		if err := doc.DataTo(&comp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal competitor %s: %w", doc.Ref.ID, err)
		}
		comp.ID = doc.Ref.ID
		out = append(out, comp)
	}
	return out, nil
}

func (c *Client) UpdateCompetitor(ctx context.Context, tenantID string, comp models.Competitor) error {
	_, err := c.tenant(tenantID).Collection(colCompetitors).Doc(comp.ID).Set(ctx, comp)
	if err != nil {
		return fmt.Errorf("failed to update competitor %s: %w", comp.ID, err)
	}
	return nil
}

// --- Data sources ---

func (c *Client) CreateSource(ctx context.Context, tenantID string, s models.DataSource) (string, error) {
	_, err := c.tenant(tenantID).Collection(colSources).Doc(s.ID).Create(ctx, s)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", fmt.Errorf("source %s: %w", s.ID, models.ErrAlreadyExists)
		}
		return "", fmt.Errorf("failed to create source: %w", err)
	}
	return s.ID, nil
}

func (c *Client) GetSource(ctx context.Context, tenantID, id string) (*models.DataSource, error) {
	doc, err := c.tenant(tenantID).Collection(colSources).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	var s models.DataSource
	if err := doc.DataTo(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source %s: %w", id, err)
	}
	s.ID = doc.Ref.ID
	return &s, nil
}

func (c *Client) ListSources(ctx context.Context, tenantID string, f registry.SourceFilter) ([]models.DataSource, error) {
	q := c.tenant(tenantID).Collection(colSources).Query
	if f.CompetitorID != "" {
		q = q.Where("competitorId", "==", f.CompetitorID)
	}
	if f.ActiveOnly {
		q = q.Where("active", "==", true)
	}
	if !f.DueBefore.IsZero() {
		q = q.Where("nextDueAt", "<=", f.DueBefore)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.DataSource
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate sources: %w", err)
		}
		var s models.DataSource
		if err := doc.DataTo(&s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source %s: %w", doc.Ref.ID, err)
		}
		s.ID = doc.Ref.ID
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) UpdateSource(ctx context.Context, tenantID string, s models.DataSource) error {
	_, err := c.tenant(tenantID).Collection(colSources).Doc(s.ID).Set(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", s.ID, err)
	}
	return nil
}

// --- Discovery jobs ---

func (c *Client) CreateJob(ctx context.Context, tenantID string, job models.DiscoveryJob) (string, error) {
	_, err := c.tenant(tenantID).Collection(colJobs).Doc(job.ID).Create(ctx, job)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", fmt.Errorf("job %s: %w", job.ID, models.ErrAlreadyExists)
		}
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return job.ID, nil
}

func (c *Client) GetJob(ctx context.Context, tenantID, id string) (*models.DiscoveryJob, error) {
	doc, err := c.tenant(tenantID).Collection(colJobs).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	var job models.DiscoveryJob
	if err := doc.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	job.ID = doc.Ref.ID
	return &job, nil
}

func (c *Client) UpdateJob(ctx context.Context, tenantID string, job models.DiscoveryJob) error {
	_, err := c.tenant(tenantID).Collection(colJobs).Doc(job.ID).Set(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

func (c *Client) ListJobs(ctx context.Context, tenantID string, f scheduler.JobFilter) ([]models.DiscoveryJob, error) {
	q := c.tenant(tenantID).Collection(colJobs).Query
	if f.Status != "" {
		q = q.Where("status", "==", string(f.Status))
	}
	if f.SourceID != "" {
		q = q.Where("sourceId", "==", f.SourceID)
	}
	if f.CompetitorID != "" {
		q = q.Where("competitorId", "==", f.CompetitorID)
	}
	q = q.OrderBy("createdAt", firestore.Asc)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.DiscoveryJob
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate jobs: %w", err)
		}
		var job models.DiscoveryJob
		if err := doc.DataTo(&job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s: %w", doc.Ref.ID, err)
		}
		job.ID = doc.Ref.ID
		out = append(out, job)
	}
	return out, nil
}

// --- Discovery runs ---

func (c *Client) CreateRun(ctx context.Context, tenantID string, run models.DiscoveryRun) (string, error) {
	_, err := c.tenant(tenantID).Collection(colRuns).Doc(run.ID).Create(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return run.ID, nil
}

func (c *Client) UpdateRun(ctx context.Context, tenantID string, run models.DiscoveryRun) error {
	_, err := c.tenant(tenantID).Collection(colRuns).Doc(run.ID).Set(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	return nil
}

func (c *Client) LastSuccessfulRun(ctx context.Context, tenantID, sourceID string) (*models.DiscoveryRun, error) {
	iter := c.tenant(tenantID).Collection(colRuns).
		Where("sourceId", "==", sourceID).
		Where("status", "==", string(models.RunSuccess)).
		OrderBy("startedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last run for source %s: %w", sourceID, err)
	}
	var run models.DiscoveryRun
	if err := doc.DataTo(&run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", doc.Ref.ID, err)
	}
	run.ID = doc.Ref.ID
	return &run, nil
}

// --- Competitive products ---

func (c *Client) GetProduct(ctx context.Context, tenantID, id string) (*models.CompetitiveProduct, error) {
	doc, err := c.tenant(tenantID).Collection(colProducts).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	var p models.CompetitiveProduct
	if err := doc.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product %s: %w", id, err)
	}
	p.ID = doc.Ref.ID
	return &p, nil
}

func (c *Client) ListProductsByCompetitor(ctx context.Context, tenantID, competitorID string) ([]models.CompetitiveProduct, error) {
	iter := c.tenant(tenantID).Collection(colProducts).
		Where("competitorId", "==", competitorID).
		Documents(ctx)
	defer iter.Stop()

	var out []models.CompetitiveProduct
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate products: %w", err)
		}
		var p models.CompetitiveProduct
		if err := doc.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal product %s: %w", doc.Ref.ID, err)
		}
		p.ID = doc.Ref.ID
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) UpsertProduct(ctx context.Context, tenantID string, p models.CompetitiveProduct) error {
	_, err := c.tenant(tenantID).Collection(colProducts).Doc(p.ID).Set(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (c *Client) AppendPricePoint(ctx context.Context, tenantID, productID string, pp models.PricePoint) error {
	_, _, err := c.tenant(tenantID).Collection(colProducts).Doc(productID).
		Collection(colPricePoints).Add(ctx, pp)
	if err != nil {
		return fmt.Errorf("failed to append price point for %s: %w", productID, err)
	}
	return nil
}

func (c *Client) ListPricePoints(ctx context.Context, tenantID, productID string, limit int) ([]models.PricePoint, error) {
	q := c.tenant(tenantID).Collection(colProducts).Doc(productID).
		Collection(colPricePoints).
		OrderBy("capturedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.PricePoint
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate price points: %w", err)
		}
		var pp models.PricePoint
		if err := doc.DataTo(&pp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price point: %w", err)
		}
		out = append(out, pp)
	}
	return out, nil
}

// --- Insights ---

func (c *Client) CreateInsight(ctx context.Context, tenantID string, in models.Insight) (string, error) {
	_, err := c.tenant(tenantID).Collection(colInsights).Doc(in.ID).Create(ctx, in)
	if err != nil {
		return "", fmt.Errorf("failed to create insight: %w", err)
	}
	return in.ID, nil
}

func (c *Client) ListInsights(ctx context.Context, tenantID string, f differ.InsightFilter) ([]models.Insight, error) {
	q := c.tenant(tenantID).Collection(colInsights).Query
	if f.CompetitorID != "" {
		q = q.Where("competitorId", "==", f.CompetitorID)
	}
	if f.Brand != "" {
		q = q.Where("brand", "==", f.Brand)
	}
	if f.Type != "" {
		q = q.Where("type", "==", string(f.Type))
	}
	if !f.IncludeDismissed {
		q = q.Where("dismissed", "==", false)
	}
	q = q.OrderBy("createdAt", firestore.Desc)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.Insight
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate insights: %w", err)
		}
		var in models.Insight
		if err := doc.DataTo(&in); err != nil {
			return nil, fmt.Errorf("failed to unmarshal insight %s: %w", doc.Ref.ID, err)
		}
		in.ID = doc.Ref.ID
		out = append(out, in)
	}
	return out, nil
}

// DismissInsight flags an insight so default listings hide it. The record
// itself stays.
func (c *Client) DismissInsight(ctx context.Context, tenantID, id string) error {
	_, err := c.tenant(tenantID).Collection(colInsights).Doc(id).Update(ctx, []firestore.Update{
		{Path: "dismissed", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("insight %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to dismiss insight %s: %w", id, err)
	}
	return nil
}
