package engine

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ezalhq/radar/internal/differ"
	"github.com/ezalhq/radar/internal/fetcher"
	"github.com/ezalhq/radar/internal/models"
	"github.com/ezalhq/radar/internal/parser"
	"github.com/ezalhq/radar/internal/profile"
	"github.com/ezalhq/radar/internal/registry"
	"github.com/ezalhq/radar/internal/scheduler"
)

// memStore is a single in-memory document store implementing every narrow
// store interface the pipeline consumes.
type memStore struct {
	mu          sync.Mutex
	competitors map[string]models.Competitor
	sources     map[string]models.DataSource
	jobs        map[string]models.DiscoveryJob
	jobOrder    []string
	runs        map[string]models.DiscoveryRun
	products    map[string]models.CompetitiveProduct
	pricePoints map[string][]models.PricePoint
	insights    []models.Insight
}

func newMemStore() *memStore {
	return &memStore{
		competitors: make(map[string]models.Competitor),
		sources:     make(map[string]models.DataSource),
		jobs:        make(map[string]models.DiscoveryJob),
		runs:        make(map[string]models.DiscoveryRun),
		products:    make(map[string]models.CompetitiveProduct),
		pricePoints: make(map[string][]models.PricePoint),
	}
}

func (m *memStore) CreateCompetitor(_ context.Context, _ string, c models.Competitor) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.competitors[c.ID] = c
	return c.ID, nil
}

func (m *memStore) GetCompetitor(_ context.Context, _, id string) (*models.Competitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.competitors[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) ListCompetitors(_ context.Context, _ string, f registry.CompetitorFilter) ([]models.Competitor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Competitor
	for _, c := range m.competitors {
		if f.ActiveOnly && !c.Active {
			continue
		}
		if f.State != "" && c.State != f.State {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) UpdateCompetitor(_ context.Context, _ string, c models.Competitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.competitors[c.ID]; !ok {
		return models.ErrNotFound
	}
	m.competitors[c.ID] = c
	return nil
}

func (m *memStore) CreateSource(_ context.Context, _ string, s models.DataSource) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[s.ID] = s
	return s.ID, nil
}

func (m *memStore) GetSource(_ context.Context, _, id string) (*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) ListSources(_ context.Context, _ string, f registry.SourceFilter) ([]models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DataSource
	for _, s := range m.sources {
		if f.ActiveOnly && !s.Active {
			continue
		}
		if f.CompetitorID != "" && s.CompetitorID != f.CompetitorID {
			continue
		}
		if !f.DueBefore.IsZero() && s.NextDueAt.After(f.DueBefore) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) UpdateSource(_ context.Context, _ string, s models.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[s.ID]; !ok {
		return models.ErrNotFound
	}
	m.sources[s.ID] = s
	return nil
}

func (m *memStore) CreateJob(_ context.Context, _ string, job models.DiscoveryJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	m.jobOrder = append(m.jobOrder, job.ID)
	return job.ID, nil
}

func (m *memStore) GetJob(_ context.Context, _, id string) (*models.DiscoveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (m *memStore) UpdateJob(_ context.Context, _ string, job models.DiscoveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return models.ErrNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) ListJobs(_ context.Context, _ string, f scheduler.JobFilter) ([]models.DiscoveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DiscoveryJob
	for _, id := range m.jobOrder {
		job := m.jobs[id]
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.SourceID != "" && job.SourceID != f.SourceID {
			continue
		}
		out = append(out, job)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) CreateRun(_ context.Context, _ string, run models.DiscoveryRun) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run.ID, nil
}

func (m *memStore) UpdateRun(_ context.Context, _ string, run models.DiscoveryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return models.ErrNotFound
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) LastSuccessfulRun(_ context.Context, _, sourceID string) (*models.DiscoveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.DiscoveryRun
	for id := range m.runs {
		run := m.runs[id]
		if run.SourceID != sourceID || run.Status != models.RunSuccess {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = &run
		}
	}
	return latest, nil
}

func (m *memStore) GetProduct(_ context.Context, _, id string) (*models.CompetitiveProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) ListProductsByCompetitor(_ context.Context, _, competitorID string) ([]models.CompetitiveProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CompetitiveProduct
	for _, p := range m.products {
		if p.CompetitorID == competitorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) UpsertProduct(_ context.Context, _ string, p models.CompetitiveProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *memStore) AppendPricePoint(_ context.Context, _, productID string, pp models.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pricePoints[productID] = append(m.pricePoints[productID], pp)
	return nil
}

func (m *memStore) ListPricePoints(_ context.Context, _, productID string, limit int) ([]models.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := m.pricePoints[productID]
	out := make([]models.PricePoint, len(points))
	copy(out, points)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateInsight(_ context.Context, _ string, in models.Insight) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, in)
	return in.ID, nil
}

func (m *memStore) ListInsights(_ context.Context, _ string, f differ.InsightFilter) ([]models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Insight
	for i := len(m.insights) - 1; i >= 0; i-- {
		in := m.insights[i]
		if f.Type != "" && in.Type != f.Type {
			continue
		}
		if f.CompetitorID != "" && in.CompetitorID != f.CompetitorID {
			continue
		}
		if !f.IncludeDismissed && in.Dismissed {
			continue
		}
		out = append(out, in)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func menuPage(cards ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for _, c := range cards {
		b.WriteString(c)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func productCard(name, brand, price string) string {
	return `<div data-testid="product-card">
		<span class="product-card__brand">` + brand + `</span>
		<span class="product-card__name">` + name + `</span>
		<span class="product-card__size">3.5g</span>
		<span class="product-card__category">Flower</span>
		<span class="product-card__price">` + price + `</span>
	</div>`
}

type testHarness struct {
	engine    *Engine
	store     *memStore
	page      *string
	serverURL string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	store := newMemStore()
	page := menuPage()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(server.Close)

	profiles, err := profile.LoadRegistry()
	if err != nil {
		t.Fatalf("Failed to load profiles: %v", err)
	}
	reg := registry.New(store, registry.DefaultPlanLimits(), profiles)
	diff := differ.New(store, store, differ.DefaultSeverityTable())
	proc := NewPipelineProcessor(parser.NewEngine(profiles), diff)
	f := fetcher.New(fetcher.Options{UserAgent: "RadarTest/1.0", PerOriginRPS: 1000})
	disc := fetcher.NewDiscoverer(f, store, store, reg, proc)
	sched := scheduler.New(reg, store, 20)

	h := &testHarness{
		engine: New(reg, disc, sched, diff),
		store:  store,
		page:   &page,
	}
	h.serverURL = server.URL
	return h
}

func (h *testHarness) setPage(html string) {
	*h.page = html
}

func (h *testHarness) track(t *testing.T, menuURL string) (string, string) {
	t.Helper()
	res := h.engine.TrackCompetitor(context.Background(), "tenant-1", registry.QuickSetupParams{
		Name:       "Green Door",
		Type:       models.CompetitorDispensary,
		State:      "CA",
		City:       "Oakland",
		MenuURL:    menuURL,
		SourceType: models.SourceHTML,
		ProfileID:  "dutchie_menu_v1",
		PlanID:     "pro",
	})
	if !res.Success {
		t.Fatalf("TrackCompetitor failed: %s", res.Error)
	}
	return res.Competitor.ID, res.Source.ID
}

func TestTrackThenDiscoverPipeline(t *testing.T) {
	h := newHarness(t)
	h.setPage(menuPage(
		productCard("Blue Dream", "High Garden", "$45.00"),
		productCard("OG Kush", "High Garden", "$50.00"),
	))
	competitorID, sourceID := h.track(t, h.serverURL+"/menu")
	ctx := context.Background()

	res := h.engine.DiscoverNow(ctx, "tenant-1", sourceID)
	if !res.Success {
		t.Fatalf("DiscoverNow failed: %s", res.Error)
	}
	job := h.store.jobs[res.JobID]
	if job.Status != models.JobDone {
		t.Errorf("Expected job done, got %s (%s)", job.Status, job.Error)
	}
	if len(h.store.products) != 2 {
		t.Errorf("Expected 2 products stored, got %d", len(h.store.products))
	}

	insights := h.engine.GetInsights(ctx, "tenant-1", differ.InsightFilter{CompetitorID: competitorID})
	if !insights.Success {
		t.Fatalf("GetInsights failed: %s", insights.Error)
	}
	if len(insights.Insights) != 2 {
		t.Fatalf("Expected 2 new_product insights, got %d", len(insights.Insights))
	}
	for _, in := range insights.Insights {
		if in.Type != models.InsightNewProduct {
			t.Errorf("Expected new_product, got %s", in.Type)
		}
	}
}

func TestPriceDropAcrossDiscoveries(t *testing.T) {
	h := newHarness(t)
	h.setPage(menuPage(productCard("Blue Dream", "High Garden", "$45.00")))
	competitorID, sourceID := h.track(t, h.serverURL+"/menu")
	ctx := context.Background()

	if res := h.engine.DiscoverNow(ctx, "tenant-1", sourceID); !res.Success {
		t.Fatalf("First discovery failed: %s", res.Error)
	}
	h.setPage(menuPage(productCard("Blue Dream", "High Garden", "$40.00")))
	if res := h.engine.DiscoverNow(ctx, "tenant-1", sourceID); !res.Success {
		t.Fatalf("Second discovery failed: %s", res.Error)
	}

	drops := h.engine.GetInsights(ctx, "tenant-1", differ.InsightFilter{
		CompetitorID: competitorID,
		Type:         models.InsightPriceDrop,
	})
	if !drops.Success || len(drops.Insights) != 1 {
		t.Fatalf("Expected exactly 1 price_drop, got %d (err %q)", len(drops.Insights), drops.Error)
	}
	drop := drops.Insights[0]
	if math.Abs(drop.DeltaPercent-(-100.0/9)) > 0.01 {
		t.Errorf("Expected delta about -11.11%%, got %.3f", drop.DeltaPercent)
	}

	id := models.ProductKey(competitorID, "High Garden", "Blue Dream", "3.5g")
	history := h.engine.GetPriceHistory(ctx, "tenant-1", id, 10)
	if !history.Success || len(history.Points) != 2 {
		t.Fatalf("Expected 2 price points, got %d", len(history.Points))
	}
	if history.Points[0].Price != 40 {
		t.Errorf("Expected newest point 40, got %v", history.Points[0].Price)
	}
}

func TestUnchangedContentSkipsReprocessing(t *testing.T) {
	h := newHarness(t)
	h.setPage(menuPage(productCard("Blue Dream", "High Garden", "$45.00")))
	competitorID, sourceID := h.track(t, h.serverURL+"/menu")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res := h.engine.DiscoverNow(ctx, "tenant-1", sourceID); !res.Success {
			t.Fatalf("Discovery %d failed: %s", i, res.Error)
		}
	}

	insights := h.engine.GetInsights(ctx, "tenant-1", differ.InsightFilter{CompetitorID: competitorID})
	if len(insights.Insights) != 1 {
		t.Errorf("Identical content must not re-emit insights, got %d", len(insights.Insights))
	}
}

func TestRunSchedulerQueuesDueSource(t *testing.T) {
	h := newHarness(t)
	h.setPage(menuPage(productCard("Blue Dream", "High Garden", "$45.00")))
	_, sourceID := h.track(t, h.serverURL+"/menu")

	res := h.engine.RunScheduler(context.Background(), "tenant-1")
	if !res.Success {
		t.Fatalf("RunScheduler failed: %s", res.Error)
	}
	if res.Queued != 1 || res.SourceIDs[0] != sourceID {
		t.Errorf("Expected the new source queued, got %+v", res)
	}
}

func TestFindPriceGapsThroughEngine(t *testing.T) {
	h := newHarness(t)
	h.setPage(menuPage(productCard("Blue Dream", "High Garden", "$40.00")))
	competitorID, sourceID := h.track(t, h.serverURL+"/menu")
	ctx := context.Background()

	if res := h.engine.DiscoverNow(ctx, "tenant-1", sourceID); !res.Success {
		t.Fatalf("Discovery failed: %s", res.Error)
	}

	gaps := h.engine.FindPriceGaps(ctx, "tenant-1", differ.GapOptions{
		CompetitorID: competitorID,
		OurPrices: map[string]float64{
			differ.OwnPriceKey("High Garden", "Blue Dream", "3.5g"): 45.00,
		},
	})
	if !gaps.Success || len(gaps.Gaps) != 1 {
		t.Fatalf("Expected 1 gap, got %d (err %q)", len(gaps.Gaps), gaps.Error)
	}
	if gaps.Gaps[0].GapAbsolute != 5 {
		t.Errorf("Expected +5 gap, got %v", gaps.Gaps[0].GapAbsolute)
	}
}

func TestTrackCompetitorValidationFailure(t *testing.T) {
	h := newHarness(t)
	res := h.engine.TrackCompetitor(context.Background(), "tenant-1", registry.QuickSetupParams{
		Name: "", MenuURL: "not a url",
	})
	if res.Success {
		t.Error("Expected validation failure")
	}
	if res.Error == "" {
		t.Error("Expected error message in result")
	}
}

func TestTrackResultProjectsSummaries(t *testing.T) {
	h := newHarness(t)

	res := h.engine.TrackCompetitor(context.Background(), "tenant-1", registry.QuickSetupParams{
		Name:       "Green Door",
		Type:       models.CompetitorDispensary,
		State:      "CA",
		City:       "Oakland",
		MenuURL:    h.serverURL + "/menu",
		SourceType: models.SourceHTML,
		ProfileID:  "dutchie_menu_v1",
		PlanID:     "pro",
	})
	if !res.Success {
		t.Fatalf("TrackCompetitor failed: %s", res.Error)
	}
	if res.Competitor.ID == "" || res.Source.ID == "" {
		t.Fatal("Summaries must carry the created ids")
	}
	if res.Source.CadenceMinutes <= 0 {
		t.Error("Summary should expose the resolved cadence")
	}

	// The wire shape is a summary, not the stored entity: tenant and
	// scheduling bookkeeping must not leak through the boundary.
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, field := range []string{"tenantId", "nextDueAt", "lastDiscoveryAt", "robotsAllowed", "priority", "createdAt", "updatedAt"} {
		if strings.Contains(string(raw), field) {
			t.Errorf("Result JSON leaks internal field %q", field)
		}
	}
}

func TestRecoverToConvertsPanic(t *testing.T) {
	// A nil differ panics inside the call; the boundary must absorb it.
	e := New(nil, nil, nil, nil)
	res := e.GetInsights(context.Background(), "tenant-1", differ.InsightFilter{})
	if res.Success {
		t.Error("Expected panic to surface as failed result")
	}
	if !strings.Contains(res.Error, "internal error") {
		t.Errorf("Expected internal error message, got %q", res.Error)
	}
}
