package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ezalhq/radar/internal/models"
)

// --- Mocks ---

type mockJobStore struct {
	jobs map[string]*models.DiscoveryJob
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]*models.DiscoveryJob)}
}

func (m *mockJobStore) GetJob(_ context.Context, _ string, id string) (*models.DiscoveryJob, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	copy := *j
	return &copy, nil
}

func (m *mockJobStore) CreateJob(_ context.Context, _ string, job models.DiscoveryJob) (string, error) {
	copy := job
	m.jobs[job.ID] = &copy
	return job.ID, nil
}

func (m *mockJobStore) UpdateJob(_ context.Context, _ string, job models.DiscoveryJob) error {
	copy := job
	m.jobs[job.ID] = &copy
	return nil
}

type mockRunStore struct {
	runs           map[string]*models.DiscoveryRun
	lastRun        *models.DiscoveryRun
	created        int
	updateFailures int
	updateCalls    int
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{runs: make(map[string]*models.DiscoveryRun)}
}

func (m *mockRunStore) CreateRun(_ context.Context, _ string, run models.DiscoveryRun) (string, error) {
	m.created++
	copy := run
	m.runs[run.ID] = &copy
	return run.ID, nil
}

func (m *mockRunStore) UpdateRun(_ context.Context, _ string, run models.DiscoveryRun) error {
	m.updateCalls++
	if m.updateFailures > 0 {
		m.updateFailures--
		return errors.New("transient store error")
	}
	copy := run
	m.runs[run.ID] = &copy
	return nil
}

func (m *mockRunStore) LastSuccessfulRun(_ context.Context, _ string, _ string) (*models.DiscoveryRun, error) {
	return m.lastRun, nil
}

type mockSourceRegistry struct {
	sources    map[string]*models.DataSource
	discovered []string
}

func newMockSourceRegistry() *mockSourceRegistry {
	return &mockSourceRegistry{sources: make(map[string]*models.DataSource)}
}

func (m *mockSourceRegistry) GetSource(_ context.Context, _ string, id string) (*models.DataSource, error) {
	s, ok := m.sources[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copy := *s
	return &copy, nil
}

func (m *mockSourceRegistry) MarkDiscovered(_ context.Context, _ string, sourceID string, cadenceMinutes int) error {
	m.discovered = append(m.discovered, sourceID)
	s := m.sources[sourceID]
	s.LastDiscoveryAt = time.Now()
	s.NextDueAt = s.LastDiscoveryAt.Add(time.Duration(cadenceMinutes) * time.Minute)
	return nil
}

type mockProcessor struct {
	stats ProcessStats
	err   error
	calls int
}

func (m *mockProcessor) Process(_ context.Context, _ string, _ models.DataSource, _ []byte) (ProcessStats, error) {
	m.calls++
	return m.stats, m.err
}

// --- Helpers ---

type discoveryFixture struct {
	jobs      *mockJobStore
	runs      *mockRunStore
	sources   *mockSourceRegistry
	processor *mockProcessor
	d         *Discoverer
}

func newFixture(t *testing.T, baseURL string) *discoveryFixture {
	t.Helper()
	jobs := newMockJobStore()
	runs := newMockRunStore()
	sources := newMockSourceRegistry()
	processor := &mockProcessor{stats: ProcessStats{Found: 3, New: 1, Changed: 1}}

	sources.sources["src-1"] = &models.DataSource{
		ID:             "src-1",
		CompetitorID:   "comp-1",
		SourceType:     models.SourceHTML,
		BaseURL:        baseURL,
		ProfileID:      "generic_menu_v1",
		CadenceMinutes: 60,
		Active:         true,
		NextDueAt:      time.Now().Add(-time.Hour),
	}
	jobs.jobs["job-1"] = &models.DiscoveryJob{
		ID:           "job-1",
		SourceID:     "src-1",
		CompetitorID: "comp-1",
		Status:       models.JobQueued,
		CreatedBy:    "scheduler",
	}

	f := New(Options{PerOriginRPS: 1000, FetchTimeout: 5 * time.Second})
	return &discoveryFixture{
		jobs:      jobs,
		runs:      runs,
		sources:   sources,
		processor: processor,
		d:         NewDiscoverer(f, jobs, runs, sources, processor),
	}
}

// --- Tests ---

func TestExecuteDiscovery_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")
	before := fx.sources.sources["src-1"].NextDueAt

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err != nil {
		t.Fatalf("ExecuteDiscovery() error = %v", err)
	}

	job := fx.jobs.jobs["job-1"]
	if job.Status != models.JobDone {
		t.Errorf("Job status = %s, want done", job.Status)
	}
	if job.RunID == "" {
		t.Error("Job should reference its run")
	}

	run := fx.runs.runs[job.RunID]
	if run == nil {
		t.Fatal("Run not persisted")
	}
	if run.Status != models.RunSuccess {
		t.Errorf("Run status = %s, want success", run.Status)
	}
	if run.HTTPStatus != http.StatusOK || run.ContentHash == "" || run.SnapshotPath == "" {
		t.Errorf("Run metrics incomplete: %+v", run)
	}
	if run.ProductsFound != 3 || run.ProductsNew != 1 || run.ProductsChanged != 1 {
		t.Errorf("Run counts = %d/%d/%d", run.ProductsFound, run.ProductsNew, run.ProductsChanged)
	}

	src := fx.sources.sources["src-1"]
	if !src.NextDueAt.After(before) {
		t.Error("Due time should advance on success")
	}
	if !src.NextDueAt.After(src.LastDiscoveryAt) {
		t.Error("NextDueAt should be after LastDiscoveryAt")
	}
	if gap := src.NextDueAt.Sub(src.LastDiscoveryAt); gap != 60*time.Minute {
		t.Errorf("Cadence gap = %v, want 60m", gap)
	}
}

func TestExecuteDiscovery_FetchFailureDoesNotAdvanceDueTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")
	before := fx.sources.sources["src-1"].NextDueAt

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err == nil {
		t.Fatal("Expected error for 503 fetch")
	}

	if got := fx.jobs.jobs["job-1"].Status; got != models.JobError {
		t.Errorf("Job status = %s, want error", got)
	}
	if len(fx.sources.discovered) != 0 {
		t.Error("MarkDiscovered must not be called on failure")
	}
	if !fx.sources.sources["src-1"].NextDueAt.Equal(before) {
		t.Error("NextDueAt changed after a failed attempt")
	}
	if fx.processor.calls != 0 {
		t.Error("Processor must not run on fetch failure")
	}

	var run *models.DiscoveryRun
	for _, r := range fx.runs.runs {
		run = r
	}
	if run == nil || run.Status != models.RunError || run.Error == "" {
		t.Errorf("Run should be marked error with a message: %+v", run)
	}
}

func TestExecuteDiscovery_RobotsDisallowShortCircuits(t *testing.T) {
	var pageFetched atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /"))
			return
		}
		pageFetched.Store(true)
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")

	err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1")
	if !errors.Is(err, ErrRobotsDisallowed) {
		t.Fatalf("error = %v, want ErrRobotsDisallowed", err)
	}
	if pageFetched.Load() {
		t.Error("Page must not be fetched when robots disallows")
	}
	if got := fx.jobs.jobs["job-1"].Status; got != models.JobError {
		t.Errorf("Job status = %s, want error", got)
	}
	if len(fx.sources.discovered) != 0 {
		t.Error("Due time must not advance on policy error")
	}
}

func TestExecuteDiscovery_RobotsSkippedWhenSourceCleared(t *testing.T) {
	var robotsFetched atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsFetched.Store(true)
			w.Write([]byte("User-agent: *\nDisallow: /"))
			return
		}
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")
	fx.sources.sources["src-1"].RobotsAllowed = true

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err != nil {
		t.Fatalf("ExecuteDiscovery() error = %v", err)
	}
	if robotsFetched.Load() {
		t.Error("robots.txt should not be re-checked when the source recorded clearance")
	}
}

func TestExecuteDiscovery_UnchangedContentSkipsProcessing(t *testing.T) {
	body := []byte("<html>menu</html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")
	fx.runs.lastRun = &models.DiscoveryRun{
		SourceID:    "src-1",
		Status:      models.RunSuccess,
		ContentHash: HashContent(body),
	}

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err != nil {
		t.Fatalf("ExecuteDiscovery() error = %v", err)
	}
	if fx.processor.calls != 0 {
		t.Error("Processor should be skipped for identical content hash")
	}
	if got := fx.jobs.jobs["job-1"].Status; got != models.JobDone {
		t.Errorf("Job status = %s, want done", got)
	}
	if len(fx.sources.discovered) != 1 {
		t.Error("Due time should still advance on an unchanged successful fetch")
	}
}

func TestExecuteDiscovery_MissingJobIsFatal(t *testing.T) {
	fx := newFixture(t, "http://example.invalid/menu")
	err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "ghost-job")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if fx.runs.created != 0 {
		t.Error("No run should be created for a missing job")
	}
}

func TestExecuteDiscovery_OnlyQueuedJobsExecute(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err != nil {
		t.Fatalf("First ExecuteDiscovery() error = %v", err)
	}
	if fx.runs.created != 1 {
		t.Fatalf("Expected 1 run after first execution, got %d", fx.runs.created)
	}

	// Two drains racing can both pull the same job id; the second execution
	// must be rejected once the job left queued.
	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err == nil {
		t.Error("Re-executing a done job should fail")
	}
	if fx.runs.created != 1 {
		t.Errorf("A done job must keep its single run, got %d", fx.runs.created)
	}
	if got := fx.jobs.jobs["job-1"].Status; got != models.JobDone {
		t.Errorf("Job status = %s, want done", got)
	}
	if fetches.Load() != 1 {
		t.Errorf("Page fetches = %d, want 1", fetches.Load())
	}
}

func TestExecuteDiscovery_CancelledJobDoesNotRun(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")
	fx.jobs.jobs["job-1"].Status = models.JobCancelled

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err == nil {
		t.Error("Executing a cancelled job should fail")
	}
	if fetches.Load() != 0 {
		t.Errorf("Cancelled job must not fetch, saw %d requests", fetches.Load())
	}
	if fx.runs.created != 0 {
		t.Errorf("Cancelled job must not create a run, got %d", fx.runs.created)
	}
	if got := fx.jobs.jobs["job-1"].Status; got != models.JobCancelled {
		t.Errorf("Job status = %s, want cancelled", got)
	}
	if fx.processor.calls != 0 {
		t.Errorf("Processor calls = %d, want 0", fx.processor.calls)
	}
}

func TestExecuteDiscovery_TransientFinalizeErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")
	fx.runs.updateFailures = 1

	if err := fx.d.ExecuteDiscovery(context.Background(), "tenant-1", "job-1"); err != nil {
		t.Fatalf("ExecuteDiscovery() error = %v", err)
	}
	if fx.runs.updateCalls != 2 {
		t.Errorf("UpdateRun calls = %d, want 2 (one transient failure, one retry)", fx.runs.updateCalls)
	}

	job := fx.jobs.jobs["job-1"]
	if job.Status != models.JobDone {
		t.Errorf("Job status = %s, want done", job.Status)
	}
	run := fx.runs.runs[job.RunID]
	if run == nil || run.Status != models.RunSuccess {
		t.Errorf("Run should finalize as success despite a transient store error: %+v", run)
	}
}

func TestDiscoverNow_CreatesManualJobAndExecutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html>menu</html>"))
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL+"/menu")

	jobID, err := fx.d.DiscoverNow(context.Background(), "tenant-1", "src-1")
	if err != nil {
		t.Fatalf("DiscoverNow() error = %v", err)
	}
	job := fx.jobs.jobs[jobID]
	if job == nil {
		t.Fatal("Manual job not persisted")
	}
	if job.CreatedBy != "manual" {
		t.Errorf("CreatedBy = %s, want manual", job.CreatedBy)
	}
	if job.Status != models.JobDone {
		t.Errorf("Job status = %s, want done", job.Status)
	}
}
