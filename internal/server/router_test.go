package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/api/handlers"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/indexer"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/pagination"
	"github.com/cloo-solutions/repomem/internal/queue"
)

const testAPIKey = "rm_test_key"

type stubProjects struct{}

func (stubProjects) Create(context.Context, *domain.Project) error { return nil }

func (stubProjects) GetByID(_ context.Context, id string) (*domain.Project, error) {
	if id != "api" {
		return nil, domain.ErrProjectNotFound
	}
	return domain.NewProject("api", "API", "https://github.com/acme/api.git", "", time.Now()), nil
}

func (stubProjects) List(context.Context) ([]*domain.Project, error) { return nil, nil }
func (stubProjects) Delete(context.Context, string) error           { return nil }

type stubQueue struct{}

func (stubQueue) EnqueueIndexingJob(_ context.Context, req queue.IndexingRequest) (*queue.EnqueueResult, error) {
	return &queue.EnqueueResult{JobID: "j1", ProjectID: req.ProjectID, Queue: domain.QueueIndexing, State: domain.QueueJobWaiting}, nil
}

func (stubQueue) CancelJob(_ context.Context, jobID string) (*queue.CancelResult, error) {
	return &queue.CancelResult{JobID: jobID, Status: domain.IndexingJobStatusCancelled}, nil
}

func (stubQueue) GetJob(_ context.Context, jobID string) (*queue.JobStatus, error) {
	return nil, domain.ErrIndexingJobNotFound
}

func (stubQueue) GetQueueStats(context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, nil
}

func (stubQueue) EnqueueScheduledIndexingJob(_ context.Context, projectID, _ string, _ int) (*queue.EnqueueResult, error) {
	return &queue.EnqueueResult{ProjectID: projectID, Queue: domain.QueueSchedule}, nil
}

func (stubQueue) RemoveSchedule(context.Context, string) error { return nil }

type stubJobs struct{}

func (stubJobs) ListByProject(context.Context, string, *pagination.Cursor, int) ([]*domain.IndexingJob, error) {
	return nil, nil
}

type stubFiles struct{}

func (stubFiles) IndexSingleFile(_ context.Context, projectID, rel string) (*indexer.FileResult, error) {
	return &indexer.FileResult{ProjectID: projectID, Path: rel}, nil
}

func (stubFiles) ReindexSingleFile(_ context.Context, projectID, rel string) (*indexer.FileResult, error) {
	return &indexer.FileResult{ProjectID: projectID, Path: rel}, nil
}

type stubMemory struct{}

func (stubMemory) Ingest(_ context.Context, in memory.IngestInput) (*memory.IngestResult, error) {
	return &memory.IngestResult{Scope: domain.ResolveScope(in.ProjectID, in.Scope)}, nil
}

func (stubMemory) Retrieve(context.Context, memory.RetrieveInput) ([]memory.Match, error) {
	return nil, nil
}

func (stubMemory) DeleteSource(_ context.Context, _ string, scope domain.Scope) (domain.Scope, error) {
	return scope, nil
}

func (stubMemory) DeleteAllProjectVectors(_ context.Context, projectID string) (*memory.DeleteProjectResult, error) {
	return &memory.DeleteProjectResult{Scope: domain.ProjectScope(projectID)}, nil
}

func (stubMemory) IngestBucket(_ context.Context, src memory.ObjectSource, _ memory.BucketIngestInput) (*memory.BucketIngestResult, error) {
	if src == nil {
		return nil, domain.NewDomainError(domain.ErrCodeUnavailable, "object storage is not configured")
	}
	return &memory.BucketIngestResult{}, nil
}

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, query string, _ domain.SearchFilters, _ domain.SearchOptions) (*domain.SearchResponse, error) {
	return &domain.SearchResponse{Results: []domain.HybridSearchResult{{ContentHash: "h1", Title: query}}, Total: 1}, nil
}

func (stubSearch) Suggest(context.Context, string, int) ([]string, error) {
	return []string{"config"}, nil
}

func setupRouter(apiKey string) http.Handler {
	return NewRouter(RouterConfig{
		APIKey:          apiKey,
		ProjectHandler:  handlers.NewProjectHandler(stubProjects{}, stubMemory{}, stubQueue{}),
		IndexingHandler: handlers.NewIndexingHandler(stubQueue{}, stubJobs{}, stubFiles{}),
		MemoryHandler:   handlers.NewMemoryHandler(stubMemory{}, nil),
		SearchHandler:   handlers.NewSearchHandler(stubSearch{}),
	})
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := setupRouter(testAPIKey)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

var authenticatedRoutes = []struct {
	method string
	path   string
	body   string
	want   int
}{
	{http.MethodGet, "/projects", "", http.StatusOK},
	{http.MethodGet, "/projects/api", "", http.StatusOK},
	{http.MethodGet, "/projects/ghost", "", http.StatusNotFound},
	{http.MethodDelete, "/projects/api", "", http.StatusOK},
	{http.MethodPut, "/projects/api/schedule", `{"interval_minutes":15}`, http.StatusOK},
	{http.MethodDelete, "/projects/api/schedule", "", http.StatusNoContent},
	{http.MethodPost, "/projects/api/index", "", http.StatusAccepted},
	{http.MethodGet, "/projects/api/jobs", "", http.StatusOK},
	{http.MethodPost, "/projects/api/files/index", `{"path":"main.go"}`, http.StatusOK},
	{http.MethodPost, "/projects/api/files/reindex", `{"path":"main.go"}`, http.StatusOK},
	{http.MethodDelete, "/projects/api/memory", "", http.StatusOK},
	{http.MethodGet, "/jobs/j1", "", http.StatusNotFound},
	{http.MethodPost, "/jobs/j1/cancel", "", http.StatusOK},
	{http.MethodGet, "/queues/stats", "", http.StatusOK},
	{http.MethodPost, "/memory", `{"content":"x","source":"a.md"}`, http.StatusCreated},
	{http.MethodDelete, "/memory?source=a.md", "", http.StatusOK},
	{http.MethodPost, "/memory/retrieve", `{"query":"x"}`, http.StatusOK},
	{http.MethodPost, "/memory/ingest/bucket", `{}`, http.StatusServiceUnavailable},
	{http.MethodPost, "/search", `{"query":"config"}`, http.StatusOK},
	{http.MethodGet, "/search/suggestions?q=con", "", http.StatusOK},
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router := setupRouter(testAPIKey)

	for _, route := range authenticatedRoutes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, strings.NewReader(route.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_AuthenticatedRoutes_WithValidAuth(t *testing.T) {
	router := setupRouter(testAPIKey)

	for _, route := range authenticatedRoutes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, strings.NewReader(route.body))
			req.Header.Set("Authorization", "Bearer "+testAPIKey)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, route.want, w.Code, w.Body.String())
		})
	}
}

func TestRouter_NoKeyConfigured(t *testing.T) {
	router := setupRouter("")

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"config"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"content_hash":"h1"`)
}

func TestRouter_BodyLimits(t *testing.T) {
	router := NewRouter(RouterConfig{
		MaxRequestBytes: 64,
		MaxIngestBytes:  1024,
		ProjectHandler:  handlers.NewProjectHandler(stubProjects{}, stubMemory{}, stubQueue{}),
		IndexingHandler: handlers.NewIndexingHandler(stubQueue{}, stubJobs{}, stubFiles{}),
		MemoryHandler:   handlers.NewMemoryHandler(stubMemory{}, nil),
		SearchHandler:   handlers.NewSearchHandler(stubSearch{}),
	})

	big := `{"content":"` + strings.Repeat("x", 200) + `","source":"a.md"}`

	t.Run("ingest accepts larger bodies", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/memory", strings.NewReader(big)))
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("search is bounded by the request limit", func(t *testing.T) {
		body := `{"query":"` + strings.Repeat("q", 200) + `"}`
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "exceeds 64 bytes")
	})

	t.Run("ingest over its own limit", func(t *testing.T) {
		body := `{"content":"` + strings.Repeat("x", 2048) + `"}`
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/memory", strings.NewReader(body)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
