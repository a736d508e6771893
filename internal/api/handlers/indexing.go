package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/repomem/internal/api"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/indexer"
	"github.com/cloo-solutions/repomem/internal/pagination"
	"github.com/cloo-solutions/repomem/internal/queue"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
)

type IndexingQueue interface {
	EnqueueIndexingJob(ctx context.Context, req queue.IndexingRequest) (*queue.EnqueueResult, error)
	CancelJob(ctx context.Context, jobID string) (*queue.CancelResult, error)
	GetJob(ctx context.Context, jobID string) (*queue.JobStatus, error)
	GetQueueStats(ctx context.Context) (domain.QueueStats, error)
}

type JobLister interface {
	ListByProject(ctx context.Context, projectID string, after *pagination.Cursor, limit int) ([]*domain.IndexingJob, error)
}

type FileIndexer interface {
	IndexSingleFile(ctx context.Context, projectID, rel string) (*indexer.FileResult, error)
	ReindexSingleFile(ctx context.Context, projectID, rel string) (*indexer.FileResult, error)
}

type IndexingHandler struct {
	queue IndexingQueue
	jobs  JobLister
	files FileIndexer
}

func NewIndexingHandler(q IndexingQueue, jobs JobLister, files FileIndexer) *IndexingHandler {
	return &IndexingHandler{queue: q, jobs: jobs, files: files}
}

type EnqueueIndexRequest struct {
	Branch      string `json:"branch"`
	FullReindex bool   `json:"full_reindex"`
	Trigger     string `json:"trigger"`
}

type FileRequest struct {
	Path string `json:"path"`
}

type JobResponse struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Branch          string `json:"branch"`
	Trigger         string `json:"trigger"`
	FullReindex     bool   `json:"full_reindex"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	FilesTotal      int    `json:"files_total"`
	FilesProcessed  int    `json:"files_processed"`
	FilesFailed     int    `json:"files_failed"`
	VectorsAdded    int    `json:"vectors_added"`
	Revision        string `json:"revision,omitempty"`
	Error           string `json:"error,omitempty"`
	CancelRequested bool   `json:"cancel_requested"`
	CreatedAt       string `json:"created_at"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	QueueJobID      string `json:"queue_job_id,omitempty"`
	QueueState      string `json:"queue_state,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

func jobToResponse(j *domain.IndexingJob) *JobResponse {
	resp := &JobResponse{
		ID:              j.ID,
		ProjectID:       j.ProjectID,
		Branch:          j.Branch,
		Trigger:         string(j.Trigger),
		FullReindex:     j.FullReindex,
		Status:          string(j.Status),
		Progress:        j.Progress,
		FilesTotal:      j.FilesTotal,
		FilesProcessed:  j.FilesProcessed,
		FilesFailed:     j.FilesFailed,
		VectorsAdded:    j.VectorsAdded,
		Revision:        j.Revision,
		Error:           j.Error,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// Enqueue accepts an empty body as a manual incremental run of the default branch.
func (h *IndexingHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.queue.EnqueueIndexingJob(r.Context(), queue.IndexingRequest{
		ProjectID:   chi.URLParam(r, "projectID"),
		Branch:      req.Branch,
		FullReindex: req.FullReindex,
		Trigger:     domain.IndexingTrigger(req.Trigger),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Deduplicated {
		status = http.StatusOK
	}
	api.Success(w, status, res)
}

// ListJobs pages through a project's jobs, newest first, with ?limit= and ?cursor=.
func (h *IndexingHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxJobListLimit)
	}

	after, err := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	jobs, err := h.jobs.ListByProject(r.Context(), chi.URLParam(r, "projectID"), after, limit+1)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	page := pagination.NewPage(jobs, limit,
		func(j *domain.IndexingJob) string { return j.ID },
		func(j *domain.IndexingJob) time.Time { return j.CreatedAt },
	)
	resp := pagination.PageResult[*JobResponse]{
		Items:   make([]*JobResponse, 0, len(page.Items)),
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	}
	for _, j := range page.Items {
		resp.Items = append(resp.Items, jobToResponse(j))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *IndexingHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := jobToResponse(status.Job)
	resp.QueueJobID = status.QueueJobID
	resp.QueueState = string(status.QueueState)
	resp.Attempts = status.Attempts
	resp.LastError = status.LastError
	api.Success(w, http.StatusOK, resp)
}

func (h *IndexingHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	res, err := h.queue.CancelJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if res.Pending {
		status = http.StatusAccepted
	}
	api.Success(w, status, res)
}

func (h *IndexingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetQueueStats(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, stats)
}

func (h *IndexingHandler) IndexFile(w http.ResponseWriter, r *http.Request) {
	h.singleFile(w, r, h.files.IndexSingleFile)
}

func (h *IndexingHandler) ReindexFile(w http.ResponseWriter, r *http.Request) {
	h.singleFile(w, r, h.files.ReindexSingleFile)
}

func (h *IndexingHandler) singleFile(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (*indexer.FileResult, error)) {
	var req FileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		api.Error(w, http.StatusBadRequest, "path is required")
		return
	}

	res, err := fn(r.Context(), chi.URLParam(r, "projectID"), req.Path)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, res)
}
