package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/repomem/internal/api"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/memory"
)

type Memory interface {
	Ingest(ctx context.Context, in memory.IngestInput) (*memory.IngestResult, error)
	Retrieve(ctx context.Context, in memory.RetrieveInput) ([]memory.Match, error)
	DeleteSource(ctx context.Context, source string, scope domain.Scope) (domain.Scope, error)
	DeleteAllProjectVectors(ctx context.Context, projectID string) (*memory.DeleteProjectResult, error)
	IngestBucket(ctx context.Context, src memory.ObjectSource, in memory.BucketIngestInput) (*memory.BucketIngestResult, error)
}

type MemoryHandler struct {
	mem    Memory
	bucket memory.ObjectSource
}

// NewMemoryHandler creates the memory handler. bucket may be nil when object
// storage is not configured.
func NewMemoryHandler(mem Memory, bucket memory.ObjectSource) *MemoryHandler {
	return &MemoryHandler{mem: mem, bucket: bucket}
}

type IngestRequest struct {
	Content     string `json:"content"`
	Source      string `json:"source"`
	ContentType string `json:"content_type"`
	Language    string `json:"language"`
	ProjectID   string `json:"project_id"`
	Scope       string `json:"scope"`
}

type RetrieveRequest struct {
	Query     string                 `json:"query"`
	ProjectID string                 `json:"project_id"`
	Scope     string                 `json:"scope"`
	Limit     int                    `json:"limit"`
	Filters   memory.RetrieveFilters `json:"filters"`
}

type RetrieveResponse struct {
	Matches []memory.Match `json:"matches"`
}

type DeleteSourceResponse struct {
	Source string       `json:"source"`
	Scope  domain.Scope `json:"scope"`
}

func (h *MemoryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.mem.Ingest(r.Context(), memory.IngestInput{
		Content:     req.Content,
		Source:      req.Source,
		ContentType: domain.ContentType(req.ContentType),
		Language:    req.Language,
		ProjectID:   req.ProjectID,
		Scope:       domain.Scope(req.Scope),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, res)
}

func (h *MemoryHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	matches, err := h.mem.Retrieve(r.Context(), memory.RetrieveInput{
		Query:     req.Query,
		Filters:   req.Filters,
		ProjectID: req.ProjectID,
		Scope:     domain.RetrieveMode(req.Scope),
		Limit:     req.Limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if matches == nil {
		matches = []memory.Match{}
	}
	api.Success(w, http.StatusOK, RetrieveResponse{Matches: matches})
}

// DeleteSource takes ?source= and an optional ?scope= (global by default).
func (h *MemoryHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	scope, err := h.mem.DeleteSource(r.Context(), source, domain.Scope(r.URL.Query().Get("scope")))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeleteSourceResponse{Source: source, Scope: scope})
}

func (h *MemoryHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	res, err := h.mem.DeleteAllProjectVectors(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, res)
}

func (h *MemoryHandler) IngestBucket(w http.ResponseWriter, r *http.Request) {
	var req memory.BucketIngestInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.mem.IngestBucket(r.Context(), h.bucket, req)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, res)
}
