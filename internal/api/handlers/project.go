package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cloo-solutions/repomem/internal/api"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/queue"
)

type ProjectRepository interface {
	Create(ctx context.Context, project *domain.Project) error
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	List(ctx context.Context) ([]*domain.Project, error)
	Delete(ctx context.Context, id string) error
}

type ProjectPurger interface {
	DeleteAllProjectVectors(ctx context.Context, projectID string) (*memory.DeleteProjectResult, error)
}

type Scheduler interface {
	EnqueueScheduledIndexingJob(ctx context.Context, projectID, branch string, intervalMinutes int) (*queue.EnqueueResult, error)
	RemoveSchedule(ctx context.Context, projectID string) error
}

type ProjectHandler struct {
	repo      ProjectRepository
	purger    ProjectPurger
	scheduler Scheduler
	now       func() time.Time
}

func NewProjectHandler(repo ProjectRepository, purger ProjectPurger, scheduler Scheduler) *ProjectHandler {
	return &ProjectHandler{repo: repo, purger: purger, scheduler: scheduler, now: time.Now}
}

type CreateProjectRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RepoURL       string `json:"repo_url"`
	DefaultBranch string `json:"default_branch"`
}

type ScheduleRequest struct {
	Branch          string `json:"branch"`
	IntervalMinutes int    `json:"interval_minutes"`
}

type ProjectResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	RepoURL             string `json:"repo_url"`
	DefaultBranch       string `json:"default_branch"`
	LastIndexedRevision string `json:"last_indexed_revision,omitempty"`
	LastIndexedBranch   string `json:"last_indexed_branch,omitempty"`
	LastIndexedAt       string `json:"last_indexed_at,omitempty"`
	FileCount           int    `json:"file_count"`
	VectorCount         int64  `json:"vector_count"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

type DeleteProjectResponse struct {
	ProjectID      string `json:"project_id"`
	VectorsDeleted int64  `json:"vectors_deleted"`
	Remaining      int64  `json:"remaining"`
}

func projectToResponse(p *domain.Project) *ProjectResponse {
	resp := &ProjectResponse{
		ID:                  p.ID,
		Name:                p.Name,
		RepoURL:             p.RepoURL,
		DefaultBranch:       p.DefaultBranch,
		LastIndexedRevision: p.LastIndexedRevision,
		LastIndexedBranch:   p.LastIndexedBranch,
		FileCount:           p.FileCount,
		VectorCount:         p.VectorCount,
		CreatedAt:           p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           p.UpdatedAt.Format(time.RFC3339),
	}
	if p.LastIndexedAt != nil {
		resp.LastIndexedAt = p.LastIndexedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.RepoURL == "" {
		api.Error(w, http.StatusBadRequest, "repo_url is required")
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	project := domain.NewProject(id, req.Name, req.RepoURL, req.DefaultBranch, h.now().UTC())
	if err := domain.ValidateProject(project); err != nil {
		api.HandleError(w, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid project", err))
		return
	}

	if err := h.repo.Create(r.Context(), project); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, projectToResponse(project))
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, projectToResponse(project))
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.repo.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*ProjectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, projectToResponse(p))
	}
	api.Success(w, http.StatusOK, resp)
}

// Delete purges the project's memory and schedule before removing the row.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := h.repo.GetByID(r.Context(), projectID); err != nil {
		api.HandleError(w, err)
		return
	}

	purged, err := h.purger.DeleteAllProjectVectors(r.Context(), projectID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.scheduler.RemoveSchedule(r.Context(), projectID); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.repo.Delete(r.Context(), projectID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DeleteProjectResponse{
		ProjectID:      projectID,
		VectorsDeleted: purged.Deleted,
		Remaining:      purged.Remaining,
	})
}

func (h *ProjectHandler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.scheduler.EnqueueScheduledIndexingJob(r.Context(), chi.URLParam(r, "projectID"), req.Branch, req.IntervalMinutes)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, res)
}

func (h *ProjectHandler) RemoveSchedule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := h.repo.GetByID(r.Context(), projectID); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.scheduler.RemoveSchedule(r.Context(), projectID); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
