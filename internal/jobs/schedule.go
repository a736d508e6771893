package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/queue"
)

type ProjectLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
}

type RemoteResolver interface {
	RemoteHead(ctx context.Context, repoURL, branch string) (string, error)
}

type IndexingEnqueuer interface {
	IsIndexing(ctx context.Context, projectID string) (bool, error)
	EnqueueIndexingJob(ctx context.Context, req queue.IndexingRequest) (*queue.EnqueueResult, error)
}

type ScheduleResult struct {
	Action    domain.ScheduleAction `json:"action"`
	ProjectID string                `json:"project_id"`
	Revision  string                `json:"revision,omitempty"`
	JobID     string                `json:"job_id,omitempty"`
	Reason    string                `json:"reason,omitempty"`
}

// ScheduleHandler checks a project's remote branch and enqueues an
// incremental run when it moved past the indexed revision.
type ScheduleHandler struct {
	projects ProjectLookup
	remote   RemoteResolver
	queue    IndexingEnqueuer
}

func NewScheduleHandler(projects ProjectLookup, remote RemoteResolver, q IndexingEnqueuer) *ScheduleHandler {
	return &ScheduleHandler{projects: projects, remote: remote, queue: q}
}

func (h *ScheduleHandler) Handle(ctx context.Context, job *domain.QueueJob) (any, error) {
	var payload domain.SchedulePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode schedule payload: %w", err))
	}

	project, err := h.projects.GetByID(ctx, payload.ProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	indexing, err := h.queue.IsIndexing(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if indexing {
		return &ScheduleResult{Action: domain.ScheduleActionNoChanges, ProjectID: project.ID, Reason: "already indexing"}, nil
	}

	branch := payload.Branch
	if branch == "" {
		branch = project.DefaultBranch
	}
	head, err := h.remote.RemoteHead(ctx, project.RepoURL, branch)
	if err != nil {
		return nil, fmt.Errorf("resolve remote head: %w", err)
	}
	if head == project.LastIndexedRevision && branch == project.LastIndexedBranch {
		return &ScheduleResult{Action: domain.ScheduleActionNoChanges, ProjectID: project.ID, Revision: head, Reason: "up to date"}, nil
	}

	res, err := h.queue.EnqueueIndexingJob(ctx, queue.IndexingRequest{
		ProjectID: project.ID,
		Branch:    branch,
		Trigger:   domain.TriggerScheduled,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("jobs: scheduled check enqueued job %s for project %s at %s", res.JobID, project.ID, head)
	return &ScheduleResult{Action: domain.ScheduleActionEnqueued, ProjectID: project.ID, Revision: head, JobID: res.JobID}, nil
}
