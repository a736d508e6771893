package indexer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// RunContext is the in-process handle of one active indexing run.
type RunContext struct {
	ProjectID string
	JobID     string
	StartedAt time.Time

	cancel    context.CancelFunc
	cancelled atomic.Bool
	total     atomic.Int64
	processed atomic.Int64
}

// Cancel requests cooperative cancellation. The run observes it between files.
func (rc *RunContext) Cancel() {
	rc.cancelled.Store(true)
	rc.cancel()
}

func (rc *RunContext) Cancelled() bool {
	return rc.cancelled.Load()
}

func (rc *RunContext) setTotal(n int) {
	rc.total.Store(int64(n))
}

func (rc *RunContext) advance() {
	rc.processed.Add(1)
}

// RunSnapshot is a point-in-time view of an active run.
type RunSnapshot struct {
	ProjectID      string    `json:"project_id"`
	JobID          string    `json:"job_id"`
	StartedAt      time.Time `json:"started_at"`
	FilesTotal     int       `json:"files_total"`
	FilesProcessed int       `json:"files_processed"`
	Progress       int       `json:"progress"`
	Cancelled      bool      `json:"cancelled"`
}

func (rc *RunContext) Snapshot() RunSnapshot {
	total := int(rc.total.Load())
	processed := int(rc.processed.Load())
	return RunSnapshot{
		ProjectID:      rc.ProjectID,
		JobID:          rc.JobID,
		StartedAt:      rc.StartedAt,
		FilesTotal:     total,
		FilesProcessed: processed,
		Progress:       domain.Percent(processed, total),
		Cancelled:      rc.Cancelled(),
	}
}

// Registry tracks active runs keyed by project id. At most one run per
// project is registered at a time.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*RunContext
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		runs: make(map[string]*RunContext),
		now:  time.Now,
	}
}

// Register records a new run and returns a context cancelled by RunContext.Cancel.
// Any live run for the project, including a redelivery of the same job, is refused.
func (r *Registry) Register(ctx context.Context, projectID, jobID string) (context.Context, *RunContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[projectID]; ok {
		return nil, nil, domain.ErrAlreadyIndexing
	}

	runCtx, cancel := context.WithCancel(ctx)
	rc := &RunContext{
		ProjectID: projectID,
		JobID:     jobID,
		StartedAt: r.now().UTC(),
		cancel:    cancel,
	}
	r.runs[projectID] = rc
	return runCtx, rc, nil
}

// Unregister removes the run of projectID if it still belongs to jobID.
func (r *Registry) Unregister(projectID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rc, ok := r.runs[projectID]; ok && rc.JobID == jobID {
		rc.cancel()
		delete(r.runs, projectID)
	}
}

func (r *Registry) Get(projectID string) (*RunContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.runs[projectID]
	return rc, ok
}

// CancelJob cancels the active run with the given job id and reports whether one was found.
func (r *Registry) CancelJob(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rc := range r.runs {
		if rc.JobID == jobID {
			rc.Cancel()
			return true
		}
	}
	return false
}

// IsIndexing reports whether projectID has an active run in this process.
func (r *Registry) IsIndexing(projectID string) bool {
	_, ok := r.Get(projectID)
	return ok
}

// Active lists snapshots of all active runs ordered by project id.
func (r *Registry) Active() []RunSnapshot {
	r.mu.Lock()
	out := make([]RunSnapshot, 0, len(r.runs))
	for _, rc := range r.runs {
		out = append(out, rc.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}
