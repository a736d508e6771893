package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/repomem/internal/domain"
)

// Defaults for dedup staleness and retries.
const (
	DefaultStallThreshold = 10 * time.Minute
	DefaultHeartbeatGrace = 2 * time.Minute
	DefaultMaxAttempts    = 3
	DefaultBackoff        = 5 * time.Second
)

// Job names carried on queue rows.
const (
	JobNameIndex    = "index-project"
	JobNameSchedule = "check-project"
	JobNameCleanup  = "cleanup"
)

// Queues lists every queue served by the workers.
var Queues = []string{domain.QueueIndexing, domain.QueueSchedule, domain.QueueCleanup}

type IndexingJobStore interface {
	Create(ctx context.Context, job *domain.IndexingJob) error
	GetByID(ctx context.Context, id string) (*domain.IndexingJob, error)
	Finish(ctx context.Context, job *domain.IndexingJob) error
	RequestCancel(ctx context.Context, id string) error
}

// Broker is the durable job store behind the named queues.
type Broker interface {
	Add(ctx context.Context, job *domain.QueueJob) error
	GetByID(ctx context.Context, id string) (*domain.QueueJob, error)
	GetInFlightByDedupKey(ctx context.Context, queue, key string) (*domain.QueueJob, error)
	GetByPayloadJobID(ctx context.Context, queue, jobID string) (*domain.QueueJob, error)
	RemovePending(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) error
	RemoveFinishedByDedupKey(ctx context.Context, queue, key string) (int64, error)
	RemoveByDedupKey(ctx context.Context, queue, key string) (int64, error)
	Stats(ctx context.Context, queues []string) (domain.QueueStats, error)
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	IndexingJobs() IndexingJobStore
	Queue() Broker
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

type ProjectLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
}

// LocalCanceller cancels runs executing in this process.
type LocalCanceller interface {
	CancelJob(jobID string) bool
}

type Config struct {
	StallThreshold time.Duration
	HeartbeatGrace time.Duration
	MaxAttempts    int
	Backoff        time.Duration
}

func (c Config) withDefaults() Config {
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.HeartbeatGrace <= 0 {
		c.HeartbeatGrace = DefaultHeartbeatGrace
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

type IndexingRequest struct {
	ProjectID   string                 `json:"project_id"`
	JobID       string                 `json:"job_id,omitempty"`
	Branch      string                 `json:"branch,omitempty"`
	FullReindex bool                   `json:"full_reindex"`
	Trigger     domain.IndexingTrigger `json:"trigger,omitempty"`
}

type EnqueueResult struct {
	JobID        string               `json:"job_id,omitempty"`
	QueueJobID   string               `json:"queue_job_id"`
	ProjectID    string               `json:"project_id"`
	Queue        string               `json:"queue"`
	State        domain.QueueJobState `json:"state"`
	Deduplicated bool                 `json:"deduplicated"`
	Replaced     bool                 `json:"replaced"`
}

type CancelResult struct {
	JobID  string                   `json:"job_id"`
	Status domain.IndexingJobStatus `json:"status"`
	// Pending is true when a running job was asked to stop and has not observed it yet.
	Pending bool `json:"pending"`
}

// JobStatus joins the durable job with its broker state.
type JobStatus struct {
	Job        *domain.IndexingJob  `json:"job"`
	QueueJobID string               `json:"queue_job_id,omitempty"`
	QueueState domain.QueueJobState `json:"queue_state,omitempty"`
	Attempts   int                  `json:"attempts"`
	LastError  string               `json:"last_error,omitempty"`
}

type Service struct {
	tx       TxRunner
	jobs     IndexingJobStore
	broker   Broker
	projects ProjectLookup
	local    LocalCanceller
	cfg      Config
	now      func() time.Time
}

func NewService(tx TxRunner, jobs IndexingJobStore, broker Broker, projects ProjectLookup, local LocalCanceller, cfg Config) *Service {
	return &Service{
		tx:       tx,
		jobs:     jobs,
		broker:   broker,
		projects: projects,
		local:    local,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// EnqueueIndexingJob creates the durable job and its queue entry. The project
// id is the dedup key: an in-flight entry is returned as is unless stalled.
func (s *Service) EnqueueIndexingJob(ctx context.Context, req IndexingRequest) (*EnqueueResult, error) {
	if req.ProjectID == "" {
		return nil, domain.NewValidationError("project_id is required")
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}
	if !domain.IsValidTrigger(req.Trigger) {
		return nil, domain.ErrInvalidTrigger
	}
	if _, err := s.projects.GetByID(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	var result *EnqueueResult
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		broker := repos.Queue()
		jobs := repos.IndexingJobs()
		now := s.now().UTC()

		replaced := false
		existing, err := broker.GetInFlightByDedupKey(ctx, domain.QueueIndexing, req.ProjectID)
		switch {
		case err == nil:
			if !existing.IsStalled(now, s.cfg.StallThreshold, s.cfg.HeartbeatGrace) {
				result = dedupResult(existing, req.ProjectID)
				return nil
			}
			if err := s.replaceStalled(ctx, broker, jobs, existing); err != nil {
				return err
			}
			replaced = true
		case !errors.Is(err, domain.ErrQueueJobNotFound):
			return err
		}

		if _, err := broker.RemoveFinishedByDedupKey(ctx, domain.QueueIndexing, req.ProjectID); err != nil {
			return err
		}

		job := domain.NewIndexingJob(req.JobID, req.ProjectID, req.Branch, req.Trigger, req.FullReindex, now)
		if err := domain.ValidateIndexingJob(job); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid indexing job", err)
		}
		if err := jobs.Create(ctx, job); err != nil {
			return fmt.Errorf("create indexing job: %w", err)
		}

		payload, err := json.Marshal(domain.IndexingPayload{
			ProjectID:   req.ProjectID,
			JobID:       req.JobID,
			Branch:      req.Branch,
			FullReindex: req.FullReindex,
			Trigger:     req.Trigger,
		})
		if err != nil {
			return err
		}
		qj := &domain.QueueJob{
			Queue:       domain.QueueIndexing,
			Name:        JobNameIndex,
			DedupKey:    req.ProjectID,
			Payload:     payload,
			MaxAttempts: s.cfg.MaxAttempts,
			BackoffMs:   s.cfg.Backoff.Milliseconds(),
			RunAt:       now,
			CreatedAt:   now,
		}
		if err := broker.Add(ctx, qj); err != nil {
			return err
		}

		result = &EnqueueResult{
			JobID:      req.JobID,
			QueueJobID: qj.ID,
			ProjectID:  req.ProjectID,
			Queue:      domain.QueueIndexing,
			State:      qj.State,
			Replaced:   replaced,
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateQueueJob) {
		// lost a race with a concurrent enqueue for the same project
		existing, lookupErr := s.broker.GetInFlightByDedupKey(ctx, domain.QueueIndexing, req.ProjectID)
		if lookupErr != nil {
			return nil, err
		}
		return dedupResult(existing, req.ProjectID), nil
	}
	if err != nil {
		return nil, err
	}
	if result.Replaced {
		log.Printf("queue: replaced stalled indexing job for project %s", req.ProjectID)
	}
	return result, nil
}

func (s *Service) replaceStalled(ctx context.Context, broker Broker, jobs IndexingJobStore, stalled *domain.QueueJob) error {
	if err := broker.Remove(ctx, stalled.ID); err != nil && !errors.Is(err, domain.ErrQueueJobNotFound) {
		return err
	}
	var payload domain.IndexingPayload
	if err := json.Unmarshal(stalled.Payload, &payload); err != nil || payload.JobID == "" {
		return nil
	}
	now := s.now().UTC()
	err := jobs.Finish(ctx, &domain.IndexingJob{
		ID:          payload.JobID,
		ProjectID:   payload.ProjectID,
		Status:      domain.IndexingJobStatusFailed,
		Error:       "replaced: job stalled without heartbeat",
		CompletedAt: &now,
	})
	if err != nil && !errors.Is(err, domain.ErrJobAlreadyFinished) &&
		!errors.Is(err, domain.ErrJobCancelled) && !errors.Is(err, domain.ErrIndexingJobNotFound) {
		return err
	}
	return nil
}

func dedupResult(existing *domain.QueueJob, projectID string) *EnqueueResult {
	var payload domain.IndexingPayload
	_ = json.Unmarshal(existing.Payload, &payload)
	return &EnqueueResult{
		JobID:        payload.JobID,
		QueueJobID:   existing.ID,
		ProjectID:    projectID,
		Queue:        existing.Queue,
		State:        existing.State,
		Deduplicated: true,
	}
}

// ScheduleKey is the dedup key of a project's recurring check.
func ScheduleKey(projectID string) string {
	return "schedule:" + projectID
}

// EnqueueScheduledIndexingJob installs (or replaces) the recurring check of a project.
func (s *Service) EnqueueScheduledIndexingJob(ctx context.Context, projectID, branch string, intervalMinutes int) (*EnqueueResult, error) {
	if intervalMinutes <= 0 {
		return nil, domain.ErrInvalidScheduleInterval
	}
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(domain.SchedulePayload{
		ProjectID:       projectID,
		Branch:          branch,
		IntervalMinutes: intervalMinutes,
	})
	if err != nil {
		return nil, err
	}

	var qj *domain.QueueJob
	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		broker := repos.Queue()
		if _, err := broker.RemoveByDedupKey(ctx, domain.QueueSchedule, ScheduleKey(projectID)); err != nil {
			return err
		}
		now := s.now().UTC()
		qj = &domain.QueueJob{
			Queue:       domain.QueueSchedule,
			Name:        JobNameSchedule,
			DedupKey:    ScheduleKey(projectID),
			Payload:     payload,
			MaxAttempts: s.cfg.MaxAttempts,
			BackoffMs:   s.cfg.Backoff.Milliseconds(),
			RepeatEvery: time.Duration(intervalMinutes) * time.Minute,
			RunAt:       now,
			CreatedAt:   now,
		}
		return broker.Add(ctx, qj)
	})
	if err != nil {
		return nil, err
	}
	return &EnqueueResult{
		QueueJobID: qj.ID,
		ProjectID:  projectID,
		Queue:      domain.QueueSchedule,
		State:      qj.State,
	}, nil
}

// RemoveSchedule drops the recurring check of a project.
func (s *Service) RemoveSchedule(ctx context.Context, projectID string) error {
	_, err := s.broker.RemoveByDedupKey(ctx, domain.QueueSchedule, ScheduleKey(projectID))
	return err
}

// EnqueueCleanup queues one cleanup pass.
func (s *Service) EnqueueCleanup(ctx context.Context, every time.Duration) (*EnqueueResult, error) {
	now := s.now().UTC()
	qj := &domain.QueueJob{
		Queue:       domain.QueueCleanup,
		Name:        JobNameCleanup,
		DedupKey:    "cleanup",
		MaxAttempts: 1,
		RepeatEvery: every,
		RunAt:       now,
		CreatedAt:   now,
	}
	if err := s.broker.Add(ctx, qj); err != nil {
		if errors.Is(err, domain.ErrDuplicateQueueJob) {
			existing, lookupErr := s.broker.GetInFlightByDedupKey(ctx, domain.QueueCleanup, "cleanup")
			if lookupErr != nil {
				return nil, err
			}
			return &EnqueueResult{QueueJobID: existing.ID, Queue: domain.QueueCleanup, State: existing.State, Deduplicated: true}, nil
		}
		return nil, err
	}
	return &EnqueueResult{QueueJobID: qj.ID, Queue: domain.QueueCleanup, State: qj.State}, nil
}

// CancelJob removes a waiting job or asks a running one to stop.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*CancelResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, domain.ErrJobAlreadyFinished
	}

	removed := false
	qj, err := s.broker.GetByPayloadJobID(ctx, domain.QueueIndexing, jobID)
	switch {
	case err == nil && !qj.State.IsTerminal() && qj.State != domain.QueueJobActive:
		if removed, err = s.broker.RemovePending(ctx, qj.ID); err != nil {
			return nil, err
		}
	case err == nil:
	case errors.Is(err, domain.ErrQueueJobNotFound):
		// no broker entry left; a pending job can never start
		removed = job.Status == domain.IndexingJobStatusPending
	default:
		return nil, err
	}

	if removed {
		now := s.now().UTC()
		job.Status = domain.IndexingJobStatusCancelled
		job.CompletedAt = &now
		if err := s.jobs.Finish(ctx, job); err != nil {
			return nil, err
		}
		log.Printf("queue: cancelled waiting job %s", jobID)
		return &CancelResult{JobID: jobID, Status: domain.IndexingJobStatusCancelled}, nil
	}

	if err := s.jobs.RequestCancel(ctx, jobID); err != nil {
		return nil, err
	}
	if s.local != nil && s.local.CancelJob(jobID) {
		log.Printf("queue: cancelled local run of job %s", jobID)
	}
	return &CancelResult{JobID: jobID, Status: job.Status, Pending: true}, nil
}

func (s *Service) GetQueueStats(ctx context.Context) (domain.QueueStats, error) {
	return s.broker.Stats(ctx, Queues)
}

// GetJob returns the durable job with the state of its latest queue entry.
func (s *Service) GetJob(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status := &JobStatus{Job: job}
	qj, err := s.broker.GetByPayloadJobID(ctx, domain.QueueIndexing, jobID)
	switch {
	case err == nil:
		status.QueueJobID = qj.ID
		status.QueueState = qj.State
		status.Attempts = qj.Attempts
		status.LastError = qj.LastError
	case !errors.Is(err, domain.ErrQueueJobNotFound):
		return nil, err
	}
	return status, nil
}

// IsIndexing reports whether the project has an in-flight indexing entry.
func (s *Service) IsIndexing(ctx context.Context, projectID string) (bool, error) {
	_, err := s.broker.GetInFlightByDedupKey(ctx, domain.QueueIndexing, projectID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrQueueJobNotFound) {
		return false, nil
	}
	return false, err
}
