package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/indexer"
)

// IndexingConcurrency is the number of indexing runs one worker executes at once.
const IndexingConcurrency = 2

type IndexRunner interface {
	Run(ctx context.Context, req indexer.RunRequest) (*indexer.RunResult, error)
}

type CancelFlags interface {
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

type LocalCanceller interface {
	CancelJob(jobID string) bool
}

// IndexingHandler runs queued indexing jobs through the indexer.
type IndexingHandler struct {
	engine IndexRunner
	flags  CancelFlags
	local  LocalCanceller
}

func NewIndexingHandler(engine IndexRunner, flags CancelFlags, local LocalCanceller) *IndexingHandler {
	return &IndexingHandler{engine: engine, flags: flags, local: local}
}

func (h *IndexingHandler) Handle(ctx context.Context, job *domain.QueueJob) (any, error) {
	var payload domain.IndexingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode indexing payload: %w", err))
	}
	if payload.ProjectID == "" {
		return nil, Permanent(domain.NewValidationError("indexing payload without project_id"))
	}

	res, err := h.engine.Run(ctx, indexer.RunRequest{
		ProjectID:   payload.ProjectID,
		JobID:       payload.JobID,
		Branch:      payload.Branch,
		FullReindex: payload.FullReindex,
		Trigger:     payload.Trigger,
	})
	switch {
	case errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrJobAlreadyFinished),
		errors.Is(err, domain.ErrIndexingJobNotFound):
		return nil, Permanent(err)
	case err != nil:
		return nil, err
	}
	return res, nil
}

// OnHeartbeat forwards a durable cancellation request to the local run.
func (h *IndexingHandler) OnHeartbeat(ctx context.Context, job *domain.QueueJob) {
	var payload domain.IndexingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.JobID == "" {
		return
	}
	requested, err := h.flags.IsCancelRequested(ctx, payload.JobID)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("jobs: cancel check for job %s failed: %v", payload.JobID, err)
		}
		return
	}
	if requested && h.local.CancelJob(payload.JobID) {
		log.Printf("jobs: cancellation requested for job %s", payload.JobID)
	}
}
