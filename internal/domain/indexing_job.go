package domain

import (
	"fmt"
	"time"
)

// IndexingJobStatus represents the lifecycle state of an indexing job
type IndexingJobStatus string

const (
	IndexingJobStatusPending   IndexingJobStatus = "pending"
	IndexingJobStatusRunning   IndexingJobStatus = "running"
	IndexingJobStatusCompleted IndexingJobStatus = "completed"
	IndexingJobStatusFailed    IndexingJobStatus = "failed"
	IndexingJobStatusCancelled IndexingJobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s IndexingJobStatus) IsTerminal() bool {
	switch s {
	case IndexingJobStatusCompleted, IndexingJobStatusFailed, IndexingJobStatusCancelled:
		return true
	}
	return false
}

// IndexingTrigger records what caused a job to be enqueued.
type IndexingTrigger string

const (
	TriggerManual    IndexingTrigger = "manual"
	TriggerWebhook   IndexingTrigger = "webhook"
	TriggerScheduled IndexingTrigger = "scheduled"
)

// IndexingJob is the durable record of one indexing invocation.
type IndexingJob struct {
	ID              string
	ProjectID       string
	Branch          string
	Trigger         IndexingTrigger
	FullReindex     bool
	Status          IndexingJobStatus
	Progress        int
	FilesTotal      int
	FilesProcessed  int
	FilesFailed     int
	VectorsAdded    int
	Revision        string
	Error           string
	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// NewIndexingJob creates a new pending IndexingJob instance
func NewIndexingJob(id, projectID, branch string, trigger IndexingTrigger, fullReindex bool, createdAt time.Time) *IndexingJob {
	return &IndexingJob{
		ID:          id,
		ProjectID:   projectID,
		Branch:      branch,
		Trigger:     trigger,
		FullReindex: fullReindex,
		Status:      IndexingJobStatusPending,
		CreatedAt:   createdAt,
	}
}

// ValidateIndexingJob validates an IndexingJob instance
func ValidateIndexingJob(j *IndexingJob) error {
	if j == nil {
		return fmt.Errorf("indexing job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("indexing job ID is required")
	}

	if j.ProjectID == "" {
		return fmt.Errorf("indexing job ProjectID is required")
	}

	if !IsValidTrigger(j.Trigger) {
		return fmt.Errorf("indexing job Trigger is invalid: %s", j.Trigger)
	}

	if !isValidIndexingJobStatus(j.Status) {
		return fmt.Errorf("indexing job Status is invalid: %s", j.Status)
	}

	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("indexing job Progress must be within 0..100, got %d", j.Progress)
	}

	return nil
}

// IsValidTrigger reports whether t is a known trigger.
func IsValidTrigger(t IndexingTrigger) bool {
	switch t {
	case TriggerManual, TriggerWebhook, TriggerScheduled:
		return true
	}
	return false
}

func isValidIndexingJobStatus(s IndexingJobStatus) bool {
	switch s {
	case IndexingJobStatusPending, IndexingJobStatusRunning, IndexingJobStatusCompleted,
		IndexingJobStatusFailed, IndexingJobStatusCancelled:
		return true
	}
	return false
}

// JobProgress is a progress snapshot written while a job runs.
type JobProgress struct {
	Progress       int
	FilesTotal     int
	FilesProcessed int
	FilesFailed    int
	VectorsAdded   int
}

// Percent computes a clamped completion percentage.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 100 {
		return 100
	}
	return p
}
