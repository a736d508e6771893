package domain

import (
	"encoding/json"
	"time"
)

// Queue names served by the worker pool.
const (
	QueueIndexing = "indexing"
	QueueSchedule = "schedule"
	QueueCleanup  = "cleanup"
)

// QueueJobState is the broker-side state of a queued job.
type QueueJobState string

const (
	QueueJobWaiting   QueueJobState = "waiting"
	QueueJobDelayed   QueueJobState = "delayed"
	QueueJobActive    QueueJobState = "active"
	QueueJobCompleted QueueJobState = "completed"
	QueueJobFailed    QueueJobState = "failed"
)

// IsTerminal reports whether the job left the broker's working set.
func (s QueueJobState) IsTerminal() bool {
	return s == QueueJobCompleted || s == QueueJobFailed
}

// QueueJob is one unit of work held by the durable broker.
type QueueJob struct {
	ID          string
	Queue       string
	Name        string
	DedupKey    string
	Payload     json.RawMessage
	Priority    int
	State       QueueJobState
	Attempts    int
	MaxAttempts int
	BackoffMs   int64
	RepeatEvery time.Duration
	RunAt       time.Time
	HeartbeatAt *time.Time
	LastError   string
	Result      json.RawMessage
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// IsStalled reports whether a waiting/active job has outlived threshold
// without a recent heartbeat.
func (j *QueueJob) IsStalled(now time.Time, threshold, heartbeatGrace time.Duration) bool {
	if j.State.IsTerminal() {
		return false
	}
	if now.Sub(j.CreatedAt) <= threshold {
		return false
	}
	if j.State != QueueJobActive {
		return true
	}
	return j.HeartbeatAt == nil || now.Sub(*j.HeartbeatAt) > heartbeatGrace
}

// NextBackoff returns the exponential delay before attempt number attempts+1.
func (j *QueueJob) NextBackoff() time.Duration {
	base := time.Duration(j.BackoffMs) * time.Millisecond
	if base <= 0 {
		base = 5 * time.Second
	}
	delay := base
	for i := 1; i < j.Attempts; i++ {
		delay *= 2
		if delay > time.Hour {
			return time.Hour
		}
	}
	return delay
}

// QueueCounts summarizes one queue.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// QueueStats maps queue name to counts.
type QueueStats map[string]QueueCounts

// IndexingPayload is the queue payload of an indexing job.
type IndexingPayload struct {
	ProjectID   string          `json:"project_id"`
	JobID       string          `json:"job_id"`
	Branch      string          `json:"branch,omitempty"`
	FullReindex bool            `json:"full_reindex"`
	Trigger     IndexingTrigger `json:"trigger"`
}

// SchedulePayload is the queue payload of a recurring index check.
type SchedulePayload struct {
	ProjectID       string `json:"project_id"`
	Branch          string `json:"branch,omitempty"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// ScheduleAction is the outcome of a scheduled check.
type ScheduleAction string

const (
	ScheduleActionEnqueued  ScheduleAction = "enqueued"
	ScheduleActionNoChanges ScheduleAction = "no_changes"
)
