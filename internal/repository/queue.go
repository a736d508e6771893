package repository

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

const queueJobColumns = `id, queue, name, dedup_key, payload, priority, state, attempts, max_attempts,
	backoff_ms, repeat_every_ms, run_at, heartbeat_at, last_error, result, created_at, started_at, finished_at`

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewQueueJobID returns a lexicographically sortable job id.
func NewQueueJobID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// QueueRepository is the durable job broker backing every named queue.
type QueueRepository struct {
	db dbtx
}

func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{db: pool}
}

func NewQueueRepositoryWithTx(tx pgx.Tx) *QueueRepository {
	return &QueueRepository{db: tx}
}

// Add stores a new job. Jobs whose RunAt lies in the future start delayed.
func (r *QueueRepository) Add(ctx context.Context, job *domain.QueueJob) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = NewQueueJobID(now)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAt.IsZero() {
		job.RunAt = job.CreatedAt
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if len(job.Payload) == 0 {
		job.Payload = json.RawMessage(`{}`)
	}
	job.State = domain.QueueJobWaiting
	if job.RunAt.After(now) {
		job.State = domain.QueueJobDelayed
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO queue_jobs (id, queue, name, dedup_key, payload, priority, state, max_attempts,
		                         backoff_ms, repeat_every_ms, run_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.Queue, job.Name, nullableString(job.DedupKey), []byte(job.Payload), job.Priority,
		job.State, job.MaxAttempts, job.BackoffMs, job.RepeatEvery.Milliseconds(), job.RunAt, job.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateQueueJob
	}
	return err
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueJob, error) {
	job, err := scanQueueJob(r.db.QueryRow(ctx,
		`SELECT `+queueJobColumns+` FROM queue_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueueJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetInFlightByDedupKey returns the waiting, delayed or active job holding the key.
func (r *QueueRepository) GetInFlightByDedupKey(ctx context.Context, queue, key string) (*domain.QueueJob, error) {
	job, err := scanQueueJob(r.db.QueryRow(ctx,
		`SELECT `+queueJobColumns+` FROM queue_jobs
		 WHERE queue = $1 AND dedup_key = $2 AND state IN ($3, $4, $5)`,
		queue, key, domain.QueueJobWaiting, domain.QueueJobDelayed, domain.QueueJobActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueueJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetByPayloadJobID finds the newest queue job carrying the given indexing job id.
func (r *QueueRepository) GetByPayloadJobID(ctx context.Context, queue, jobID string) (*domain.QueueJob, error) {
	job, err := scanQueueJob(r.db.QueryRow(ctx,
		`SELECT `+queueJobColumns+` FROM queue_jobs
		 WHERE queue = $1 AND payload->>'job_id' = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		queue, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueueJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// Claim atomically moves up to limit due jobs of a queue to active.
func (r *QueueRepository) Claim(ctx context.Context, queue string, limit int, now time.Time) ([]*domain.QueueJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM queue_jobs
			 WHERE queue = $1 AND state IN ($2, $3) AND run_at <= $4
			 ORDER BY priority DESC, run_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $5
		 )
		 UPDATE queue_jobs
		 SET state = $6,
		     attempts = queue_jobs.attempts + 1,
		     started_at = $4,
		     heartbeat_at = $4
		 FROM cte
		 WHERE queue_jobs.id = cte.id
		 RETURNING queue_jobs.id, queue_jobs.queue, queue_jobs.name, queue_jobs.dedup_key, queue_jobs.payload,
		           queue_jobs.priority, queue_jobs.state, queue_jobs.attempts, queue_jobs.max_attempts,
		           queue_jobs.backoff_ms, queue_jobs.repeat_every_ms, queue_jobs.run_at, queue_jobs.heartbeat_at,
		           queue_jobs.last_error, queue_jobs.result, queue_jobs.created_at, queue_jobs.started_at,
		           queue_jobs.finished_at`,
		queue, domain.QueueJobWaiting, domain.QueueJobDelayed, now, limit, domain.QueueJobActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.QueueJob
	for rows.Next() {
		job, err := scanQueueJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Heartbeat refreshes the liveness timestamp of an active job.
func (r *QueueRepository) Heartbeat(ctx context.Context, id string, now time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE queue_jobs SET heartbeat_at = $1 WHERE id = $2 AND state = $3`,
		now, id, domain.QueueJobActive,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrQueueJobNotFound
	}
	return nil
}

func (r *QueueRepository) Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	var res []byte
	if len(result) > 0 {
		res = result
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE queue_jobs
		 SET state = $1, result = $2, last_error = NULL, finished_at = $3
		 WHERE id = $4 AND state = $5`,
		domain.QueueJobCompleted, res, now, id, domain.QueueJobActive,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrQueueJobNotFound
	}
	return nil
}

// Fail records a failed attempt. The job is delayed for its backoff while
// attempts remain and marked failed otherwise. It reports whether a retry was scheduled.
func (r *QueueRepository) Fail(ctx context.Context, job *domain.QueueJob, errMsg string, now time.Time) (bool, error) {
	retry := job.Attempts < job.MaxAttempts
	var cmdTag pgconn.CommandTag
	var err error
	if retry {
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE queue_jobs
			 SET state = $1, last_error = $2, run_at = $3, heartbeat_at = NULL
			 WHERE id = $4 AND state = $5`,
			domain.QueueJobDelayed, errMsg, now.Add(job.NextBackoff()), job.ID, domain.QueueJobActive,
		)
	} else {
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE queue_jobs
			 SET state = $1, last_error = $2, finished_at = $3
			 WHERE id = $4 AND state = $5`,
			domain.QueueJobFailed, errMsg, now, job.ID, domain.QueueJobActive,
		)
	}
	if err != nil {
		return false, err
	}
	if cmdTag.RowsAffected() == 0 {
		return false, domain.ErrQueueJobNotFound
	}
	return retry, nil
}

// RemovePending deletes a job that has not started yet.
func (r *QueueRepository) RemovePending(ctx context.Context, id string) (bool, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM queue_jobs WHERE id = $1 AND state IN ($2, $3)`,
		id, domain.QueueJobWaiting, domain.QueueJobDelayed,
	)
	if err != nil {
		return false, err
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Remove deletes a job regardless of its state.
func (r *QueueRepository) Remove(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM queue_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrQueueJobNotFound
	}
	return nil
}

// RemoveFinishedByDedupKey clears completed and failed rows so the key can be reused.
func (r *QueueRepository) RemoveFinishedByDedupKey(ctx context.Context, queue, key string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM queue_jobs WHERE queue = $1 AND dedup_key = $2 AND state IN ($3, $4)`,
		queue, key, domain.QueueJobCompleted, domain.QueueJobFailed,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// RemoveByDedupKey deletes every job of the key, including repeatable schedules.
func (r *QueueRepository) RemoveByDedupKey(ctx context.Context, queue, key string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM queue_jobs WHERE queue = $1 AND dedup_key = $2`, queue, key,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// RecoverStalled returns active jobs without a heartbeat since staleBefore to
// the waiting state, or fails them when no attempts remain.
func (r *QueueRepository) RecoverStalled(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE queue_jobs
		 SET state = CASE WHEN attempts < max_attempts THEN $1 ELSE $2 END,
		     finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE $3::timestamptz END,
		     last_error = 'stalled: no heartbeat',
		     run_at = $3
		 WHERE state = $4 AND (heartbeat_at IS NULL OR heartbeat_at < $5)`,
		domain.QueueJobWaiting, domain.QueueJobFailed, now, domain.QueueJobActive, staleBefore,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// PruneFinished deletes completed and failed jobs finished before cutoff.
func (r *QueueRepository) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM queue_jobs WHERE state IN ($1, $2) AND finished_at < $3`,
		domain.QueueJobCompleted, domain.QueueJobFailed, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// Stats counts jobs per queue and state.
func (r *QueueRepository) Stats(ctx context.Context, queues []string) (domain.QueueStats, error) {
	stats := make(domain.QueueStats, len(queues))
	for _, q := range queues {
		stats[q] = domain.QueueCounts{}
	}

	rows, err := r.db.Query(ctx, `SELECT queue, state, COUNT(*) FROM queue_jobs GROUP BY queue, state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var queue string
		var state domain.QueueJobState
		var n int64
		if err := rows.Scan(&queue, &state, &n); err != nil {
			return nil, err
		}
		c := stats[queue]
		switch state {
		case domain.QueueJobWaiting:
			c.Waiting = n
		case domain.QueueJobDelayed:
			c.Delayed = n
		case domain.QueueJobActive:
			c.Active = n
		case domain.QueueJobCompleted:
			c.Completed = n
		case domain.QueueJobFailed:
			c.Failed = n
		}
		stats[queue] = c
	}
	return stats, rows.Err()
}

func scanQueueJob(row pgx.Row) (*domain.QueueJob, error) {
	var job domain.QueueJob
	var dedupKey, lastError pgtype.Text
	var heartbeatAt, startedAt, finishedAt pgtype.Timestamptz
	var payload, result []byte
	var repeatMs int64
	if err := row.Scan(&job.ID, &job.Queue, &job.Name, &dedupKey, &payload, &job.Priority, &job.State,
		&job.Attempts, &job.MaxAttempts, &job.BackoffMs, &repeatMs, &job.RunAt, &heartbeatAt,
		&lastError, &result, &job.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	job.DedupKey = textValue(dedupKey)
	job.LastError = textValue(lastError)
	job.Payload = payload
	if len(result) > 0 {
		job.Result = result
	}
	job.RepeatEvery = time.Duration(repeatMs) * time.Millisecond
	job.HeartbeatAt = timePtr(heartbeatAt)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	return &job, nil
}
