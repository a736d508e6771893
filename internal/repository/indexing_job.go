package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const indexingJobColumns = `id, project_id, branch, trigger, full_reindex, status, progress,
	files_total, files_processed, files_failed, vectors_added, revision, error, cancel_requested,
	created_at, started_at, completed_at`

type IndexingJobRepository struct {
	db dbtx
}

func NewIndexingJobRepository(pool *pgxpool.Pool) *IndexingJobRepository {
	return &IndexingJobRepository{db: pool}
}

func NewIndexingJobRepositoryWithTx(tx pgx.Tx) *IndexingJobRepository {
	return &IndexingJobRepository{db: tx}
}

func (r *IndexingJobRepository) Create(ctx context.Context, job *domain.IndexingJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO indexing_jobs (id, project_id, branch, trigger, full_reindex, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.ProjectID, job.Branch, job.Trigger, job.FullReindex, job.Status, job.CreatedAt,
	)
	return err
}

func (r *IndexingJobRepository) GetByID(ctx context.Context, id string) (*domain.IndexingJob, error) {
	job, err := scanIndexingJob(r.db.QueryRow(ctx,
		`SELECT `+indexingJobColumns+` FROM indexing_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIndexingJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByProject returns jobs of a project, newest first. A non-nil after
// resumes strictly below that keyset position.
func (r *IndexingJobRepository) ListByProject(ctx context.Context, projectID string, after *pagination.Cursor, limit int) ([]*domain.IndexingJob, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + indexingJobColumns + ` FROM indexing_jobs WHERE project_id = $1`
	args := []any{projectID}
	if after != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, after.Timestamp, after.LastID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.IndexingJob
	for rows.Next() {
		job, err := scanIndexingJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a pending job, or a failed one being retried, to running.
// Cancelled and completed jobs are refused.
func (r *IndexingJobRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE indexing_jobs
		 SET status = $1, started_at = $2, error = NULL, completed_at = NULL
		 WHERE id = $3 AND status IN ($4, $1, $5) AND NOT cancel_requested`,
		domain.IndexingJobStatusRunning, startedAt, id, domain.IndexingJobStatusPending,
		domain.IndexingJobStatusFailed,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

func (r *IndexingJobRepository) UpdateProgress(ctx context.Context, id string, p domain.JobProgress) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE indexing_jobs
		 SET progress = $1, files_total = $2, files_processed = $3, files_failed = $4, vectors_added = $5
		 WHERE id = $6 AND status = $7`,
		p.Progress, p.FilesTotal, p.FilesProcessed, p.FilesFailed, p.VectorsAdded,
		id, domain.IndexingJobStatusRunning,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// Finish writes the terminal status of a job together with its final counters.
func (r *IndexingJobRepository) Finish(ctx context.Context, job *domain.IndexingJob) error {
	if !job.Status.IsTerminal() {
		return domain.ErrInvalidJobStatus
	}
	completedAt := time.Now().UTC()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE indexing_jobs
		 SET status = $1, progress = $2, files_total = $3, files_processed = $4, files_failed = $5,
		     vectors_added = $6, revision = $7, error = $8, completed_at = $9
		 WHERE id = $10 AND status IN ($11, $12)`,
		job.Status, job.Progress, job.FilesTotal, job.FilesProcessed, job.FilesFailed,
		job.VectorsAdded, nullableString(job.Revision), nullableString(job.Error), completedAt,
		job.ID, domain.IndexingJobStatusPending, domain.IndexingJobStatusRunning,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, job.ID)
	}
	return nil
}

// RequestCancel sets the durable cancellation flag of an unfinished job.
func (r *IndexingJobRepository) RequestCancel(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE indexing_jobs SET cancel_requested = TRUE
		 WHERE id = $1 AND status IN ($2, $3)`,
		id, domain.IndexingJobStatusPending, domain.IndexingJobStatusRunning,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

func (r *IndexingJobRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx,
		`SELECT cancel_requested FROM indexing_jobs WHERE id = $1`, id,
	).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrIndexingJobNotFound
		}
		return false, err
	}
	return requested, nil
}

// HasActiveJob reports whether the project has a pending or running job other than exceptID.
func (r *IndexingJobRepository) HasActiveJob(ctx context.Context, projectID, exceptID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			 SELECT 1 FROM indexing_jobs
			 WHERE project_id = $1 AND id <> $2 AND status IN ($3, $4)
		 )`,
		projectID, exceptID, domain.IndexingJobStatusPending, domain.IndexingJobStatusRunning,
	).Scan(&exists)
	return exists, err
}

func (r *IndexingJobRepository) classifyMiss(ctx context.Context, id string) error {
	var status domain.IndexingJobStatus
	var cancelRequested bool
	err := r.db.QueryRow(ctx,
		`SELECT status, cancel_requested FROM indexing_jobs WHERE id = $1`, id,
	).Scan(&status, &cancelRequested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrIndexingJobNotFound
		}
		return err
	}
	if status == domain.IndexingJobStatusCancelled || cancelRequested {
		return domain.ErrJobCancelled
	}
	return domain.ErrJobAlreadyFinished
}

func scanIndexingJob(row pgx.Row) (*domain.IndexingJob, error) {
	var job domain.IndexingJob
	var revision, errMsg pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.ProjectID, &job.Branch, &job.Trigger, &job.FullReindex, &job.Status,
		&job.Progress, &job.FilesTotal, &job.FilesProcessed, &job.FilesFailed, &job.VectorsAdded,
		&revision, &errMsg, &job.CancelRequested, &job.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	job.Revision = textValue(revision)
	job.Error = textValue(errMsg)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}
