//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/pagination"
	"github.com/cloo-solutions/repomem/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexingJobRepository(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	projects := NewProjectRepository(pool)
	repo := NewIndexingJobRepository(pool)

	newJob := func(t *testing.T) *domain.IndexingJob {
		t.Helper()
		job := domain.NewIndexingJob(uuid.NewString(), "alpha", "main", domain.TriggerManual, false,
			time.Now().UTC().Truncate(time.Microsecond))
		require.NoError(t, repo.Create(ctx, job))
		return job
	}

	t.Run("lifecycle", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		createProject(ctx, t, projects, "alpha")
		job := newJob(t)

		require.NoError(t, repo.MarkRunning(ctx, job.ID, time.Now().UTC()))
		require.NoError(t, repo.UpdateProgress(ctx, job.ID, domain.JobProgress{
			Progress: 50, FilesTotal: 10, FilesProcessed: 5, VectorsAdded: 20,
		}))

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IndexingJobStatusRunning, got.Status)
		assert.Equal(t, 50, got.Progress)
		assert.NotNil(t, got.StartedAt)

		got.Status = domain.IndexingJobStatusCompleted
		got.Progress = 100
		got.FilesProcessed = 10
		got.Revision = "deadbeef"
		require.NoError(t, repo.Finish(ctx, got))

		done, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IndexingJobStatusCompleted, done.Status)
		assert.Equal(t, "deadbeef", done.Revision)
		assert.NotNil(t, done.CompletedAt)

		assert.ErrorIs(t, repo.UpdateProgress(ctx, job.ID, domain.JobProgress{}), domain.ErrJobAlreadyFinished)
		assert.ErrorIs(t, repo.Finish(ctx, done), domain.ErrJobAlreadyFinished)
	})

	t.Run("cancel before start", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		createProject(ctx, t, projects, "alpha")
		job := newJob(t)

		require.NoError(t, repo.RequestCancel(ctx, job.ID))
		requested, err := repo.IsCancelRequested(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, requested)

		assert.ErrorIs(t, repo.MarkRunning(ctx, job.ID, time.Now().UTC()), domain.ErrJobCancelled)
	})

	t.Run("failure keeps raw error", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		createProject(ctx, t, projects, "alpha")
		job := newJob(t)
		require.NoError(t, repo.MarkRunning(ctx, job.ID, time.Now().UTC()))

		job.Status = domain.IndexingJobStatusFailed
		job.Error = "git clone: exit status 128"
		require.NoError(t, repo.Finish(ctx, job))

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "git clone: exit status 128", got.Error)

		// a retried attempt restarts the failed job
		require.NoError(t, repo.MarkRunning(ctx, job.ID, time.Now().UTC()))
		got, err = repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.IndexingJobStatusRunning, got.Status)
		assert.Empty(t, got.Error)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("active job lookup", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		createProject(ctx, t, projects, "alpha")
		job := newJob(t)

		active, err := repo.HasActiveJob(ctx, "alpha", "")
		require.NoError(t, err)
		assert.True(t, active)

		active, err = repo.HasActiveJob(ctx, "alpha", job.ID)
		require.NoError(t, err)
		assert.False(t, active)

		jobs, err := repo.ListByProject(ctx, "alpha", nil, 5)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)
	})

	t.Run("keyset listing", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		createProject(ctx, t, projects, "alpha")

		base := time.Now().UTC().Truncate(time.Microsecond)
		var ids []string
		for i := range 3 {
			job := domain.NewIndexingJob(uuid.NewString(), "alpha", "main", domain.TriggerManual, false,
				base.Add(time.Duration(i)*time.Second))
			require.NoError(t, repo.Create(ctx, job))
			ids = append(ids, job.ID)
		}

		first, err := repo.ListByProject(ctx, "alpha", nil, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, ids[2], first[0].ID)
		assert.Equal(t, ids[1], first[1].ID)

		last := first[1]
		rest, err := repo.ListByProject(ctx, "alpha", &pagination.Cursor{LastID: last.ID, Timestamp: last.CreatedAt}, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, ids[0], rest[0].ID)
	})

	t.Run("not found", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		_, err := repo.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrIndexingJobNotFound)
		assert.ErrorIs(t, repo.RequestCancel(ctx, uuid.NewString()), domain.ErrIndexingJobNotFound)
	})
}
