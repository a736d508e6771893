//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRepository(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewQueueRepository(pool)

	add := func(t *testing.T, job *domain.QueueJob) *domain.QueueJob {
		t.Helper()
		require.NoError(t, repo.Add(ctx, job))
		return job
	}

	t.Run("dedup key blocks second in-flight job", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		first := add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "index", DedupKey: "alpha"})
		assert.Equal(t, domain.QueueJobWaiting, first.State)
		assert.Len(t, first.ID, 26)

		err := repo.Add(ctx, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "index", DedupKey: "alpha"})
		assert.ErrorIs(t, err, domain.ErrDuplicateQueueJob)

		got, err := repo.GetInFlightByDedupKey(ctx, domain.QueueIndexing, "alpha")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("claim respects priority and delay", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		now := time.Now().UTC()
		low := add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "low"})
		high := add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "high", Priority: 5})
		delayed := add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "later", RunAt: now.Add(time.Hour)})
		assert.Equal(t, domain.QueueJobDelayed, delayed.State)
		add(t, &domain.QueueJob{Queue: domain.QueueCleanup, Name: "other"})

		claimed, err := repo.Claim(ctx, domain.QueueIndexing, 10, now.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, high.ID, claimed[0].ID)
		assert.Equal(t, low.ID, claimed[1].ID)
		for _, j := range claimed {
			assert.Equal(t, domain.QueueJobActive, j.State)
			assert.Equal(t, 1, j.Attempts)
			assert.NotNil(t, j.HeartbeatAt)
		}

		again, err := repo.Claim(ctx, domain.QueueIndexing, 10, now.Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("fail retries with backoff then fails", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		now := time.Now().UTC()
		add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "index", MaxAttempts: 2, BackoffMs: 1000})

		claimed, err := repo.Claim(ctx, domain.QueueIndexing, 1, now)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		retry, err := repo.Fail(ctx, claimed[0], "boom", now)
		require.NoError(t, err)
		assert.True(t, retry)

		got, err := repo.GetByID(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueJobDelayed, got.State)
		assert.Equal(t, "boom", got.LastError)
		assert.WithinDuration(t, now.Add(time.Second), got.RunAt, time.Millisecond)

		claimed, err = repo.Claim(ctx, domain.QueueIndexing, 1, now.Add(2*time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 2, claimed[0].Attempts)

		retry, err = repo.Fail(ctx, claimed[0], "boom again", now)
		require.NoError(t, err)
		assert.False(t, retry)

		got, err = repo.GetByID(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueJobFailed, got.State)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("complete, heartbeat and prune", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		now := time.Now().UTC()
		add(t, &domain.QueueJob{Queue: domain.QueueSchedule, Name: "check", DedupKey: "alpha",
			RepeatEvery: 15 * time.Minute})

		claimed, err := repo.Claim(ctx, domain.QueueSchedule, 1, now)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 15*time.Minute, claimed[0].RepeatEvery)

		require.NoError(t, repo.Heartbeat(ctx, claimed[0].ID, now.Add(time.Second)))
		require.NoError(t, repo.Complete(ctx, claimed[0].ID, json.RawMessage(`{"action":"no_changes"}`), now))
		assert.ErrorIs(t, repo.Heartbeat(ctx, claimed[0].ID, now), domain.ErrQueueJobNotFound)

		got, err := repo.GetByID(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueJobCompleted, got.State)
		assert.JSONEq(t, `{"action":"no_changes"}`, string(got.Result))

		// finished rows no longer hold the dedup key
		add(t, &domain.QueueJob{Queue: domain.QueueSchedule, Name: "check", DedupKey: "alpha"})

		pruned, err := repo.PruneFinished(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)
	})

	t.Run("remove pending and stats", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		payload, _ := json.Marshal(domain.IndexingPayload{ProjectID: "alpha", JobID: "job-1"})
		job := add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "index", DedupKey: "alpha", Payload: payload})
		add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "index", DedupKey: "beta"})

		found, err := repo.GetByPayloadJobID(ctx, domain.QueueIndexing, "job-1")
		require.NoError(t, err)
		assert.Equal(t, job.ID, found.ID)

		stats, err := repo.Stats(ctx, []string{domain.QueueIndexing, domain.QueueSchedule})
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats[domain.QueueIndexing].Waiting)
		assert.Equal(t, domain.QueueCounts{}, stats[domain.QueueSchedule])

		removed, err := repo.RemovePending(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = repo.GetByID(ctx, job.ID)
		assert.ErrorIs(t, err, domain.ErrQueueJobNotFound)
	})

	t.Run("recover stalled active jobs", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))
		now := time.Now().UTC()
		add(t, &domain.QueueJob{Queue: domain.QueueIndexing, Name: "index"})
		claimed, err := repo.Claim(ctx, domain.QueueIndexing, 1, now)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		n, err := repo.RecoverStalled(ctx, now.Add(time.Minute), now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, domain.QueueJobWaiting, got.State)
	})
}
