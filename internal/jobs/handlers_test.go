package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/indexer"
	"github.com/cloo-solutions/repomem/internal/queue"
)

type stubRunner struct {
	got indexer.RunRequest
	res *indexer.RunResult
	err error
}

func (s *stubRunner) Run(_ context.Context, req indexer.RunRequest) (*indexer.RunResult, error) {
	s.got = req
	return s.res, s.err
}

type stubFlags map[string]bool

func (s stubFlags) IsCancelRequested(_ context.Context, id string) (bool, error) {
	return s[id], nil
}

type stubLocal struct {
	cancelled []string
}

func (s *stubLocal) CancelJob(jobID string) bool {
	s.cancelled = append(s.cancelled, jobID)
	return true
}

func indexingJob(t *testing.T, p domain.IndexingPayload) *domain.QueueJob {
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &domain.QueueJob{ID: "q1", Queue: domain.QueueIndexing, Payload: raw}
}

func TestIndexingHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("runs the engine", func(t *testing.T) {
		runner := &stubRunner{res: &indexer.RunResult{ProjectID: "alpha", Status: domain.IndexingJobStatusCompleted}}
		h := NewIndexingHandler(runner, stubFlags{}, &stubLocal{})

		out, err := h.Handle(ctx, indexingJob(t, domain.IndexingPayload{ProjectID: "alpha", JobID: "j1", FullReindex: true, Trigger: domain.TriggerWebhook}))
		require.NoError(t, err)
		assert.Equal(t, runner.res, out)
		assert.Equal(t, indexer.RunRequest{ProjectID: "alpha", JobID: "j1", FullReindex: true, Trigger: domain.TriggerWebhook}, runner.got)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		h := NewIndexingHandler(&stubRunner{err: errors.New("clone failed")}, stubFlags{}, &stubLocal{})
		_, err := h.Handle(ctx, indexingJob(t, domain.IndexingPayload{ProjectID: "alpha", JobID: "j1"}))
		require.Error(t, err)
		assert.False(t, isPermanent(err))
	})

	t.Run("missing project is permanent", func(t *testing.T) {
		h := NewIndexingHandler(&stubRunner{err: domain.ErrProjectNotFound}, stubFlags{}, &stubLocal{})
		_, err := h.Handle(ctx, indexingJob(t, domain.IndexingPayload{ProjectID: "gone", JobID: "j1"}))
		assert.True(t, isPermanent(err))
		assert.ErrorIs(t, err, domain.ErrProjectNotFound)
	})

	t.Run("bad payload is permanent", func(t *testing.T) {
		h := NewIndexingHandler(&stubRunner{}, stubFlags{}, &stubLocal{})
		_, err := h.Handle(ctx, &domain.QueueJob{Payload: json.RawMessage(`not json`)})
		assert.True(t, isPermanent(err))
	})

	t.Run("heartbeat forwards cancellation", func(t *testing.T) {
		local := &stubLocal{}
		h := NewIndexingHandler(&stubRunner{}, stubFlags{"j2": true}, local)

		h.OnHeartbeat(ctx, indexingJob(t, domain.IndexingPayload{ProjectID: "alpha", JobID: "j1"}))
		assert.Empty(t, local.cancelled)

		h.OnHeartbeat(ctx, indexingJob(t, domain.IndexingPayload{ProjectID: "alpha", JobID: "j2"}))
		assert.Equal(t, []string{"j2"}, local.cancelled)
	})
}

type stubProjects map[string]*domain.Project

func (s stubProjects) GetByID(_ context.Context, id string) (*domain.Project, error) {
	p, ok := s[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	return p, nil
}

func (s stubProjects) ListIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids, nil
}

type stubRemote struct {
	head  string
	err   error
	calls int
}

func (s *stubRemote) RemoteHead(context.Context, string, string) (string, error) {
	s.calls++
	return s.head, s.err
}

type stubEnqueuer struct {
	indexing bool
	requests []queue.IndexingRequest
}

func (s *stubEnqueuer) IsIndexing(context.Context, string) (bool, error) {
	return s.indexing, nil
}

func (s *stubEnqueuer) EnqueueIndexingJob(_ context.Context, req queue.IndexingRequest) (*queue.EnqueueResult, error) {
	s.requests = append(s.requests, req)
	return &queue.EnqueueResult{JobID: "j9", ProjectID: req.ProjectID}, nil
}

func scheduleJob(t *testing.T, projectID string) *domain.QueueJob {
	raw, err := json.Marshal(domain.SchedulePayload{ProjectID: projectID, IntervalMinutes: 30})
	require.NoError(t, err)
	return &domain.QueueJob{ID: "s1", Queue: domain.QueueSchedule, Payload: raw, RepeatEvery: 30 * time.Minute}
}

func TestScheduleHandler(t *testing.T) {
	ctx := context.Background()
	projects := stubProjects{
		"alpha": {ID: "alpha", RepoURL: "https://example.com/alpha.git", DefaultBranch: "main", LastIndexedRevision: "abc", LastIndexedBranch: "main"},
	}

	t.Run("no changes at indexed revision", func(t *testing.T) {
		q := &stubEnqueuer{}
		h := NewScheduleHandler(projects, &stubRemote{head: "abc"}, q)
		out, err := h.Handle(ctx, scheduleJob(t, "alpha"))
		require.NoError(t, err)
		assert.Equal(t, domain.ScheduleActionNoChanges, out.(*ScheduleResult).Action)
		assert.Empty(t, q.requests)
	})

	t.Run("enqueues when the branch moved", func(t *testing.T) {
		q := &stubEnqueuer{}
		h := NewScheduleHandler(projects, &stubRemote{head: "def"}, q)
		out, err := h.Handle(ctx, scheduleJob(t, "alpha"))
		require.NoError(t, err)
		res := out.(*ScheduleResult)
		assert.Equal(t, domain.ScheduleActionEnqueued, res.Action)
		assert.Equal(t, "j9", res.JobID)
		require.Len(t, q.requests, 1)
		assert.Equal(t, domain.TriggerScheduled, q.requests[0].Trigger)
		assert.Equal(t, "main", q.requests[0].Branch)
	})

	t.Run("skips while indexing", func(t *testing.T) {
		remote := &stubRemote{head: "def"}
		h := NewScheduleHandler(projects, remote, &stubEnqueuer{indexing: true})
		out, err := h.Handle(ctx, scheduleJob(t, "alpha"))
		require.NoError(t, err)
		assert.Equal(t, domain.ScheduleActionNoChanges, out.(*ScheduleResult).Action)
		assert.Zero(t, remote.calls)
	})

	t.Run("remote failure is retried", func(t *testing.T) {
		h := NewScheduleHandler(projects, &stubRemote{err: errors.New("ls-remote failed")}, &stubEnqueuer{})
		_, err := h.Handle(ctx, scheduleJob(t, "alpha"))
		require.Error(t, err)
		assert.False(t, isPermanent(err))
	})

	t.Run("deleted project stops the schedule", func(t *testing.T) {
		h := NewScheduleHandler(projects, &stubRemote{}, &stubEnqueuer{})
		_, err := h.Handle(ctx, scheduleJob(t, "gone"))
		assert.True(t, isPermanent(err))
	})
}

type stubJanitor struct {
	pruneCutoff time.Time
	staleBefore time.Time
}

func (s *stubJanitor) PruneFinished(_ context.Context, cutoff time.Time) (int64, error) {
	s.pruneCutoff = cutoff
	return 4, nil
}

func (s *stubJanitor) RecoverStalled(_ context.Context, staleBefore, _ time.Time) (int64, error) {
	s.staleBefore = staleBefore
	return 1, nil
}

type stubCopies struct {
	keep map[string]bool
}

func (s *stubCopies) PruneWorkingCopies(keep map[string]bool, _ time.Duration) ([]string, error) {
	s.keep = keep
	return []string{filepath.Join(os.TempDir(), "repos", "gone")}, nil
}

type stubCache struct {
	cutoff time.Time
}

func (s *stubCache) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return 7, nil
}

func TestCleanupHandler(t *testing.T) {
	janitor := &stubJanitor{}
	copies := &stubCopies{}
	cache := &stubCache{}
	h := NewCleanupHandler(janitor, stubProjects{"alpha": {ID: "alpha"}}, copies, cache, CleanupConfig{})
	h.now = func() time.Time { return fixedNow }

	out, err := h.Handle(context.Background(), &domain.QueueJob{})
	require.NoError(t, err)
	res := out.(*CleanupResult)

	assert.Equal(t, int64(4), res.PrunedJobs)
	assert.Equal(t, int64(1), res.RecoveredJobs)
	assert.Equal(t, int64(7), res.EvictedCache)
	assert.Len(t, res.RemovedDirectories, 1)
	assert.Equal(t, map[string]bool{"alpha": true}, copies.keep)
	assert.Equal(t, fixedNow.Add(-DefaultFinishedRetention), janitor.pruneCutoff)
	assert.Equal(t, fixedNow.Add(-DefaultStallAfter), janitor.staleBefore)
	assert.Equal(t, fixedNow.Add(-DefaultCacheRetention), cache.cutoff)
}
