package indexer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/gitrepo"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/parser"
)

type fakeProjects struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
}

func newFakeProjects(projects ...*domain.Project) *fakeProjects {
	f := &fakeProjects{projects: make(map[string]*domain.Project)}
	for _, p := range projects {
		f.projects[p.ID] = p
	}
	return f
}

func (f *fakeProjects) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjects) UpdateIndexState(ctx context.Context, id string, s domain.ProjectIndexState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return domain.ErrProjectNotFound
	}
	p.LastIndexedRevision = s.Revision
	p.LastIndexedBranch = s.Branch
	p.FileCount = s.FileCount
	p.VectorCount = s.VectorCount
	at := s.IndexedAt
	p.LastIndexedAt = &at
	return nil
}

type fakeJobs struct {
	mu         sync.Mutex
	running    []string
	progress   []domain.JobProgress
	finished   map[string]*domain.IndexingJob
	runningErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{finished: make(map[string]*domain.IndexingJob)}
}

func (f *fakeJobs) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runningErr != nil {
		return f.runningErr
	}
	f.running = append(f.running, id)
	return nil
}

func (f *fakeJobs) UpdateProgress(ctx context.Context, id string, p domain.JobProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
	return nil
}

func (f *fakeJobs) Finish(ctx context.Context, job *domain.IndexingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.finished[job.ID] = &cp
	return nil
}

// fakeMemory stores one vector per ingested file.
type fakeMemory struct {
	mu       sync.Mutex
	vectors  map[domain.Scope]map[string]int
	ingested []string
	deleted  []string
	cleared  []string
	ops      []string // every Ingest and DeleteSource call, in order
	failOn   map[string]error
	onIngest func(source string)
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{vectors: make(map[domain.Scope]map[string]int), failOn: map[string]error{}}
}

func (f *fakeMemory) Ingest(ctx context.Context, in memory.IngestInput) (*memory.IngestResult, error) {
	if f.onIngest != nil {
		f.onIngest(in.Source)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[in.Source]; ok {
		return nil, err
	}
	scope := domain.ResolveScope(in.ProjectID, in.Scope)
	if f.vectors[scope] == nil {
		f.vectors[scope] = make(map[string]int)
	}
	f.vectors[scope][in.Source] = 1
	f.ingested = append(f.ingested, in.Source)
	f.ops = append(f.ops, "ingest "+in.Source)
	return &memory.IngestResult{VectorsAdded: 1, Scope: scope, Language: in.Language}, nil
}

func (f *fakeMemory) DeleteSource(ctx context.Context, source string, scope domain.Scope) (domain.Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete "+source)
	if _, ok := f.vectors[scope][source]; ok {
		f.deleted = append(f.deleted, source)
	}
	delete(f.vectors[scope], source)
	return scope, nil
}

func (f *fakeMemory) DeleteAllProjectVectors(ctx context.Context, projectID string) (*memory.DeleteProjectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scope := domain.ProjectScope(projectID)
	n := int64(len(f.vectors[scope]))
	delete(f.vectors, scope)
	f.cleared = append(f.cleared, projectID)
	return &memory.DeleteProjectResult{Scope: scope, Deleted: n}, nil
}

func (f *fakeMemory) CountVectors(ctx context.Context, scope domain.Scope) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.vectors[scope])), nil
}

func (f *fakeMemory) sources(scope domain.Scope) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for s := range f.vectors[scope] {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type testRepo struct {
	t   *testing.T
	dir string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if !gitrepo.Available() {
		t.Skip("git not installed")
	}
	r := &testRepo{t: t, dir: t.TempDir()}
	r.git("init", "-q", "-b", "main")
	return r
}

func (r *testRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "user.name=Test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, string(out))
	return string(out)
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.dir, path)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
}

func (r *testRepo) remove(path string) {
	r.t.Helper()
	require.NoError(r.t, os.Remove(filepath.Join(r.dir, path)))
}

func (r *testRepo) commit(msg string) string {
	r.t.Helper()
	r.git("add", "-A")
	r.git("commit", "-q", "-m", msg)
	return r.git("rev-parse", "HEAD")[:40]
}

func (r *testRepo) url() string {
	return "file://" + r.dir
}

type engineFixture struct {
	engine   *Engine
	projects *fakeProjects
	jobs     *fakeJobs
	memory   *fakeMemory
	project  *domain.Project
	workDir  string
}

func newEngineFixture(t *testing.T, repoURL string) *engineFixture {
	t.Helper()
	project := domain.NewProject("alpha", "Alpha", repoURL, "main", time.Now().UTC())
	f := &engineFixture{
		projects: newFakeProjects(project),
		jobs:     newFakeJobs(),
		memory:   newFakeMemory(),
		workDir:  t.TempDir(),
	}
	f.engine = NewEngine(Config{WorkDir: f.workDir}, f.projects, f.jobs, f.memory,
		gitrepo.NewClient(gitrepo.Timeouts{}), parser.DefaultRegistry(), NewRegistry())
	f.project = project
	return f
}

func (f *engineFixture) run(t *testing.T, req RunRequest) (*RunResult, error) {
	t.Helper()
	if req.ProjectID == "" {
		req.ProjectID = f.project.ID
	}
	if req.JobID == "" {
		req.JobID = fmt.Sprintf("job-%d", len(f.jobs.finished)+1)
	}
	return f.engine.Run(context.Background(), req)
}

func (f *engineFixture) finished(t *testing.T, jobID string) *domain.IndexingJob {
	t.Helper()
	f.jobs.mu.Lock()
	defer f.jobs.mu.Unlock()
	job, ok := f.jobs.finished[jobID]
	require.True(t, ok, "job %s was not finished", jobID)
	return job
}
