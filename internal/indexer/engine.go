package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/parser"
	"github.com/cloo-solutions/repomem/internal/telemetry"
)

// Run modes reported in RunResult.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeFullReindex = "full_reindex"
)

const (
	progressStepPercent = 2
	progressStepFiles   = 25
)

var errRunCancelled = errors.New("indexing run cancelled")

type ProjectStore interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	UpdateIndexState(ctx context.Context, id string, state domain.ProjectIndexState) error
}

type JobStore interface {
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	UpdateProgress(ctx context.Context, id string, p domain.JobProgress) error
	Finish(ctx context.Context, job *domain.IndexingJob) error
}

// Memory is the subset of the memory gateway used for indexing.
type Memory interface {
	Ingest(ctx context.Context, in memory.IngestInput) (*memory.IngestResult, error)
	DeleteSource(ctx context.Context, source string, scope domain.Scope) (domain.Scope, error)
	DeleteAllProjectVectors(ctx context.Context, projectID string) (*memory.DeleteProjectResult, error)
	CountVectors(ctx context.Context, scope domain.Scope) (int64, error)
}

// Git is the working-copy client.
type Git interface {
	Clone(ctx context.Context, repoURL, branch, dir string, depth int) error
	Fetch(ctx context.Context, dir, branch string) error
	FetchRevision(ctx context.Context, dir, revision string) error
	Checkout(ctx context.Context, dir, branch string) error
	Pull(ctx context.Context, dir, branch string) error
	Diff(ctx context.Context, dir, from, to string) (domain.GitDiffResult, error)
	HeadRevision(ctx context.Context, dir string) (string, error)
	HasRevision(ctx context.Context, dir, revision string) bool
}

type Config struct {
	// WorkDir holds cached working copies under repos/ and temporary clones under tmp/.
	WorkDir     string
	MaxFileSize int64
	CloneDepth  int
}

type RunRequest struct {
	ProjectID   string
	JobID       string
	Branch      string
	FullReindex bool
	Trigger     domain.IndexingTrigger
}

type RunResult struct {
	ProjectID      string                   `json:"project_id"`
	JobID          string                   `json:"job_id"`
	Status         domain.IndexingJobStatus `json:"status"`
	Mode           string                   `json:"mode"`
	Branch         string                   `json:"branch"`
	Revision       string                   `json:"revision,omitempty"`
	FilesTotal     int                      `json:"files_total"`
	FilesProcessed int                      `json:"files_processed"`
	FilesFailed    int                      `json:"files_failed"`
	FilesSkipped   int                      `json:"files_skipped"`
	FilesDeleted   int                      `json:"files_deleted"`
	VectorsAdded   int                      `json:"vectors_added"`
	VectorCount    int64                    `json:"vector_count"`
	Error          string                   `json:"error,omitempty"`
}

// FileResult is the outcome of a single-file operation.
type FileResult struct {
	ProjectID    string       `json:"project_id"`
	Path         string       `json:"path"`
	Language     string       `json:"language,omitempty"`
	Scope        domain.Scope `json:"scope"`
	VectorsAdded int          `json:"vectors_added"`
	Skipped      bool         `json:"skipped"`
}

// Engine runs full and incremental indexing of project repositories.
type Engine struct {
	cfg      Config
	projects ProjectStore
	jobs     JobStore
	memory   Memory
	git      Git
	parsers  *parser.Registry
	filter   *FileFilter
	registry *Registry
	now      func() time.Time
}

func NewEngine(cfg Config, projects ProjectStore, jobs JobStore, mem Memory, git Git, parsers *parser.Registry, registry *Registry) *Engine {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "repomem")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.CloneDepth <= 0 {
		cfg.CloneDepth = 1
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		cfg:      cfg,
		projects: projects,
		jobs:     jobs,
		memory:   mem,
		git:      git,
		parsers:  parsers,
		filter:   NewFileFilter(parsers, cfg.MaxFileSize),
		registry: registry,
		now:      time.Now,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Filter() *FileFilter {
	return e.filter
}

// WorkingCopyDir is the cached working copy location of a project.
func (e *Engine) WorkingCopyDir(projectID string) string {
	return filepath.Join(e.cfg.WorkDir, "repos", projectID)
}

func (e *Engine) tempRoot() string {
	return filepath.Join(e.cfg.WorkDir, "tmp")
}

// run carries the mutable state of one Run call.
type run struct {
	project *domain.Project
	req     RunRequest
	rc      *RunContext
	result  *RunResult

	lastPercent int
	lastFiles   int
	tempDirs    []string
}

// Run executes one indexing job to a terminal state.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	project, err := e.projects.GetByID(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) && req.JobID != "" {
			e.finish(ctx, &RunResult{JobID: req.JobID, ProjectID: req.ProjectID, Status: domain.IndexingJobStatusFailed, Error: err.Error()})
		}
		return nil, err
	}

	runCtx, rc, err := e.registry.Register(ctx, project.ID, req.JobID)
	if err != nil {
		return nil, err
	}
	defer e.registry.Unregister(project.ID, req.JobID)

	runCtx, span := telemetry.StartSpan(runCtx, "indexer.run", telemetry.SpanAttributes{
		ProjectID: project.ID,
		JobID:     req.JobID,
		Operation: "index",
	})
	defer span.End()

	branch := req.Branch
	if branch == "" {
		branch = project.DefaultBranch
	}
	r := &run{
		project: project,
		req:     req,
		rc:      rc,
		result: &RunResult{
			ProjectID: project.ID,
			JobID:     req.JobID,
			Branch:    branch,
		},
	}
	defer e.removeTempDirs(r)

	if req.JobID != "" {
		if err := e.jobs.MarkRunning(ctx, req.JobID, e.now().UTC()); err != nil {
			if errors.Is(err, domain.ErrJobCancelled) {
				r.result.Status = domain.IndexingJobStatusCancelled
				e.finish(ctx, r.result)
				return r.result, nil
			}
			span.SetError(err)
			return nil, fmt.Errorf("mark job running: %w", err)
		}
	}

	log.Printf("indexer: job %s started for project %s (branch %s, full_reindex=%t)", req.JobID, project.ID, branch, req.FullReindex)

	switch {
	case req.FullReindex:
		err = e.runFullReindex(runCtx, r)
	default:
		err = e.runIncremental(runCtx, r)
	}

	switch {
	case err == nil:
		r.result.Status = domain.IndexingJobStatusCompleted
	case rc.Cancelled() || errors.Is(err, errRunCancelled):
		r.result.Status = domain.IndexingJobStatusCancelled
		err = nil
	default:
		r.result.Status = domain.IndexingJobStatusFailed
		r.result.Error = err.Error()
		span.SetError(err)
		telemetry.CaptureError(runCtx, err)
	}

	span.SetData("mode", r.result.Mode)
	span.SetData("files_processed", r.result.FilesProcessed)
	span.SetData("vectors_added", r.result.VectorsAdded)
	e.finish(ctx, r.result)
	log.Printf("indexer: job %s %s (%s, files=%d/%d failed=%d vectors=%d)", req.JobID, r.result.Status,
		r.result.Mode, r.result.FilesProcessed, r.result.FilesTotal, r.result.FilesFailed, r.result.VectorsAdded)
	return r.result, err
}

// finish persists the terminal state. It runs detached from cancellation so a
// cancelled run can still record itself.
func (e *Engine) finish(ctx context.Context, res *RunResult) {
	if res.JobID == "" {
		return
	}
	now := e.now().UTC()
	job := &domain.IndexingJob{
		ID:             res.JobID,
		ProjectID:      res.ProjectID,
		Status:         res.Status,
		Progress:       domain.Percent(res.FilesProcessed, res.FilesTotal),
		FilesTotal:     res.FilesTotal,
		FilesProcessed: res.FilesProcessed,
		FilesFailed:    res.FilesFailed,
		VectorsAdded:   res.VectorsAdded,
		Revision:       res.Revision,
		Error:          res.Error,
		CompletedAt:    &now,
	}
	if res.Status == domain.IndexingJobStatusCompleted {
		job.Progress = 100
	}
	if err := e.jobs.Finish(context.WithoutCancel(ctx), job); err != nil {
		log.Printf("indexer: failed to record %s for job %s: %v", res.Status, res.JobID, err)
	}
}

func (e *Engine) runFullReindex(ctx context.Context, r *run) error {
	r.result.Mode = ModeFullReindex
	res, err := e.memory.DeleteAllProjectVectors(ctx, r.project.ID)
	if err != nil {
		return fmt.Errorf("clear project vectors: %w", err)
	}
	log.Printf("indexer: cleared %d vectors of project %s", res.Deleted, r.project.ID)
	return e.runFull(ctx, r)
}

// runFull indexes every allowed file of a fresh shallow clone.
func (e *Engine) runFull(ctx context.Context, r *run) error {
	if r.result.Mode == "" {
		r.result.Mode = ModeFull
	}
	if err := os.MkdirAll(e.tempRoot(), 0o755); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(e.tempRoot(), r.project.ID+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	r.tempDirs = append(r.tempDirs, dir)

	if err := e.git.Clone(ctx, r.project.RepoURL, r.result.Branch, dir, e.cfg.CloneDepth); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	revision, err := e.git.HeadRevision(ctx, dir)
	if err != nil {
		return fmt.Errorf("resolve head: %w", err)
	}
	r.result.Revision = revision

	files, err := e.filter.Walk(dir)
	if err != nil {
		return fmt.Errorf("walk working copy: %w", err)
	}
	r.result.FilesTotal = len(files)
	r.rc.setTotal(len(files))

	scope := r.project.Scope()
	for _, rel := range files {
		if err := e.checkCancelled(ctx, r); err != nil {
			return err
		}
		e.processFile(ctx, r, dir, rel, scope)
	}

	return e.commitState(ctx, r, len(files))
}

// runIncremental applies the diff between the recorded and the target revision.
func (e *Engine) runIncremental(ctx context.Context, r *run) error {
	if !r.project.HasIndexedRevision() {
		return e.runFull(ctx, r)
	}
	r.result.Mode = ModeIncremental

	dir, err := e.refreshWorkingCopy(ctx, r.project, r.result.Branch)
	if err != nil {
		return err
	}
	target, err := e.git.HeadRevision(ctx, dir)
	if err != nil {
		return fmt.Errorf("resolve head: %w", err)
	}
	r.result.Revision = target

	from := r.project.LastIndexedRevision
	if !e.git.HasRevision(ctx, dir, from) {
		if err := e.git.FetchRevision(ctx, dir, from); err != nil || !e.git.HasRevision(ctx, dir, from) {
			log.Printf("indexer: recorded revision %s of project %s is gone, reindexing fully", from, r.project.ID)
			r.result.Mode = ModeFullReindex
			return e.runFullReindex(ctx, r)
		}
	}

	var diff domain.GitDiffResult
	if from != target {
		diff, err = e.git.Diff(ctx, dir, from, target)
		if err != nil {
			return fmt.Errorf("diff %s..%s: %w", from, target, err)
		}
	}

	scope := r.project.Scope()
	var removals []string
	removals = append(removals, diff.Deleted...)
	for _, rn := range diff.Renamed {
		removals = append(removals, rn.From)
	}
	var updates []string
	updates = append(updates, diff.Added...)
	updates = append(updates, diff.Modified...)
	for _, rn := range diff.Renamed {
		updates = append(updates, rn.To)
	}

	r.result.FilesTotal = len(updates)
	r.rc.setTotal(len(updates))

	for _, rel := range removals {
		if err := e.checkCancelled(ctx, r); err != nil {
			return err
		}
		if _, err := e.memory.DeleteSource(ctx, rel, scope); err != nil {
			return fmt.Errorf("delete %s: %w", rel, err)
		}
		r.result.FilesDeleted++
	}

	for _, rel := range updates {
		if err := e.checkCancelled(ctx, r); err != nil {
			return err
		}
		if !e.filter.Allowed(rel) {
			// a path that dropped out of the allow-list must not keep stale vectors
			if _, err := e.memory.DeleteSource(ctx, rel, scope); err != nil {
				return fmt.Errorf("delete %s: %w", rel, err)
			}
			r.result.FilesSkipped++
			e.advance(ctx, r)
			continue
		}
		e.processFile(ctx, r, dir, rel, scope)
	}

	fileCount := r.project.FileCount
	if files, err := e.filter.Walk(dir); err == nil {
		fileCount = len(files)
	}
	return e.commitState(ctx, r, fileCount)
}

// refreshWorkingCopy brings the cached working copy of a project to the tip of branch.
func (e *Engine) refreshWorkingCopy(ctx context.Context, project *domain.Project, branch string) (string, error) {
	dir := e.WorkingCopyDir(project.ID)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("reset working copy: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", fmt.Errorf("create working copy root: %w", err)
		}
		if err := e.git.Clone(ctx, project.RepoURL, branch, dir, 0); err != nil {
			return "", fmt.Errorf("clone: %w", err)
		}
		return dir, nil
	}

	if err := e.git.Fetch(ctx, dir, branch); err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	if err := e.git.Checkout(ctx, dir, branch); err != nil {
		return "", fmt.Errorf("checkout %s: %w", branch, err)
	}
	if err := e.git.Pull(ctx, dir, branch); err != nil {
		return "", fmt.Errorf("pull: %w", err)
	}
	return dir, nil
}

// processFile indexes one file. Failures are logged and counted, never returned.
func (e *Engine) processFile(ctx context.Context, r *run, root, rel string, scope domain.Scope) {
	defer e.advance(ctx, r)

	res, err := e.indexFile(ctx, root, rel, r.project.ID, scope)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		r.result.FilesFailed++
		log.Printf("indexer: project %s: %s: %v", r.project.ID, rel, err)
	case res.Skipped:
		r.result.FilesSkipped++
	default:
		r.result.VectorsAdded += res.VectorsAdded
	}
}

// indexFile reads, filters and ingests rel, replacing any previous vectors of the path.
func (e *Engine) indexFile(ctx context.Context, root, rel, projectID string, scope domain.Scope) (*FileResult, error) {
	res := &FileResult{ProjectID: projectID, Path: rel, Scope: scope}

	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() || info.Size() == 0 || info.Size() > e.filter.MaxFileSize() {
		res.Skipped = true
		return res, nil
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(content, 0) >= 0 || strings.TrimSpace(string(content)) == "" {
		res.Skipped = true
		return res, nil
	}

	res.Language = e.parsers.LanguageForPath(rel)
	if _, err := e.memory.DeleteSource(ctx, rel, scope); err != nil {
		return nil, fmt.Errorf("delete previous vectors: %w", err)
	}
	ingested, err := e.memory.Ingest(ctx, memory.IngestInput{
		Content:     string(content),
		Source:      rel,
		ContentType: domain.ContentTypeForLanguage(res.Language),
		Language:    res.Language,
		ProjectID:   projectID,
		SourceType:  domain.SourceTypeRepository,
	})
	if err != nil {
		return nil, err
	}
	res.VectorsAdded = ingested.VectorsAdded
	return res, nil
}

func (e *Engine) checkCancelled(ctx context.Context, r *run) error {
	if r.rc.Cancelled() {
		return errRunCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("indexing interrupted: %w", err)
	}
	return nil
}

// advance counts a processed file and writes durable progress when it moved
// by progressStepPercent points or progressStepFiles files.
func (e *Engine) advance(ctx context.Context, r *run) {
	r.result.FilesProcessed++
	r.rc.advance()
	if r.req.JobID == "" {
		return
	}

	pct := domain.Percent(r.result.FilesProcessed, r.result.FilesTotal)
	if pct-r.lastPercent < progressStepPercent && r.result.FilesProcessed-r.lastFiles < progressStepFiles {
		return
	}
	r.lastPercent = pct
	r.lastFiles = r.result.FilesProcessed
	if err := e.jobs.UpdateProgress(ctx, r.req.JobID, domain.JobProgress{
		Progress:       pct,
		FilesTotal:     r.result.FilesTotal,
		FilesProcessed: r.result.FilesProcessed,
		FilesFailed:    r.result.FilesFailed,
		VectorsAdded:   r.result.VectorsAdded,
	}); err != nil {
		if errors.Is(err, domain.ErrJobCancelled) {
			r.rc.Cancel()
			return
		}
		log.Printf("indexer: progress update for job %s failed: %v", r.req.JobID, err)
	}
}

// commitState advances the recorded revision after the whole batch completed.
func (e *Engine) commitState(ctx context.Context, r *run, fileCount int) error {
	if err := e.checkCancelled(ctx, r); err != nil {
		return err
	}
	count, err := e.memory.CountVectors(ctx, r.project.Scope())
	if err != nil {
		return fmt.Errorf("count vectors: %w", err)
	}
	r.result.VectorCount = count
	return e.projects.UpdateIndexState(ctx, r.project.ID, domain.ProjectIndexState{
		Revision:    r.result.Revision,
		Branch:      r.result.Branch,
		FileCount:   fileCount,
		VectorCount: count,
		IndexedAt:   e.now().UTC(),
	})
}

func (e *Engine) removeTempDirs(r *run) {
	for _, dir := range r.tempDirs {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("indexer: failed to remove %s: %v", dir, err)
		}
	}
}

// IndexSingleFile indexes one path of the cached working copy as it is.
func (e *Engine) IndexSingleFile(ctx context.Context, projectID, rel string) (*FileResult, error) {
	project, err := e.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	dir := e.WorkingCopyDir(project.ID)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil, domain.ErrWorkingCopyNotFound
	}
	return e.singleFile(ctx, project, dir, rel)
}

// ReindexSingleFile refreshes the cached working copy, then re-indexes one path.
// A path that no longer exists has its vectors removed.
func (e *Engine) ReindexSingleFile(ctx context.Context, projectID, rel string) (*FileResult, error) {
	project, err := e.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	branch := project.LastIndexedBranch
	if branch == "" {
		branch = project.DefaultBranch
	}
	dir, err := e.refreshWorkingCopy(ctx, project, branch)
	if err != nil {
		return nil, err
	}

	res, err := e.singleFile(ctx, project, dir, rel)
	if errors.Is(err, domain.ErrSourceFileNotFound) {
		clean, _ := cleanRelPath(rel)
		if _, delErr := e.memory.DeleteSource(ctx, clean, project.Scope()); delErr != nil {
			return nil, delErr
		}
		return &FileResult{ProjectID: project.ID, Path: clean, Scope: project.Scope(), Skipped: true}, nil
	}
	return res, err
}

func (e *Engine) singleFile(ctx context.Context, project *domain.Project, dir, rel string) (*FileResult, error) {
	clean, ok := cleanRelPath(rel)
	if !ok {
		return nil, domain.NewValidationError("invalid file path: %s", rel)
	}
	if !e.filter.Allowed(clean) {
		return nil, domain.ErrSourceFileNotIndexed
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSourceFileNotFound
		}
		return nil, err
	}
	return e.indexFile(ctx, dir, clean, project.ID, project.Scope())
}

func cleanRelPath(rel string) (string, bool) {
	rel = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(rel)), "/")
	clean := path.Clean(rel)
	if rel == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// PruneWorkingCopies removes cached working copies of projects not in keep and
// temporary clones older than maxTempAge. It returns the removed directories.
func (e *Engine) PruneWorkingCopies(keep map[string]bool, maxTempAge time.Duration) ([]string, error) {
	var removed []string

	reposDir := filepath.Join(e.cfg.WorkDir, "repos")
	entries, err := os.ReadDir(reposDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() || keep[entry.Name()] || e.registry.IsIndexing(entry.Name()) {
			continue
		}
		dir := filepath.Join(reposDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			return removed, err
		}
		removed = append(removed, dir)
	}

	entries, err = os.ReadDir(e.tempRoot())
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}
	cutoff := e.now().Add(-maxTempAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(e.tempRoot(), entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			return removed, err
		}
		removed = append(removed, dir)
	}
	return removed, nil
}
