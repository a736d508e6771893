package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
)

const (
	DefaultFinishedRetention = 7 * 24 * time.Hour
	DefaultStallAfter        = 2 * time.Minute
	DefaultTempCloneAge      = 6 * time.Hour
	DefaultCacheRetention    = time.Hour
)

type QueueJanitor interface {
	PruneFinished(ctx context.Context, cutoff time.Time) (int64, error)
	RecoverStalled(ctx context.Context, staleBefore, now time.Time) (int64, error)
}

type ProjectLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

type WorkingCopyPruner interface {
	PruneWorkingCopies(keep map[string]bool, maxTempAge time.Duration) ([]string, error)
}

type CachePruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupConfig struct {
	FinishedRetention time.Duration
	StallAfter        time.Duration
	TempCloneAge      time.Duration
	CacheRetention    time.Duration
}

type CleanupResult struct {
	PrunedJobs         int64    `json:"pruned_jobs"`
	RecoveredJobs      int64    `json:"recovered_jobs"`
	RemovedDirectories []string `json:"removed_directories"`
	EvictedCache       int64    `json:"evicted_cache"`
}

// CleanupHandler removes old queue rows, orphaned working copies and stale
// cached search responses.
type CleanupHandler struct {
	queue    QueueJanitor
	projects ProjectLister
	copies   WorkingCopyPruner
	cache    CachePruner
	cfg      CleanupConfig
	now      func() time.Time
}

// NewCleanupHandler creates the handler. cache may be nil.
func NewCleanupHandler(q QueueJanitor, projects ProjectLister, copies WorkingCopyPruner, cache CachePruner, cfg CleanupConfig) *CleanupHandler {
	if cfg.FinishedRetention <= 0 {
		cfg.FinishedRetention = DefaultFinishedRetention
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = DefaultStallAfter
	}
	if cfg.TempCloneAge <= 0 {
		cfg.TempCloneAge = DefaultTempCloneAge
	}
	if cfg.CacheRetention <= 0 {
		cfg.CacheRetention = DefaultCacheRetention
	}
	return &CleanupHandler{queue: q, projects: projects, copies: copies, cache: cache, cfg: cfg, now: time.Now}
}

func (h *CleanupHandler) Handle(ctx context.Context, _ *domain.QueueJob) (any, error) {
	now := h.now().UTC()
	res := &CleanupResult{RemovedDirectories: []string{}}

	recovered, err := h.queue.RecoverStalled(ctx, now.Add(-h.cfg.StallAfter), now)
	if err != nil {
		return nil, fmt.Errorf("recover stalled jobs: %w", err)
	}
	res.RecoveredJobs = recovered

	pruned, err := h.queue.PruneFinished(ctx, now.Add(-h.cfg.FinishedRetention))
	if err != nil {
		return nil, fmt.Errorf("prune finished jobs: %w", err)
	}
	res.PrunedJobs = pruned

	ids, err := h.projects.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	removed, err := h.copies.PruneWorkingCopies(keep, h.cfg.TempCloneAge)
	res.RemovedDirectories = append(res.RemovedDirectories, removed...)
	if err != nil {
		return nil, fmt.Errorf("prune working copies: %w", err)
	}

	if h.cache != nil {
		evicted, err := h.cache.DeleteOlderThan(ctx, now.Add(-h.cfg.CacheRetention))
		if err != nil {
			return nil, fmt.Errorf("evict search cache: %w", err)
		}
		res.EvictedCache = evicted
	}

	log.Printf("jobs: cleanup recovered=%d pruned=%d dirs=%d cache=%d",
		res.RecoveredJobs, res.PrunedJobs, len(res.RemovedDirectories), res.EvictedCache)
	return res, nil
}
