package admin

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/repomem/internal/config"
	"github.com/cloo-solutions/repomem/internal/database"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/gitrepo"
	"github.com/cloo-solutions/repomem/internal/indexer"
	"github.com/cloo-solutions/repomem/internal/jobs"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/openai"
	"github.com/cloo-solutions/repomem/internal/parser"
	"github.com/cloo-solutions/repomem/internal/queue"
	"github.com/cloo-solutions/repomem/internal/repository"
	"github.com/cloo-solutions/repomem/internal/search"
	"github.com/cloo-solutions/repomem/internal/storage"
	"github.com/cloo-solutions/repomem/internal/telemetry"
	"github.com/cloo-solutions/repomem/internal/vectorstore"
)

// app holds every long-lived component shared by the daemon commands.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	projects    *repository.ProjectRepository
	indexJobs   *repository.IndexingJobRepository
	queueRepo   *repository.QueueRepository
	content     *repository.ContentRepository
	searchCache *repository.SearchCacheRepository

	git      *gitrepo.Client
	memory   *memory.Gateway
	engine   *indexer.Engine
	queue    *queue.Service
	search   *search.Engine
	bucket   memory.ObjectSource
	shutdown func()
}

// unavailableEmbedder stands in when no embedding provider is configured so
// keyword search and queue management keep working.
type unavailableEmbedder struct {
	dims int
}

func (e unavailableEmbedder) Dimensions() int { return e.dims }

func (e unavailableEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, domain.ErrEmbeddingUnavailable
}

func newApp(ctx context.Context, cfg *config.Config, migrate bool) (*app, error) {
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate(),
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		shutdownTelemetry = func() {}
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
	})
	if err != nil {
		shutdownTelemetry()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("connected to database")

	if migrate {
		if err := database.Migrate(cfg.DatabaseURL, database.DefaultMigrationsSource); err != nil {
			pool.Close()
			shutdownTelemetry()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a := &app{
		cfg:         cfg,
		pool:        pool,
		projects:    repository.NewProjectRepository(pool),
		indexJobs:   repository.NewIndexingJobRepository(pool),
		queueRepo:   repository.NewQueueRepository(pool),
		content:     repository.NewContentRepository(pool),
		searchCache: repository.NewSearchCacheRepository(pool),
		git: gitrepo.NewClient(gitrepo.Timeouts{
			Clone: cfg.CloneTimeout,
			Fetch: cfg.FetchTimeout,
		}),
	}
	a.shutdown = func() {
		pool.Close()
		shutdownTelemetry()
	}

	var embedder memory.Embedder = unavailableEmbedder{dims: cfg.EmbeddingDimensions}
	if cfg.HasOpenAI() {
		embedder = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.OpenAIBaseURL,
			EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
	} else {
		log.Println("no embedding provider configured; semantic retrieval is unavailable")
	}

	store, err := openVectorStore(cfg, pool)
	if err != nil {
		a.shutdown()
		return nil, err
	}

	parsers := parser.DefaultRegistry()
	a.memory = memory.NewGateway(parser.NewFramework(parsers), embedder, store, memory.WithKeywordIndex(a.content))
	a.engine = indexer.NewEngine(indexer.Config{
		WorkDir:     cfg.WorkDir,
		MaxFileSize: cfg.MaxFileSize,
		CloneDepth:  cfg.CloneDepth,
	}, a.projects, a.indexJobs, a.memory, a.git, parsers, indexer.NewRegistry())

	a.queue = queue.NewService(
		repository.NewTxRunner(pool),
		a.indexJobs,
		a.queueRepo,
		a.projects,
		a.engine.Registry(),
		queue.Config{StallThreshold: cfg.StallThreshold},
	)

	var cache search.Cache
	switch cfg.SearchCache {
	case "lru":
		cache = search.NewLRUCache(cfg.SearchCacheSize, cfg.SearchCacheTTL)
	case "postgres":
		cache = search.NewStoreCache(a.searchCache, cfg.SearchCacheTTL)
	}
	a.search = search.NewEngine(a.memory, a.content, repository.NewQueryHistoryRepository(pool), cache)

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
			MaxObjectSize:   cfg.MaxFileSize,
		})
		if err != nil {
			a.shutdown()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			a.shutdown()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		a.bucket = s3Client
	}

	return a, nil
}

func openVectorStore(cfg *config.Config, pool *pgxpool.Pool) (vectorstore.Store, error) {
	store, err := vectorstore.Open(vectorstore.Config{
		Kind:             cfg.VectorStore,
		Table:            cfg.VectorTable,
		QdrantURL:        cfg.QdrantURL,
		QdrantAPIKey:     cfg.QdrantAPIKey,
		QdrantCollection: cfg.QdrantCollection,
	}, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	log.Printf("vector store: %s", cfg.VectorStore)
	return store, nil
}

// Close releases the database pool and flushes telemetry.
func (a *app) Close() {
	a.shutdown()
}

// newWorkerPool registers the indexing, schedule and cleanup processors.
func (a *app) newWorkerPool() *jobs.Pool {
	pool := jobs.NewPool(a.cfg.PollInterval)
	registry := a.engine.Registry()

	pool.Register(a.queueRepo,
		jobs.NewIndexingHandler(a.engine, a.indexJobs, registry),
		jobs.ProcessorConfig{Queue: domain.QueueIndexing, Concurrency: a.cfg.IndexConcurrency})
	pool.Register(a.queueRepo,
		jobs.NewScheduleHandler(a.projects, a.git, a.queue),
		jobs.ProcessorConfig{Queue: domain.QueueSchedule, Concurrency: 1})

	var cachePruner jobs.CachePruner
	if a.cfg.SearchCache == "postgres" {
		cachePruner = a.searchCache
	}
	pool.Register(a.queueRepo,
		jobs.NewCleanupHandler(a.queueRepo, a.projects, a.engine, cachePruner, jobs.CleanupConfig{
			CacheRetention: a.cfg.SearchCacheTTL,
		}),
		jobs.ProcessorConfig{Queue: domain.QueueCleanup, Concurrency: 1})

	return pool
}

// startWorkers starts the pool and installs the recurring cleanup job.
func (a *app) startWorkers(ctx context.Context) *jobs.Pool {
	pool := a.newWorkerPool()
	if _, err := a.queue.EnqueueCleanup(ctx, a.cfg.CleanupInterval); err != nil {
		log.Printf("failed to schedule cleanup: %v", err)
	}
	pool.Start(ctx)
	log.Printf("workers started (indexing concurrency %d, poll %s)", a.cfg.IndexConcurrency, a.cfg.PollInterval)
	return pool
}

const shutdownTimeout = 30 * time.Second
