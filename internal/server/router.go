package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/repomem/internal/api"
	"github.com/cloo-solutions/repomem/internal/api/handlers"
	"github.com/cloo-solutions/repomem/internal/api/middleware"
)

const (
	defaultMaxRequestBytes int64 = 5 << 20
	defaultMaxIngestBytes  int64 = 32 << 20
)

type RouterConfig struct {
	// APIKey enables bearer authentication when non-empty.
	APIKey string
	// MaxRequestBytes bounds JSON bodies; MaxIngestBytes bounds /memory writes.
	MaxRequestBytes int64
	MaxIngestBytes  int64
	SlowRequest     time.Duration

	ProjectHandler  *handlers.ProjectHandler
	IndexingHandler *handlers.IndexingHandler
	MemoryHandler   *handlers.MemoryHandler
	SearchHandler   *handlers.SearchHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxIngestBytes <= 0 {
		cfg.MaxIngestBytes = defaultMaxIngestBytes
	}
	jsonBody := middleware.LimitBody(cfg.MaxRequestBytes)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(middleware.AccessLogConfig{
		Quiet:         []string{"/health"},
		SlowThreshold: cfg.SlowRequest,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKey))

		r.Route("/projects", func(r chi.Router) {
			r.Use(jsonBody)
			r.Post("/", cfg.ProjectHandler.Create)
			r.Get("/", cfg.ProjectHandler.List)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", cfg.ProjectHandler.Get)
				r.Delete("/", cfg.ProjectHandler.Delete)
				r.Put("/schedule", cfg.ProjectHandler.SetSchedule)
				r.Delete("/schedule", cfg.ProjectHandler.RemoveSchedule)

				r.Post("/index", cfg.IndexingHandler.Enqueue)
				r.Get("/jobs", cfg.IndexingHandler.ListJobs)
				r.Post("/files/index", cfg.IndexingHandler.IndexFile)
				r.Post("/files/reindex", cfg.IndexingHandler.ReindexFile)

				r.Delete("/memory", cfg.MemoryHandler.DeleteProject)
			})
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Use(jsonBody)
			r.Get("/", cfg.IndexingHandler.GetJob)
			r.Post("/cancel", cfg.IndexingHandler.CancelJob)
		})
		r.Get("/queues/stats", cfg.IndexingHandler.Stats)

		r.Route("/memory", func(r chi.Router) {
			r.With(middleware.LimitBody(cfg.MaxIngestBytes)).Post("/", cfg.MemoryHandler.Ingest)
			r.Delete("/", cfg.MemoryHandler.DeleteSource)
			r.With(jsonBody).Post("/retrieve", cfg.MemoryHandler.Retrieve)
			r.With(jsonBody).Post("/ingest/bucket", cfg.MemoryHandler.IngestBucket)
		})

		r.With(jsonBody).Post("/search", cfg.SearchHandler.Search)
		r.Get("/search/suggestions", cfg.SearchHandler.Suggestions)
	})

	return r
}
