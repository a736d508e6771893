package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/api/handlers"
	"github.com/cloo-solutions/repomem/internal/config"
	"github.com/cloo-solutions/repomem/internal/server"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the repomem API server on the specified port. Queue workers run in the same process unless --no-workers is set.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-workers", false, "Serve the API only; run queue workers with 'repomemd worker'")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if cmd.Flags().Changed("port") {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	a, err := newApp(ctx, cfg, !noMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	noWorkers, _ := cmd.Flags().GetBool("no-workers")
	var stopWorkers func()
	if !noWorkers {
		pool := a.startWorkers(ctx)
		stopWorkers = pool.Stop
	}

	router := server.NewRouter(server.RouterConfig{
		APIKey:          cfg.APIKey,
		MaxRequestBytes: cfg.MaxRequestBytes,
		MaxIngestBytes:  cfg.MaxIngestBytes,
		SlowRequest:     cfg.SlowRequest,
		ProjectHandler:  handlers.NewProjectHandler(a.projects, a.memory, a.queue),
		IndexingHandler: handlers.NewIndexingHandler(a.queue, a.indexJobs, a.engine),
		MemoryHandler:   handlers.NewMemoryHandler(a.memory, a.bucket),
		SearchHandler:   handlers.NewSearchHandler(a.search),
	})
	if !cfg.HasAuth() {
		log.Println("REPOMEM_API_KEY not set; the API accepts unauthenticated requests")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if stopWorkers != nil {
		stopWorkers()
	}

	log.Println("server exited")
	return nil
}
