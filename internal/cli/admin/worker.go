package admin

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/config"
)

// WorkerCmd returns the worker command
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queue workers without the API server",
		RunE:  runWorker,
	}
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	a, err := newApp(ctx, cfg, !noMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	pool := a.startWorkers(ctx)
	<-ctx.Done()

	log.Println("stopping workers...")
	pool.Stop()
	log.Println("workers exited")
	return nil
}
