package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/config"
	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/indexer"
)

// IndexCmd returns the index command
func IndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <project-id>",
		Short: "Index a project synchronously",
		Long:  "Run one indexing job in the foreground, bypassing the queue. Prints the run result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	}
	cmd.Flags().StringP("branch", "b", "", "Branch to index (default: project default branch)")
	cmd.Flags().Bool("full", false, "Force a full reindex")
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	branch, _ := cmd.Flags().GetString("branch")
	full, _ := cmd.Flags().GetBool("full")

	project, err := a.projects.GetByID(ctx, args[0])
	if err != nil {
		return err
	}
	if branch == "" {
		branch = project.DefaultBranch
	}

	job := domain.NewIndexingJob(uuid.NewString(), project.ID, branch, domain.TriggerManual, full, time.Now().UTC())
	if err := a.indexJobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	res, err := a.engine.Run(ctx, indexer.RunRequest{
		ProjectID:   project.ID,
		JobID:       job.ID,
		Branch:      branch,
		FullReindex: full,
		Trigger:     domain.TriggerManual,
	})
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
	}
	return err
}
