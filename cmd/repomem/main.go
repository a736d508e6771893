package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/cli"
	"github.com/cloo-solutions/repomem/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "repomem",
		Short: "repomem CLI - code memory for AI agents",
		Long: `repomem CLI talks to a repomemd server to register repositories,
queue indexing and search code and documentation memory.

Environment variables:
  REPOMEM_API_URL   API base URL (default: http://localhost:8080)
  REPOMEM_API_KEY   API key, when the server requires one
  REPOMEM_PROJECT   Default project for project-scoped commands`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	rootCmd.PersistentFlags().StringP("project", "P", "", "Project ID (overrides env and config)")
	cli.BindEnv(rootCmd, "api-key", "REPOMEM_API_KEY")
	cli.BindEnv(rootCmd, "api-url", "REPOMEM_API_URL")
	cli.BindEnv(rootCmd, "project", "REPOMEM_PROJECT")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AuthCmd())
	rootCmd.AddCommand(client.ProjectCmd())
	rootCmd.AddCommand(client.IndexCmd())
	rootCmd.AddCommand(client.JobsCmd())
	rootCmd.AddCommand(client.StatusCmd())
	rootCmd.AddCommand(client.CancelCmd())
	rootCmd.AddCommand(client.StatsCmd())
	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.MemoryCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
