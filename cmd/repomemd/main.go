package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/cli"
	"github.com/cloo-solutions/repomem/internal/cli/admin"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "repomemd",
		Short:   "repomem daemon",
		Long:    "repomem daemon: API server, queue workers, one-shot indexing and the MCP stdio server",
		Version: version,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.WorkerCmd())
	rootCmd.AddCommand(admin.IndexCmd())
	rootCmd.AddCommand(admin.MCPCmd(version))
	rootCmd.AddCommand(admin.MigrateCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
