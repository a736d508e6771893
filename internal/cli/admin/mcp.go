package admin

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/config"
	"github.com/cloo-solutions/repomem/internal/mcp"
)

// MCPCmd returns the mcp command
func MCPCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over MCP stdio",
		Long:  "Expose search_memory, retrieve_memory, index_status and enqueue_index to MCP clients over stdin/stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol
			log.SetOutput(os.Stderr)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			a, err := newApp(context.Background(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.NewServer(version, a.search, a.memory, a.queue).Serve()
		},
	}
	return cmd
}
