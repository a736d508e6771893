package admin

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/repomem/internal/config"
	"github.com/cloo-solutions/repomem/internal/database"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			raw, _ := cmd.Flags().GetString("source")
			source, err := database.MigrationsSource(raw)
			if err != nil {
				return err
			}
			return database.Migrate(cfg.DatabaseURL, source)
		},
	}
	cmd.Flags().String("source", database.DefaultMigrationsSource, "Migrations directory or source URL")
	return cmd
}
