package cmd

import (
	"context"
	"fmt"
	"taskqueue/internal/config"
	"taskqueue/internal/infra/postgres"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Run PostgreSQL task store migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if cfg.Store.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			db, err := postgres.Open(context.Background(), cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			return postgres.Migrate(db, args[0])
		},
	}

	return command
}
